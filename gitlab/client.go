package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/tidwall/gjson"

	"gitlaber/types"
)

// DefaultTimeout bounds a single remote call; the workflows themselves add none
const DefaultTimeout = 15 * time.Second

var (
	// ErrNoToken is returned when neither the context nor the client carries a token
	ErrNoToken = errors.New("no GitLab access token available")
)

// API is the remote surface consumed by the provisioning workflows
type API interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error)
	Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error)
	Delete(ctx context.Context, path string) (json.RawMessage, error)
}

type tokenContextKey struct{}

// WithToken returns a context carrying the caller's access token
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the access token stored by WithToken
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

// Client represents a GitLab API client
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a new GitLab API client rooted at baseURL (for example
// https://gitlab.example.com/api/v3). token is the fallback credential used
// when a request context carries none; it may be empty.
func NewClient(baseURL, token string, opts ...Option) *Client {
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = DefaultTimeout
	c := &Client{
		httpClient: hc,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) tokenFor(ctx context.Context) (string, error) {
	if token, ok := TokenFromContext(ctx); ok {
		return token, nil
	}
	if c.token != "" {
		return c.token, nil
	}
	return "", ErrNoToken
}

// doRequest performs an HTTP request with GitLab authentication
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	token, err := c.tokenFor(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// do issues the request and accepts exactly one success status
func (c *Client) do(ctx context.Context, method, path string, body interface{}, expected int) (json.RawMessage, error) {
	start := time.Now()
	resp, err := c.doRequest(ctx, method, path, body)
	RemoteRequestDurationSeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		RemoteRequestsTotal.WithLabelValues(method, "error").Inc()
		if errors.Is(err, ErrNoToken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to %s %s: %w", transportVerb(method), c.baseURL+path, err)
	}
	defer resp.Body.Close()

	RemoteRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	LogDebug("%s %s -> %d", method, path, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", c.baseURL+path, err)
	}

	if resp.StatusCode != expected {
		return nil, ParseErrorResponse(resp.StatusCode, data, method, path)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("failed to decode response from %s %s", method, path)
	}
	return json.RawMessage(data), nil
}

func transportVerb(method string) string {
	switch method {
	case http.MethodGet:
		return "get a response from"
	case http.MethodPost:
		return "post data at"
	case http.MethodPut:
		return "update data at"
	case http.MethodDelete:
		return "delete data from"
	}
	return strings.ToLower(method)
}

// Get sends an authenticated GET; success is 200
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil, http.StatusOK)
}

// Post sends an authenticated POST; success is 201. body may be nil.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body, http.StatusCreated)
}

// Put sends an authenticated PUT; success is 200
func (c *Client) Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, path, body, http.StatusOK)
}

// Delete sends an authenticated DELETE; success is 200
func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, path, nil, http.StatusOK)
}

// CurrentUser returns the user owning the request's token
func (c *Client) CurrentUser(ctx context.Context) (*types.GitLabUser, error) {
	raw, err := c.Get(ctx, "/user")
	if err != nil {
		return nil, err
	}
	user, err := Decode[types.GitLabUser](raw)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Decode unmarshals a payload into T
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("failed to decode GitLab payload: %w", err)
	}
	return v, nil
}

// ParseErrorResponse builds the error for a non-success response. The
// message is the body's "message" field when present, else the raw body.
func ParseErrorResponse(statusCode int, body []byte, method, path string) *types.GitLabAPIError {
	raw := strings.TrimSpace(string(body))
	message := raw
	if gjson.Valid(raw) {
		if m := gjson.Get(raw, "message"); m.Exists() {
			if m.Type == gjson.String {
				message = m.String()
			} else {
				message = m.Raw
			}
		}
	}
	if message == "" {
		message = fmt.Sprintf("GitLab API returned status code %d", statusCode)
	}

	apiError := &types.GitLabAPIError{
		StatusCode:  statusCode,
		Message:     message,
		Remediation: remediationFor(statusCode),
		RawError:    raw,
		Method:      method,
		Path:        RedactToken(path),
	}
	return apiError
}

// remediationFor maps HTTP status codes to actionable guidance
func remediationFor(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Please log in again, the GitLab token is invalid or expired"
	case http.StatusForbidden:
		return "Ensure the token belongs to an administrator with the api scope"
	case http.StatusNotFound:
		return "Verify the resource exists and the token can see it"
	case http.StatusConflict, http.StatusBadRequest:
		return "Check the request values, the resource may already exist"
	case http.StatusTooManyRequests:
		return "Please wait a few minutes before retrying"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "GitLab API is experiencing issues, please try again in a few minutes"
	}
	return "Please check your request and try again"
}

// IsStatus reports whether err is a GitLab API error with the given status
func IsStatus(err error, statusCode int) bool {
	var apiErr *types.GitLabAPIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == statusCode
}
