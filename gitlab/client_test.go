package gitlab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlaber/internal/gitlabtest"
	"gitlaber/types"
)

func TestClientUsesContextTokenBeforeClientToken(t *testing.T) {
	fake := gitlabtest.New(t)
	fake.Token = "request-token"

	client := NewClient(fake.APIURL(), "fallback-token")

	_, err := client.Get(context.Background(), "/user")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	user, err := client.CurrentUser(WithToken(context.Background(), "request-token"))
	require.NoError(t, err)
	assert.Equal(t, "root", user.Username)
	assert.True(t, user.IsAdmin)
}

func TestClientWithoutTokenFailsBeforeRequest(t *testing.T) {
	fake := gitlabtest.New(t)
	client := NewClient(fake.APIURL(), "")

	_, err := client.Get(context.Background(), "/users")
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Empty(t, fake.Calls())
}

func TestClientRequiresExactSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// every verb answers 200, so only GET/PUT/DELETE succeed
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()
	client := NewClient(server.URL, "token")
	ctx := context.Background()

	_, err := client.Get(ctx, "/x")
	assert.NoError(t, err)
	_, err = client.Put(ctx, "/x", map[string]string{"a": "b"})
	assert.NoError(t, err)
	_, err = client.Delete(ctx, "/x")
	assert.NoError(t, err)

	_, err = client.Post(ctx, "/x", nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusOK))
}

func TestClientErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"string message", http.StatusNotFound, `{"message": "404 Project Not Found"}`, "404 Project Not Found"},
		{"object message", http.StatusBadRequest, `{"message": {"name": ["has already been taken"]}}`, `{"name": ["has already been taken"]}`},
		{"no message field", http.StatusForbidden, `{"error": "insufficient_scope"}`, `{"error": "insufficient_scope"}`},
		{"plain body", http.StatusBadGateway, "upstream unavailable", "upstream unavailable"},
		{"empty body", http.StatusInternalServerError, "", "GitLab API returned status code 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := gitlabtest.New(t)
			fake.FailRawOn(http.MethodGet, "/groups", tt.status, tt.body)
			client := NewClient(fake.APIURL(), "token")

			_, err := client.Get(context.Background(), "/groups")
			var apiErr *types.GitLabAPIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.message, err.Error())
			assert.NotEmpty(t, apiErr.Remediation)
			assert.Equal(t, http.MethodGet, apiErr.Method)
		})
	}
}

func TestClientTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, "token")
	_, err := client.Get(context.Background(), "/users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get a response from "+url+"/users")

	var apiErr *types.GitLabAPIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestClientRejectsUndecodablePayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "token").Get(context.Background(), "/users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestClientSendsJSONBody(t *testing.T) {
	fake := gitlabtest.New(t)
	group := fake.AddGroup("teams")
	client := NewClient(fake.APIURL(), "token")

	raw, err := client.Post(context.Background(), "/projects", map[string]interface{}{
		"name":         "demo",
		"namespace_id": group.ID,
	})
	require.NoError(t, err)

	project, err := Decode[types.GitLabProject](raw)
	require.NoError(t, err)
	assert.Equal(t, "teams/demo", project.PathWithNamespace)
}
