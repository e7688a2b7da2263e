package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// OAuth runs the GitLab authorization code flow
type OAuth struct {
	config *oauth2.Config
}

// NewOAuth configures the flow against the GitLab instance at gitlabURL
func NewOAuth(gitlabURL, clientID, clientSecret, redirectURL string) *OAuth {
	return &OAuth{config: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  gitlabURL + "/oauth/authorize",
			TokenURL: gitlabURL + "/oauth/token",
		},
		Scopes: []string{"api"},
	}}
}

// HasRedirectURL reports whether a callback URL is configured
func (o *OAuth) HasRedirectURL() bool {
	return o.config.RedirectURL != ""
}

func (o *OAuth) options(redirectURL string) []oauth2.AuthCodeOption {
	if o.config.RedirectURL == "" && redirectURL != "" {
		return []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("redirect_uri", redirectURL)}
	}
	return nil
}

// AuthCodeURL returns the authorize URL. redirectURL is used when none is configured.
func (o *OAuth) AuthCodeURL(state, redirectURL string) string {
	opts := append([]oauth2.AuthCodeOption{oauth2.AccessTypeOnline}, o.options(redirectURL)...)
	return o.config.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for an access token
func (o *OAuth) Exchange(ctx context.Context, code, redirectURL string) (string, error) {
	tok, err := o.config.Exchange(ctx, code, o.options(redirectURL)...)
	if err != nil {
		return "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok.AccessToken, nil
}

// NewState returns a random state nonce
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
