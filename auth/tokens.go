package auth

import (
	"context"
	"errors"
	"strconv"

	"gitlaber/k8s"
)

// ErrNoStoredToken is returned when a session has no GitLab token
var ErrNoStoredToken = errors.New("no GitLab token stored for session")

// TokenStore keeps the GitLab access token of a session
type TokenStore interface {
	// Put stores token for the session; it may write into claims, which
	// are signed afterwards
	Put(ctx context.Context, claims *Claims, token string) error
	Get(ctx context.Context, claims *Claims) (string, error)
	Delete(ctx context.Context, claims *Claims) error
}

// SessionTokenStore keeps the token inside the signed session itself
type SessionTokenStore struct{}

func (SessionTokenStore) Put(_ context.Context, claims *Claims, token string) error {
	claims.AccessToken = token
	return nil
}

func (SessionTokenStore) Get(_ context.Context, claims *Claims) (string, error) {
	if claims.AccessToken == "" {
		return "", ErrNoStoredToken
	}
	return claims.AccessToken, nil
}

func (SessionTokenStore) Delete(_ context.Context, claims *Claims) error {
	claims.AccessToken = ""
	return nil
}

// SecretTokenStore keeps tokens in a Kubernetes Secret keyed by user id;
// the session only carries the id
type SecretTokenStore struct {
	secrets *k8s.TokenSecrets
}

// NewSecretTokenStore wraps a Secret-backed token store
func NewSecretTokenStore(secrets *k8s.TokenSecrets) *SecretTokenStore {
	return &SecretTokenStore{secrets: secrets}
}

func (s *SecretTokenStore) Put(ctx context.Context, claims *Claims, token string) error {
	return s.secrets.Store(ctx, strconv.Itoa(claims.UserID), token)
}

func (s *SecretTokenStore) Get(ctx context.Context, claims *Claims) (string, error) {
	token, found, err := s.secrets.Get(ctx, strconv.Itoa(claims.UserID))
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNoStoredToken
	}
	return token, nil
}

func (s *SecretTokenStore) Delete(ctx context.Context, claims *Claims) error {
	return s.secrets.Delete(ctx, strconv.Itoa(claims.UserID))
}
