package k8s

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	// UserTokensSecretName is the name of the secret storing GitLab access tokens
	UserTokensSecretName = "gitlaber-user-tokens"
)

// TokenSecrets keeps one GitLab access token per user in a single Secret
type TokenSecrets struct {
	clientset kubernetes.Interface
	namespace string
}

// NewTokenSecrets returns a store writing to namespace
func NewTokenSecrets(clientset kubernetes.Interface, namespace string) *TokenSecrets {
	return &TokenSecrets{clientset: clientset, namespace: namespace}
}

// Store saves the token of userID, creating the secret on first use
func (s *TokenSecrets) Store(ctx context.Context, userID, token string) error {
	secretsClient := s.clientset.CoreV1().Secrets(s.namespace)

	secret, err := secretsClient.Get(ctx, UserTokensSecretName, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		secret = &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:      UserTokensSecretName,
				Namespace: s.namespace,
				Labels:    map[string]string{"app.kubernetes.io/managed-by": "gitlaber"},
			},
			Type: corev1.SecretTypeOpaque,
			Data: map[string][]byte{
				userID: []byte(token),
			},
		}

		if _, err = secretsClient.Create(ctx, secret, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create GitLab tokens secret: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to get GitLab tokens secret: %w", err)
	}

	if secret.Data == nil {
		secret.Data = make(map[string][]byte)
	}
	secret.Data[userID] = []byte(token)

	if _, err = secretsClient.Update(ctx, secret, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update GitLab tokens secret: %w", err)
	}
	return nil
}

// Get returns the token of userID; found is false when none is stored
func (s *TokenSecrets) Get(ctx context.Context, userID string) (token string, found bool, err error) {
	secret, err := s.clientset.CoreV1().Secrets(s.namespace).Get(ctx, UserTokensSecretName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get GitLab tokens secret: %w", err)
	}

	tokenBytes, exists := secret.Data[userID]
	if !exists {
		return "", false, nil
	}
	return string(tokenBytes), true, nil
}

// Delete removes the token of userID
func (s *TokenSecrets) Delete(ctx context.Context, userID string) error {
	secretsClient := s.clientset.CoreV1().Secrets(s.namespace)

	secret, err := secretsClient.Get(ctx, UserTokensSecretName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil // Already doesn't exist
		}
		return fmt.Errorf("failed to get GitLab tokens secret: %w", err)
	}

	if _, ok := secret.Data[userID]; !ok {
		return nil
	}
	delete(secret.Data, userID)

	if _, err = secretsClient.Update(ctx, secret, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update GitLab tokens secret: %w", err)
	}
	return nil
}
