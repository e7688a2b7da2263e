package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"gitlaber/auth"
	"gitlaber/config"
	"gitlaber/gitlab"
	"gitlaber/handlers"
	"gitlaber/k8s"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web UI and JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateServer(); err != nil {
				return err
			}

			tokens, err := a.tokenStore()
			if err != nil {
				return err
			}
			sessions, err := auth.NewSessions(a.cfg.SecretKey, a.cfg.SessionTTL())
			if err != nil {
				return err
			}
			oauth := auth.NewOAuth(a.cfg.GitLabURL, a.cfg.AppID, a.cfg.AppSecret, a.cfg.RedirectURL)
			client := gitlab.NewClient(a.cfg.APIURL(), "", gitlab.WithTimeout(a.cfg.Timeout()))

			server := handlers.NewServer(a.cfg, client, sessions, oauth, tokens)
			addr := fmt.Sprintf(":%d", a.cfg.Port)
			gitlab.LogInfo("Server starting on %s for %s (token store: %s)", addr, a.cfg.GitLabURL, a.cfg.TokenStore)
			return server.Router().Run(addr)
		},
	}
	cmd.Flags().IntVar(&a.cfg.Port, "port", a.cfg.Port, "listen port (PORT)")
	cmd.Flags().StringVar(&a.cfg.TokenStore, "token-store", a.cfg.TokenStore, `where GitLab tokens are kept: "session" or "secret" (TOKEN_STORE)`)
	return cmd
}

func (a *app) tokenStore() (auth.TokenStore, error) {
	if a.cfg.TokenStore != config.TokenStoreSecret {
		return auth.SessionTokenStore{}, nil
	}
	clientset, err := config.NewKubeClient(a.cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Kubernetes client: %w", err)
	}
	return auth.NewSecretTokenStore(k8s.NewTokenSecrets(clientset, a.cfg.Namespace)), nil
}
