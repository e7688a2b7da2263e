// Package cmd is the gitlaber command line: the web server plus one-shot
// provisioning and lookup commands against a GitLab API.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gitlaber/config"
	"gitlaber/gitlab"
	"gitlaber/provisioning"
)

type app struct {
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Execute runs the root command with the process streams
func Execute() error {
	return NewRootCommand(os.Stdin, os.Stdout, os.Stderr).Execute()
}

// NewRootCommand builds the command tree. Configuration comes from the
// environment (and .env) and may be overridden by flags.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		cfg:    config.Load(),
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "gitlaber",
		Short:         "Provision GitLab projects and per-user environments",
		Long:          "gitlaber creates and deletes team projects, user forks, user branches and memberships on a GitLab instance, from a web UI or the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.GitLabURL = strings.TrimSuffix(a.cfg.GitLabURL, "/")
			return gitlab.ConfigureLogging(a.cfg.LogLevel, a.cfg.LogFormat)
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfg.GitLabURL, "gitlab-url", a.cfg.GitLabURL, "GitLab base URL (GITLAB_URL)")
	flags.StringVar(&a.cfg.APIPrefix, "api-prefix", a.cfg.APIPrefix, "API path prefix (GITLAB_API_PREFIX)")
	flags.StringVar(&a.cfg.Token, "token", a.cfg.Token, "GitLab access token for CLI commands (GITLAB_TOKEN)")
	flags.IntVar(&a.cfg.PageSize, "page-size", a.cfg.PageSize, "items requested per page when enumerating")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "debug, info, warn or error")
	flags.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "text or json")

	cmd.AddCommand(
		newServeCmd(a),
		newUsersCmd(a),
		newGroupsCmd(a),
		newProjectsCmd(a),
		newBranchesCmd(a),
		newProjectCmd(a),
		newEnvCmd(a),
	)
	return cmd
}

// service builds a provisioning service authenticated with the CLI token
func (a *app) service() (*provisioning.Service, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	if a.cfg.Token == "" {
		return nil, fmt.Errorf("a GitLab token is required: pass --token or set GITLAB_TOKEN")
	}
	client := gitlab.NewClient(a.cfg.APIURL(), a.cfg.Token, gitlab.WithTimeout(a.cfg.Timeout()))
	return provisioning.NewService(client, a.cfg.PageSize), nil
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
