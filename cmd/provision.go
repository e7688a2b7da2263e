package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"gitlaber/provisioning"
	"gitlaber/types"
)

type projectOptions struct {
	user           string
	group          string
	name           string
	access         string
	importURL      string
	deleteUserFork bool
}

func newProjectCmd(a *app) *cobra.Command {
	o := &projectOptions{}
	cmd := &cobra.Command{
		Use:   "project create|delete",
		Short: "Create or delete a team project and the user's fork",
		Long: `Create a project in a group, add the user as a member when the user is
not in the group, and fork it into the user's namespace. With --import-url
the project and the user's copy are imported and linked by a fork relation.

Delete removes the group project and, with --delete-user-fork, the user's fork.

Examples:

  gitlaber project create --user alice,42 --group teams --name demo --access 30
  gitlaber project delete --user alice,42 --group teams --name demo --delete-user-fork`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(types.ProjectActionCreate), string(types.ProjectActionDelete)},
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := o.request(args[0])
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			result, err := svc.ManageProject(cmd.Context(), req)
			return a.report(result, err)
		},
	}
	cmd.Flags().StringVar(&o.user, "user", "", "acting user as username,user_id")
	cmd.Flags().StringVar(&o.group, "group", "", "group owning the project")
	cmd.Flags().StringVar(&o.name, "name", "", "project name")
	cmd.Flags().StringVar(&o.access, "access", "", "access level granted to a user outside the group")
	cmd.Flags().StringVar(&o.importURL, "import-url", "", "repository to import the project from")
	cmd.Flags().BoolVar(&o.deleteUserFork, "delete-user-fork", false, "also delete the user's fork on delete")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (o *projectOptions) request(rawAction string) (types.ProvisioningRequest, error) {
	action, err := provisioning.ParseProjectAction(rawAction)
	if err != nil {
		return types.ProvisioningRequest{}, err
	}
	if action == types.ProjectActionNone {
		return types.ProvisioningRequest{}, errors.New("action must be create or delete")
	}
	user, err := types.ParseUserRef(o.user)
	if err != nil {
		return types.ProvisioningRequest{}, err
	}
	access, err := types.ParseAccessLevel(o.access)
	if err != nil {
		return types.ProvisioningRequest{}, err
	}
	return types.ProvisioningRequest{
		User:           user,
		ProjectName:    o.name,
		Group:          o.group,
		Access:         access,
		Action:         action,
		ImportURL:      o.importURL,
		DeleteUserFork: types.Flag(o.deleteUserFork),
	}, nil
}

func newEnvCmd(a *app) *cobra.Command {
	var user, file string
	cmd := &cobra.Command{
		Use:   "env create|delete",
		Short: "Create or delete the user's branch and membership on a list of projects",
		Long: `Read a YAML or JSON list of projects and create or delete the user's
environment on each: a branch named after the user, cut from the given
branch, and a project membership at the given access level.

  - group: teams
    name: demo
    branch: master
    access: 30

Use "-f -" to read the list from stdin.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(types.EnvActionCreate), string(types.EnvActionDelete)},
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := provisioning.ParseEnvAction(args[0])
			if err != nil {
				return err
			}
			ref, err := types.ParseUserRef(user)
			if err != nil {
				return err
			}
			projects, err := a.readProjects(file)
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			result, err := svc.ManageUserEnv(cmd.Context(), ref, projects, action)
			return a.report(result, err)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "acting user as username,user_id")
	cmd.Flags().StringVarP(&file, "filename", "f", "", "project list file, or - for stdin")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("filename")
	return cmd
}

func (a *app) readProjects(file string) (types.EnvironmentProjects, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(a.stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project list: %w", err)
	}

	var projects types.EnvironmentProjects
	if err := yaml.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse project list: %w", err)
	}
	for i, p := range projects {
		if p.Group == "" || p.Name == "" {
			return nil, fmt.Errorf("project %d: group and name are required", i+1)
		}
	}
	return projects, nil
}

// report prints the result log. A failed step prints the partial log first
// and returns the error so the process exits non-zero.
func (a *app) report(result *types.OperationResult, err error) error {
	if result != nil {
		if perr := a.printJSON(result); perr != nil {
			return perr
		}
	}
	var stepErr *provisioning.StepError
	if errors.As(err, &stepErr) {
		return fmt.Errorf("step %q failed: %w", stepErr.Step, stepErr.Err)
	}
	return err
}
