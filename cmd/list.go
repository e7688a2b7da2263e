package cmd

import (
	"github.com/spf13/cobra"
)

func newUsersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List every user sorted by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			users, err := svc.EnumerateUsers(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(users)
		},
	}
}

func newGroupsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List every group sorted by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			groups, err := svc.EnumerateGroups(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(groups)
		},
	}
}

func newProjectsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "projects [group]",
		Short: "List every project, or the project names of one group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				names, err := svc.ProjectsInGroup(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printJSON(names)
			}
			projects, err := svc.EnumerateProjects(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(projects)
		},
	}
}

func newBranchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "branches <namespace/project>",
		Short: "List the branch names of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			branches, err := svc.ProjectBranches(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(branches)
		},
	}
}
