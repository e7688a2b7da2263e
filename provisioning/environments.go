package provisioning

import (
	"context"
	"fmt"
	"net/url"

	"gitlaber/types"
)

// ManageUserEnv creates or deletes the user's environment on every listed
// project: a branch named after the user plus a project membership. An
// unknown project is logged and skipped; a remote failure aborts the rest
// of the batch with a *StepError.
func (s *Service) ManageUserEnv(ctx context.Context, user types.UserRef, projects []types.EnvironmentProject, action types.EnvAction) (*types.OperationResult, error) {
	result := types.NewOperationResult()
	if err := s.manageUserEnv(ctx, user, projects, action, result); err != nil {
		return result, err
	}
	return result, nil
}

type envStep struct {
	project     *types.GitLabProject
	target      types.EnvironmentProject
	user        types.UserRef
	inGroup     bool
	branchLabel string
	memberLabel string
}

func (s *Service) manageUserEnv(ctx context.Context, user types.UserRef, projects []types.EnvironmentProject, action types.EnvAction, result *types.OperationResult) error {
	w := &workflow{name: workflowEnv, result: result}
	for _, target := range projects {
		path := target.Path()
		project, err := s.resolver.ProjectByPath(ctx, path)
		if err != nil {
			if isNotFound(err) {
				w.softError("Project %s not found", path)
				continue
			}
			return w.fail("Resolve project "+path, err)
		}
		inGroup, err := s.resolver.MemberOfGroup(ctx, target.Group, user.Username)
		if err != nil {
			return w.fail(fmt.Sprintf("Resolve membership of %s in %s", user.Username, target.Group), err)
		}

		step := envStep{
			project:     project,
			target:      target,
			user:        user,
			inGroup:     inGroup,
			branchLabel: fmt.Sprintf("%s branch %s in project %s", action, user.Username, target.Name),
			memberLabel: fmt.Sprintf("%s member %s on project %s", action, user.Username, target.Name),
		}
		switch action {
		case types.EnvActionCreate:
			err = s.createEnv(ctx, w, step)
		case types.EnvActionDelete:
			err = s.deleteEnv(ctx, w, step)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) hasBranch(ctx context.Context, w *workflow, step envStep) (bool, error) {
	branches, err := s.resolver.ProjectBranchList(ctx, step.project.ID)
	if err != nil {
		return false, w.fail(step.branchLabel, err)
	}
	_, ok := Find(branches, func(b types.GitLabBranch) bool { return b.Name == step.user.Username })
	return ok, nil
}

func (s *Service) projectMember(ctx context.Context, w *workflow, step envStep) (types.GitLabMember, bool, error) {
	members, err := s.resolver.ProjectMembers(ctx, step.project.ID)
	if err != nil {
		return types.GitLabMember{}, false, w.fail(step.memberLabel, err)
	}
	m, ok := Find(members, func(m types.GitLabMember) bool { return m.ID == step.user.ID })
	return m, ok, nil
}

func (s *Service) createEnv(ctx context.Context, w *workflow, step envStep) error {
	exists, err := s.hasBranch(ctx, w, step)
	if err != nil {
		return err
	}
	if step.target.Branch != "" && !exists {
		branch, err := s.api.Post(ctx, fmt.Sprintf(branchesPath, step.project.ID), map[string]interface{}{
			"id":          step.project.ID,
			"branch_name": step.user.Username,
			"ref":         step.target.Branch,
		})
		if err != nil {
			return w.fail(step.branchLabel, err)
		}
		w.record(step.branchLabel, branch)
	} else {
		w.nothing(step.branchLabel)
	}

	if !step.target.Access.IsSet() {
		w.nothing(step.memberLabel)
		return nil
	}
	// an existing membership logs nothing, unlike the other steps
	if step.inGroup {
		return nil
	}
	_, present, err := s.projectMember(ctx, w, step)
	if err != nil || present {
		return err
	}
	member, err := s.api.Post(ctx, fmt.Sprintf(projectMembersPath, step.project.ID), map[string]interface{}{
		"id":           step.project.ID,
		"user_id":      step.user.ID,
		"access_level": int(step.target.Access),
	})
	if err != nil {
		return w.fail(step.memberLabel, err)
	}
	w.record(step.memberLabel, member)
	return nil
}

func (s *Service) deleteEnv(ctx context.Context, w *workflow, step envStep) error {
	exists, err := s.hasBranch(ctx, w, step)
	if err != nil {
		return err
	}
	if exists {
		deleted, err := s.api.Delete(ctx, fmt.Sprintf(branchPath, step.project.ID, url.PathEscape(step.user.Username)))
		if err != nil {
			return w.fail(step.branchLabel, err)
		}
		w.record(step.branchLabel, deleted)
	} else {
		w.nothing(step.branchLabel)
	}

	member, present, err := s.projectMember(ctx, w, step)
	if err != nil {
		return err
	}
	if !present {
		w.nothing(step.memberLabel)
		return nil
	}
	deleted, err := s.api.Delete(ctx, fmt.Sprintf(projectMemberPath, step.project.ID, member.ID))
	if err != nil {
		return w.fail(step.memberLabel, err)
	}
	w.record(step.memberLabel, deleted)
	return nil
}
