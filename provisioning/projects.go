package provisioning

import (
	"context"
	"fmt"
	"net/url"

	"gitlaber/gitlab"
	"gitlaber/types"
)

// ManageProject creates or deletes the group project described by req.
//
// create makes the group project, grants the user membership when they are
// not in the group already, and gives the user a personal copy: a native
// fork, or for imported projects a second import linked by a fork relation.
// delete removes the group project and, with DeleteUserFork, the user's
// copy. Missing or already-present projects are logged under "Error" and
// end the workflow without mutations. A remote failure returns a
// *StepError holding the partial log.
func (s *Service) ManageProject(ctx context.Context, req types.ProvisioningRequest) (*types.OperationResult, error) {
	result := types.NewOperationResult()
	if err := s.manageProject(ctx, req, result); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) manageProject(ctx context.Context, req types.ProvisioningRequest, result *types.OperationResult) error {
	w := &workflow{name: workflowProject, result: result}
	switch req.Action {
	case types.ProjectActionCreate:
		return s.createProject(ctx, w, req)
	case types.ProjectActionDelete:
		return s.deleteProject(ctx, w, req)
	}
	return nil
}

func (s *Service) createProject(ctx context.Context, w *workflow, req types.ProvisioningRequest) error {
	path := req.Path()
	username := req.User.Username

	_, err := s.resolver.ProjectByPath(ctx, path)
	if err == nil {
		w.softError("Project %s already exists", path)
		return nil
	}
	if !isNotFound(err) {
		return w.fail("Resolve project "+path, err)
	}

	group, err := s.resolver.GroupByName(ctx, req.Group)
	if err != nil {
		if isNotFound(err) {
			w.softError("Group %s not found", req.Group)
			return nil
		}
		return w.fail("Resolve group "+req.Group, err)
	}
	isMember, err := s.resolver.MemberOfGroup(ctx, req.Group, username)
	if err != nil {
		return w.fail(fmt.Sprintf("Resolve membership of %s in %s", username, req.Group), err)
	}

	createLabel := fmt.Sprintf("Create new project %s in %s for %s", req.ProjectName, req.Group, username)
	body := map[string]interface{}{
		"name":         req.ProjectName,
		"namespace_id": group.ID,
	}
	if req.ImportURL != "" {
		gitlab.LogDebug("[%s] importing %s from %s", w.name, path, gitlab.RedactURL(req.ImportURL))
		body["import_url"] = req.ImportURL
	}
	created, err := s.api.Post(ctx, projectsPath, body)
	if err != nil {
		return w.fail(createLabel, err)
	}
	w.record(createLabel, created)
	projectID, err := payloadID(created)
	if err != nil {
		return w.fail(createLabel, err)
	}

	if !isMember {
		memberLabel := fmt.Sprintf("Add member %s on project %s", username, path)
		member, err := s.api.Post(ctx, fmt.Sprintf(projectMembersPath, projectID), map[string]interface{}{
			"id":           projectID,
			"user_id":      req.User.ID,
			"access_level": int(req.Access),
		})
		if err != nil {
			return w.fail(memberLabel, err)
		}
		w.record(memberLabel, member)
	}

	if req.ImportURL == "" {
		forkLabel := fmt.Sprintf("Fork project %s in namespace %s", path, username)
		fork, err := s.api.Post(ctx, fmt.Sprintf(nativeForkPath, projectID, url.QueryEscape(username)), nil)
		if err != nil {
			return w.fail(forkLabel, err)
		}
		w.record(forkLabel, fork)
		return nil
	}

	// imported projects cannot be forked natively
	userProjectLabel := fmt.Sprintf("Create new project %s for %s from %s import", req.ProjectName, username, path)
	userProject, err := s.api.Post(ctx, fmt.Sprintf(userProjectsPath, url.QueryEscape(username)), map[string]interface{}{
		"name":       req.ProjectName,
		"import_url": req.ImportURL,
	})
	if err != nil {
		return w.fail(userProjectLabel, err)
	}
	w.record(userProjectLabel, userProject)
	userProjectID, err := payloadID(userProject)
	if err != nil {
		return w.fail(userProjectLabel, err)
	}

	relationLabel := fmt.Sprintf("Create fork relation from project %s to %s", req.UserForkPath(), path)
	relation, err := s.api.Post(ctx, fmt.Sprintf(forkRelationPath, userProjectID, projectID), nil)
	if err != nil {
		return w.fail(relationLabel, err)
	}
	w.record(relationLabel, relation)
	return nil
}

func (s *Service) deleteProject(ctx context.Context, w *workflow, req types.ProvisioningRequest) error {
	username := req.User.Username
	label := fmt.Sprintf("Delete project %s in %s for %s", req.ProjectName, req.Group, username)
	if err := s.deleteByPath(ctx, w, req.Path(), label); err != nil {
		return err
	}
	if !req.DeleteUserFork {
		return nil
	}
	label = fmt.Sprintf("Delete project %s in %s forked from %s", req.ProjectName, username, req.Group)
	return s.deleteByPath(ctx, w, req.UserForkPath(), label)
}

func (s *Service) deleteByPath(ctx context.Context, w *workflow, path, label string) error {
	project, err := s.resolver.ProjectByPath(ctx, path)
	if err != nil {
		if isNotFound(err) {
			w.softError("Project %s not found", path)
			return nil
		}
		return w.fail("Resolve project "+path, err)
	}
	deleted, err := s.api.Delete(ctx, fmt.Sprintf(projectPath, project.ID))
	if err != nil {
		return w.fail(label, err)
	}
	w.record(label, deleted)
	return nil
}
