// Package provisioning runs the project lifecycle and user environment
// workflows against a GitLab instance. Each workflow resolves current
// remote state, issues a fixed sequence of calls and records every step in
// an ordered result log.
package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"gitlaber/gitlab"
	"gitlaber/types"
)

const (
	workflowProject = "manage_project"
	workflowEnv     = "manage_user_env"
)

// Service exposes the enumerations and workflows used by the HTTP and CLI
// surfaces
type Service struct {
	api      gitlab.API
	resolver *Resolver
}

// NewService creates a service over api, listing perPage items per request
func NewService(api gitlab.API, perPage int) *Service {
	return &Service{api: api, resolver: NewResolver(api, perPage)}
}

// Resolver returns the lookup helper the workflows use
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// EnumerateUsers lists all users sorted by name
func (s *Service) EnumerateUsers(ctx context.Context) ([]types.GitLabUser, error) {
	return s.resolver.Users(ctx)
}

// EnumerateGroups lists all groups sorted by name
func (s *Service) EnumerateGroups(ctx context.Context) ([]types.GitLabGroup, error) {
	return s.resolver.Groups(ctx)
}

// EnumerateProjects lists all projects sorted by name
func (s *Service) EnumerateProjects(ctx context.Context) ([]types.GitLabProject, error) {
	return s.resolver.Projects(ctx)
}

// ProjectBranches lists the branch names of the project at path
func (s *Service) ProjectBranches(ctx context.Context, path string) ([]string, error) {
	return s.resolver.ProjectBranches(ctx, path)
}

// ProjectsInGroup lists the project names of a group
func (s *Service) ProjectsInGroup(ctx context.Context, group string) ([]string, error) {
	return s.resolver.ProjectsInGroup(ctx, group)
}

// Outcome holds the logs of both workflows run by Provision
type Outcome struct {
	ManageProject *types.OperationResult `json:"manage_project"`
	ManageUserEnv *types.OperationResult `json:"manage_user_env"`
}

// Observer is notified of every entry as it is logged
type Observer func(workflow string, entry types.ResultEntry)

// Provision runs ManageProject and then ManageUserEnv for the same user. A
// fatal failure in the project workflow skips the environment workflow.
func (s *Service) Provision(ctx context.Context, req types.ProvisioningRequest, observe Observer) (*Outcome, error) {
	out := &Outcome{
		ManageProject: types.NewOperationResult(),
		ManageUserEnv: types.NewOperationResult(),
	}
	if observe != nil {
		out.ManageProject.OnAppend(func(e types.ResultEntry) { observe(workflowProject, e) })
		out.ManageUserEnv.OnAppend(func(e types.ResultEntry) { observe(workflowEnv, e) })
	}
	if err := s.manageProject(ctx, req, out.ManageProject); err != nil {
		return out, err
	}
	if err := s.manageUserEnv(ctx, req.User, req.Projects, req.EnvAction, out.ManageUserEnv); err != nil {
		return out, err
	}
	return out, nil
}

// workflow records steps into a result log
type workflow struct {
	name   string
	result *types.OperationResult
}

func (w *workflow) record(label string, payload json.RawMessage) {
	gitlab.LogInfo("[%s] %s", w.name, label)
	gitlab.WorkflowStepsTotal.WithLabelValues(w.name, "applied").Inc()
	w.result.Append(label, payload)
}

func (w *workflow) nothing(label string) {
	gitlab.LogInfo("[%s] %s: %s", w.name, label, types.NothingToDo)
	gitlab.WorkflowStepsTotal.WithLabelValues(w.name, "skipped").Inc()
	w.result.AppendMessage(label, types.NothingToDo)
}

func (w *workflow) softError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	gitlab.LogWarning("[%s] %s", w.name, msg)
	gitlab.WorkflowStepsTotal.WithLabelValues(w.name, "error").Inc()
	w.result.AppendError("%s", msg)
}

func (w *workflow) fail(step string, err error) error {
	gitlab.LogError("[%s] %s failed: %s", w.name, step, gitlab.SanitizeErrorMessage(err))
	gitlab.WorkflowStepsTotal.WithLabelValues(w.name, "failed").Inc()
	return &StepError{Step: step, Partial: w.result, Err: err}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// payloadID reads the "id" of a created resource
func payloadID(raw json.RawMessage) (int, error) {
	id := gjson.GetBytes(raw, "id")
	if !id.Exists() || id.Int() == 0 {
		return 0, fmt.Errorf("response carries no resource id: %s", string(raw))
	}
	return int(id.Int()), nil
}
