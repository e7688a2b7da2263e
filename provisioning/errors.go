package provisioning

import (
	"errors"
	"fmt"

	"gitlaber/types"
)

var (
	// ErrNotFound is returned by lookups that resolve nothing
	ErrNotFound = errors.New("not found")
	// ErrUnknownAction is returned when an action name is neither create nor delete
	ErrUnknownAction = errors.New("unknown action")
)

// StepError reports the remote failure that aborted a workflow. Partial
// holds every entry logged before the failing step; steps already applied
// remotely are not rolled back.
type StepError struct {
	Step    string
	Partial *types.OperationResult
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ParseProjectAction validates a project action name; "" is a no-op
func ParseProjectAction(s string) (types.ProjectAction, error) {
	switch a := types.ProjectAction(s); a {
	case types.ProjectActionNone, types.ProjectActionCreate, types.ProjectActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("project action %q: %w", s, ErrUnknownAction)
}

// ParseEnvAction validates an environment action name
func ParseEnvAction(s string) (types.EnvAction, error) {
	switch a := types.EnvAction(s); a {
	case types.EnvActionCreate, types.EnvActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("environment action %q: %w", s, ErrUnknownAction)
}

// ValidateRequest rejects requests no workflow can act on before any remote
// call is made. Empty actions are no-ops.
func ValidateRequest(req types.ProvisioningRequest) error {
	if req.User.Username == "" {
		return errors.New("user is required as username,user_id")
	}
	if _, err := ParseProjectAction(string(req.Action)); err != nil {
		return err
	}
	if req.Action != types.ProjectActionNone && (req.ProjectName == "" || req.Group == "") {
		return errors.New("project and project_group are required for a project action")
	}
	if req.EnvAction != "" {
		if _, err := ParseEnvAction(string(req.EnvAction)); err != nil {
			return err
		}
	}
	return nil
}
