package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin/binding"
)

// AccessLevel is the remote service's ordinal permission tier. Values are
// forwarded to the API as given; the constants only name the usual tiers.
type AccessLevel int

const (
	AccessGuest     AccessLevel = 10
	AccessReporter  AccessLevel = 20
	AccessDeveloper AccessLevel = 30
	AccessMaster    AccessLevel = 40
	AccessOwner     AccessLevel = 50
)

// String returns the tier name, or the bare number for unnamed values
func (a AccessLevel) String() string {
	switch a {
	case AccessGuest:
		return "guest"
	case AccessReporter:
		return "reporter"
	case AccessDeveloper:
		return "developer"
	case AccessMaster:
		return "master"
	case AccessOwner:
		return "owner"
	}
	return strconv.Itoa(int(a))
}

// IsSet reports whether an access level was supplied
func (a AccessLevel) IsSet() bool {
	return a != 0
}

// ParseAccessLevel accepts a number or an empty string (unset)
func ParseAccessLevel(s string) (AccessLevel, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid access level %q", s)
	}
	return AccessLevel(v), nil
}

// UnmarshalJSON accepts both 30 and "30"
func (a *AccessLevel) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseAccessLevel(s)
		if err != nil {
			return err
		}
		*a = v
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid access level %s", string(data))
	}
	*a = AccessLevel(v)
	return nil
}

// UnmarshalParam implements gin's binding.BindUnmarshaler for form input
func (a *AccessLevel) UnmarshalParam(param string) error {
	v, err := ParseAccessLevel(param)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// UserRef identifies the user a workflow acts for
type UserRef struct {
	Username string `json:"username"`
	ID       int    `json:"id"`
}

// ParseUserRef parses the "username,user_id" form encoding
func ParseUserRef(s string) (UserRef, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return UserRef{}, fmt.Errorf("invalid user %q, expected username,user_id", s)
	}
	username := strings.TrimSpace(parts[0])
	if username == "" {
		return UserRef{}, fmt.Errorf("invalid user %q, empty username", s)
	}
	id, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return UserRef{}, fmt.Errorf("invalid user id in %q: %w", s, err)
	}
	return UserRef{Username: username, ID: id}, nil
}

// String returns the "username,user_id" encoding
func (u UserRef) String() string {
	return fmt.Sprintf("%s,%d", u.Username, u.ID)
}

// UnmarshalJSON accepts "alice,42" or {"username": "alice", "id": 42}
func (u *UserRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		ref, err := ParseUserRef(s)
		if err != nil {
			return err
		}
		*u = ref
		return nil
	}
	type plain UserRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = UserRef(p)
	return nil
}

// UnmarshalParam implements gin's binding.BindUnmarshaler for form input
func (u *UserRef) UnmarshalParam(param string) error {
	ref, err := ParseUserRef(param)
	if err != nil {
		return err
	}
	*u = ref
	return nil
}

// ProjectAction selects the project lifecycle workflow
type ProjectAction string

const (
	ProjectActionNone   ProjectAction = ""
	ProjectActionCreate ProjectAction = "create"
	ProjectActionDelete ProjectAction = "delete"
)

// EnvAction selects the environment workflow
type EnvAction string

const (
	EnvActionCreate EnvAction = "create"
	EnvActionDelete EnvAction = "delete"
)

// Flag is a form-style boolean: any non-empty value other than "false"/"0" is true
type Flag bool

func parseFlag(s string) Flag {
	s = strings.TrimSpace(strings.ToLower(s))
	return Flag(s != "" && s != "false" && s != "0" && s != "off")
}

// UnmarshalJSON accepts booleans and strings
func (f *Flag) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = parseFlag(s)
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("invalid flag %s", string(data))
	}
	*f = Flag(b)
	return nil
}

// UnmarshalParam implements gin's binding.BindUnmarshaler for form input
func (f *Flag) UnmarshalParam(param string) error {
	*f = parseFlag(param)
	return nil
}

// EnvironmentProject is one target of an environment request
type EnvironmentProject struct {
	Group  string      `json:"group"`
	Name   string      `json:"name"`
	Branch string      `json:"branch,omitempty"` // source ref for the user branch
	Access AccessLevel `json:"access,omitempty"`
}

// Path returns the namespace path group/name
func (p EnvironmentProject) Path() string {
	return p.Group + "/" + p.Name
}

// EnvironmentProjects is the list of environment targets. It decodes from a
// JSON array or from a string holding a JSON array (the form encoding).
type EnvironmentProjects []EnvironmentProject

// UnmarshalJSON accepts an array or a JSON-encoded string of an array
func (e *EnvironmentProjects) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return e.UnmarshalParam(s)
	}
	var list []EnvironmentProject
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*e = list
	return nil
}

// UnmarshalParam implements gin's binding.BindUnmarshaler for form input
func (e *EnvironmentProjects) UnmarshalParam(param string) error {
	if strings.TrimSpace(param) == "" {
		*e = nil
		return nil
	}
	var list []EnvironmentProject
	if err := json.Unmarshal([]byte(param), &list); err != nil {
		return fmt.Errorf("invalid projects list: %w", err)
	}
	*e = list
	return nil
}

// ProvisioningRequest is the input of the result endpoint: one project
// lifecycle action plus an environment batch for the same user.
type ProvisioningRequest struct {
	User           UserRef             `json:"user" form:"user"`
	ProjectName    string              `json:"project" form:"project"`
	Group          string              `json:"project_group" form:"project_group"`
	Access         AccessLevel         `json:"project_access_level" form:"project_access_level"`
	Action         ProjectAction       `json:"project_action" form:"project_action"`
	ImportURL      string              `json:"import_url,omitempty" form:"import_url"`
	DeleteUserFork Flag                `json:"del_user_project,omitempty" form:"del_user_project"`
	Projects       EnvironmentProjects `json:"projects,omitempty" form:"-"`
	EnvAction      EnvAction           `json:"env_action,omitempty" form:"env_action"`
}

// Path returns the group namespace path group/name
func (r ProvisioningRequest) Path() string {
	return r.Group + "/" + r.ProjectName
}

// UserForkPath returns the personal namespace path username/name
func (r ProvisioningRequest) UserForkPath() string {
	return r.User.Username + "/" + r.ProjectName
}

// BindForm decodes a form-encoded request. gin binds slice fields value by
// value, so the projects list, sent as one JSON string, is decoded apart.
func BindForm(req *http.Request, out *ProvisioningRequest) error {
	if err := binding.Form.Bind(req, out); err != nil {
		return err
	}
	return out.Projects.UnmarshalParam(req.PostFormValue("projects"))
}
