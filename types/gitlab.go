package types

// GitLabUser represents a user record returned by /users and /user
type GitLabUser struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	State    string `json:"state,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
}

// GitLabGroup represents a group (namespace) record returned by /groups
type GitLabGroup struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// GitLabNamespace is the namespace embedded in a project record
type GitLabNamespace struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// GitLabProject represents a project record returned by /projects/all
type GitLabProject struct {
	ID                int             `json:"id"`
	Name              string          `json:"name"`
	Path              string          `json:"path"`
	PathWithNamespace string          `json:"path_with_namespace"` // e.g. "mygroup/myproject"
	Namespace         GitLabNamespace `json:"namespace"`
	ImportURL         string          `json:"import_url,omitempty"`
	WebURL            string          `json:"web_url,omitempty"`
	DefaultBranch     string          `json:"default_branch,omitempty"`
}

// GitLabMember represents a group or project member. ID is the user id.
type GitLabMember struct {
	ID          int         `json:"id"`
	Username    string      `json:"username"`
	Name        string      `json:"name,omitempty"`
	AccessLevel AccessLevel `json:"access_level"`
}

// GitLabBranch represents a Git branch in a GitLab repository
type GitLabBranch struct {
	Name      string       `json:"name"`
	Commit    GitLabCommit `json:"commit"`
	Protected bool         `json:"protected"`
}

// GitLabCommit represents commit information
type GitLabCommit struct {
	ID      string `json:"id"`    // SHA
	Title   string `json:"title"` // Commit title
	Message string `json:"message,omitempty"`
}

// GitLabAPIError represents structured error type for GitLab API failures
type GitLabAPIError struct {
	StatusCode  int    `json:"statusCode"`  // HTTP status code
	Message     string `json:"message"`     // The response's message field, or the raw body
	Remediation string `json:"remediation"` // Actionable guidance for user
	RawError    string `json:"rawError"`    // Original body from GitLab API
	Method      string `json:"method"`
	Path        string `json:"path"`
}

// Error implements the error interface
func (e *GitLabAPIError) Error() string {
	return e.Message
}
