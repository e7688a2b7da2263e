// Package gitlabtest provides an in-memory GitLab REST API for tests. It
// serves the v3 resource paths used by the provisioning workflows, paginates
// listings and records every call so tests can count remote mutations.
package gitlabtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"gitlaber/types"
)

// APIPrefix is the API root the fake serves under
const APIPrefix = "/api/v3"

// Call is one recorded request
type Call struct {
	Method string
	Path   string // path relative to the API root, including the query
}

func (c Call) String() string {
	return c.Method + " " + c.Path
}

type project struct {
	types.GitLabProject
	Members    []types.GitLabMember
	Branches   []types.GitLabBranch
	ForkedFrom int
}

type failure struct {
	status int
	body   string
}

// Server is a fake GitLab instance
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	users        []types.GitLabUser
	groups       []types.GitLabGroup
	groupMembers map[int][]types.GitLabMember
	projects     []*project
	calls        []Call
	failures     map[string]failure
	nextID       int

	// Token, when set, is the only accepted bearer token
	Token string
	// Me is returned by GET /user
	Me types.GitLabUser
	// OAuthToken is handed out by POST /oauth/token
	OAuthToken string
}

// New starts a fake server that is closed when the test ends
func New(t testing.TB) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		groupMembers: map[int][]types.GitLabMember{},
		failures:     map[string]failure{},
		nextID:       100,
		Me:           types.GitLabUser{ID: 1, Name: "Administrator", Username: "root", IsAdmin: true},
		OAuthToken:   "oauth-access-token",
	}
	r := gin.New()
	r.POST("/oauth/token", s.oauthToken)
	r.Any(APIPrefix+"/*path", s.dispatch)
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// APIURL returns the API root to hand to gitlab.NewClient
func (s *Server) APIURL() string {
	return s.URL + APIPrefix
}

func (s *Server) id() int {
	s.nextID++
	return s.nextID
}

// AddUser registers a user
func (s *Server) AddUser(id int, username, name string) types.GitLabUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := types.GitLabUser{ID: id, Username: username, Name: name, State: "active"}
	s.users = append(s.users, u)
	return u
}

// AddGroup registers a group named name
func (s *Server) AddGroup(name string) types.GitLabGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := types.GitLabGroup{ID: s.id(), Name: name, Path: strings.ToLower(name)}
	s.groups = append(s.groups, g)
	return g
}

// AddGroupMember adds a user to a group
func (s *Server) AddGroupMember(groupID, userID int, username string, access types.AccessLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupMembers[groupID] = append(s.groupMembers[groupID], types.GitLabMember{ID: userID, Username: username, AccessLevel: access})
}

// AddProject registers a project in namespace with a master branch
func (s *Server) AddProject(namespace, name string) types.GitLabProject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createProject(namespace, name, "").GitLabProject
}

// AddBranch adds a branch to a project
func (s *Server) AddBranch(projectID int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.projectByID(projectID); p != nil {
		p.Branches = append(p.Branches, types.GitLabBranch{Name: name})
	}
}

// AddProjectMember adds a member to a project
func (s *Server) AddProjectMember(projectID, userID int, username string, access types.AccessLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.projectByID(projectID); p != nil {
		p.Members = append(p.Members, types.GitLabMember{ID: userID, Username: username, AccessLevel: access})
	}
}

// FailOn makes "METHOD path" answer status with a {"message": message} body.
// path is relative to the API root and may include the query.
func (s *Server) FailOn(method, path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, _ := json.Marshal(map[string]string{"message": message})
	s.failures[method+" "+path] = failure{status: status, body: string(body)}
}

// FailRawOn makes "METHOD path" answer status with a raw body
func (s *Server) FailRawOn(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = failure{status: status, body: body}
}

// Calls returns every recorded request in order
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Mutations returns the recorded non-GET requests
func (s *Server) Mutations() []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method != http.MethodGet {
			out = append(out, c)
		}
	}
	return out
}

// CountCalls counts requests with the method whose path starts with prefix
func (s *Server) CountCalls(method, prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, prefix) {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Project returns the project at path_with_namespace
func (s *Server) Project(path string) (types.GitLabProject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.projectByPath(path); p != nil {
		return p.GitLabProject, true
	}
	return types.GitLabProject{}, false
}

// ForkedFrom returns the source project id recorded for a fork, or 0
func (s *Server) ForkedFrom(projectID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.projectByID(projectID); p != nil {
		return p.ForkedFrom
	}
	return 0
}

// BranchNames returns the branch names of a project
func (s *Server) BranchNames(projectID int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	if p := s.projectByID(projectID); p != nil {
		for _, b := range p.Branches {
			names = append(names, b.Name)
		}
	}
	return names
}

// MemberIDs returns the member user ids of a project
func (s *Server) MemberIDs(projectID int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	if p := s.projectByID(projectID); p != nil {
		for _, m := range p.Members {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func (s *Server) createProject(namespace, name, importURL string) *project {
	ns := types.GitLabNamespace{Name: namespace, Path: namespace}
	for _, g := range s.groups {
		if g.Name == namespace {
			ns.ID = g.ID
			ns.Path = g.Path
		}
	}
	p := &project{
		GitLabProject: types.GitLabProject{
			ID:                s.id(),
			Name:              name,
			Path:              name,
			PathWithNamespace: namespace + "/" + name,
			Namespace:         ns,
			ImportURL:         importURL,
			DefaultBranch:     "master",
		},
		Branches: []types.GitLabBranch{{Name: "master"}},
	}
	s.projects = append(s.projects, p)
	return p
}

func (s *Server) projectByID(id int) *project {
	for _, p := range s.projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Server) projectByPath(path string) *project {
	for _, p := range s.projects {
		if p.PathWithNamespace == path {
			return p
		}
	}
	return nil
}

func (s *Server) username(id int) string {
	for _, u := range s.users {
		if u.ID == id {
			return u.Username
		}
	}
	return ""
}

func (s *Server) oauthToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"access_token": s.OAuthToken, "token_type": "bearer"})
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("404 %s Not Found", what)})
}

func page[T any](c *gin.Context, items []T) []T {
	pg, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || pg < 1 {
		pg = 1
	}
	per, err := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if err != nil || per < 1 {
		per = 20
	}
	start := (pg - 1) * per
	if start >= len(items) {
		return []T{}
	}
	end := start + per
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (s *Server) dispatch(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := c.Param("path")
	full := path
	if c.Request.URL.RawQuery != "" {
		full += "?" + c.Request.URL.RawQuery
	}
	method := c.Request.Method
	s.calls = append(s.calls, Call{Method: method, Path: full})

	if s.Token != "" && c.GetHeader("Authorization") != "Bearer "+s.Token {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "401 Unauthorized"})
		return
	}
	if f, ok := s.failures[method+" "+full]; ok {
		c.Data(f.status, "application/json", []byte(f.body))
		return
	}

	var body map[string]interface{}
	if c.Request.Body != nil {
		if data, _ := io.ReadAll(c.Request.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &body)
		}
	}

	seg := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case method == http.MethodGet && len(seg) == 1 && seg[0] == "user":
		c.JSON(http.StatusOK, s.Me)
	case method == http.MethodGet && len(seg) == 1 && seg[0] == "users":
		c.JSON(http.StatusOK, page(c, s.users))
	case method == http.MethodGet && len(seg) == 1 && seg[0] == "groups":
		c.JSON(http.StatusOK, page(c, s.groups))
	case method == http.MethodGet && len(seg) == 3 && seg[0] == "groups" && seg[2] == "members":
		id, _ := strconv.Atoi(seg[1])
		members := s.groupMembers[id]
		if members == nil {
			members = []types.GitLabMember{}
		}
		c.JSON(http.StatusOK, members)
	case method == http.MethodGet && len(seg) == 2 && seg[0] == "projects" && seg[1] == "all":
		list := make([]types.GitLabProject, 0, len(s.projects))
		for _, p := range s.projects {
			list = append(list, p.GitLabProject)
		}
		c.JSON(http.StatusOK, page(c, list))
	case method == http.MethodPost && len(seg) == 1 && seg[0] == "projects":
		s.postProject(c, body)
	case method == http.MethodPost && len(seg) == 3 && seg[0] == "projects" && seg[1] == "fork":
		s.postNativeFork(c, seg[2])
	case len(seg) >= 2 && seg[0] == "projects":
		s.projectResource(c, method, seg, body)
	default:
		notFound(c, "Resource")
	}
}

func (s *Server) postProject(c *gin.Context, body map[string]interface{}) {
	name, _ := body["name"].(string)
	importURL, _ := body["import_url"].(string)
	namespace := c.Query("sudo")
	if nsID, ok := body["namespace_id"].(float64); ok {
		for _, g := range s.groups {
			if g.ID == int(nsID) {
				namespace = g.Name
			}
		}
	}
	if namespace == "" {
		namespace = s.Me.Username
	}
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "400 (Bad request) \"name\" not given"})
		return
	}
	if s.projectByPath(namespace+"/"+name) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": gin.H{"name": []string{"has already been taken"}}})
		return
	}
	p := s.createProject(namespace, name, importURL)
	c.JSON(http.StatusCreated, p.GitLabProject)
}

func (s *Server) postNativeFork(c *gin.Context, rawID string) {
	id, _ := strconv.Atoi(rawID)
	src := s.projectByID(id)
	if src == nil {
		notFound(c, "Project")
		return
	}
	namespace := c.Query("sudo")
	if namespace == "" {
		namespace = s.Me.Username
	}
	if s.projectByPath(namespace+"/"+src.Name) != nil {
		c.JSON(http.StatusConflict, gin.H{"message": gin.H{"name": []string{"has already been taken"}}})
		return
	}
	fork := s.createProject(namespace, src.Name, "")
	fork.ForkedFrom = src.ID
	c.JSON(http.StatusCreated, fork.GitLabProject)
}

func (s *Server) projectResource(c *gin.Context, method string, seg []string, body map[string]interface{}) {
	id, err := strconv.Atoi(seg[1])
	if err != nil {
		notFound(c, "Project")
		return
	}
	p := s.projectByID(id)
	if p == nil {
		notFound(c, "Project")
		return
	}
	rest := seg[2:]

	switch {
	case len(rest) == 0 && method == http.MethodGet:
		c.JSON(http.StatusOK, p.GitLabProject)
	case len(rest) == 0 && method == http.MethodDelete:
		for i, candidate := range s.projects {
			if candidate.ID == p.ID {
				s.projects = append(s.projects[:i], s.projects[i+1:]...)
				break
			}
		}
		c.JSON(http.StatusOK, p.GitLabProject)
	case len(rest) == 1 && rest[0] == "members" && method == http.MethodGet:
		members := p.Members
		if members == nil {
			members = []types.GitLabMember{}
		}
		c.JSON(http.StatusOK, members)
	case len(rest) == 1 && rest[0] == "members" && method == http.MethodPost:
		uid, _ := body["user_id"].(float64)
		level, _ := body["access_level"].(float64)
		for _, m := range p.Members {
			if m.ID == int(uid) {
				c.JSON(http.StatusConflict, gin.H{"message": "Member already exists"})
				return
			}
		}
		m := types.GitLabMember{ID: int(uid), Username: s.username(int(uid)), AccessLevel: types.AccessLevel(level)}
		p.Members = append(p.Members, m)
		c.JSON(http.StatusCreated, m)
	case len(rest) == 2 && rest[0] == "members" && method == http.MethodDelete:
		uid, _ := strconv.Atoi(rest[1])
		for i, m := range p.Members {
			if m.ID == uid {
				p.Members = append(p.Members[:i], p.Members[i+1:]...)
				c.JSON(http.StatusOK, m)
				return
			}
		}
		notFound(c, "Member")
	case len(rest) == 2 && rest[0] == "repository" && rest[1] == "branches" && method == http.MethodGet:
		c.JSON(http.StatusOK, p.Branches)
	case len(rest) == 2 && rest[0] == "repository" && rest[1] == "branches" && method == http.MethodPost:
		name, _ := body["branch_name"].(string)
		ref, _ := body["ref"].(string)
		var source *types.GitLabBranch
		for i := range p.Branches {
			if p.Branches[i].Name == ref {
				source = &p.Branches[i]
			}
			if p.Branches[i].Name == name {
				c.JSON(http.StatusBadRequest, gin.H{"message": "Branch already exists"})
				return
			}
		}
		if source == nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid reference name"})
			return
		}
		b := types.GitLabBranch{Name: name, Commit: source.Commit}
		p.Branches = append(p.Branches, b)
		c.JSON(http.StatusCreated, b)
	case len(rest) == 3 && rest[0] == "repository" && rest[1] == "branches" && method == http.MethodDelete:
		for i, b := range p.Branches {
			if b.Name == rest[2] {
				p.Branches = append(p.Branches[:i], p.Branches[i+1:]...)
				c.JSON(http.StatusOK, gin.H{"branch_name": b.Name})
				return
			}
		}
		notFound(c, "Branch")
	case len(rest) == 2 && rest[0] == "fork" && method == http.MethodPost:
		target, _ := strconv.Atoi(rest[1])
		if s.projectByID(target) == nil {
			notFound(c, "Project")
			return
		}
		if p.ForkedFrom != 0 {
			c.JSON(http.StatusConflict, gin.H{"message": "Project already forked"})
			return
		}
		p.ForkedFrom = target
		out := p.GitLabProject
		c.JSON(http.StatusCreated, gin.H{"id": out.ID, "path_with_namespace": out.PathWithNamespace, "forked_from_project": gin.H{"id": target}})
	default:
		notFound(c, "Resource")
	}
}
