package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlaber/auth"
	"gitlaber/config"
	"gitlaber/gitlab"
	"gitlaber/internal/gitlabtest"
	"gitlaber/types"
)

func newTestServer(t *testing.T) (*gin.Engine, *gitlabtest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake := gitlabtest.New(t)
	cfg := &config.Config{
		GitLabURL:         fake.URL,
		APIPrefix:         gitlabtest.APIPrefix,
		PageSize:          20,
		TimeoutSeconds:    5,
		SessionTTLMinutes: 60,
		TokenStore:        config.TokenStoreSession,
	}
	sessions, err := auth.NewSessions("test-secret", cfg.SessionTTL())
	require.NoError(t, err)
	srv := NewServer(cfg,
		gitlab.NewClient(cfg.APIURL(), ""),
		sessions,
		auth.NewOAuth(fake.URL, "app-id", "app-secret", ""),
		auth.SessionTokenStore{},
	)
	return srv.Router(), fake
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func forwarded(req *http.Request) *http.Request {
	req.Header.Set("X-Forwarded-Access-Token", "proxy-token")
	return req
}

func TestHealth(t *testing.T) {
	r, _ := newTestServer(t)
	w := do(r, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"health": "Good doctor!"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestProtectedRoutesRequireLogin(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Accept", "text/html")
	w = do(r, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?next=%2Fapi%2Fusers", w.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer not-a-session")
	w = do(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenLoginIssuesUsableSession(t *testing.T) {
	r, fake := newTestServer(t)
	fake.AddUser(2, "bob", "Bob")
	fake.AddUser(42, "alice", "Alice")

	w := do(r, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"token": "glpat-admin"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Token    string `json:"token"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	assert.Equal(t, "root", login.Username)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	w = do(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	var users []types.GitLabUser
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].Name)
}

func TestTokenLoginRejectsNonAdmin(t *testing.T) {
	r, fake := newTestServer(t)
	fake.Me = types.GitLabUser{ID: 42, Username: "alice"}

	w := do(r, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"token": "glpat-user"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error": "Unauthorized access"}`, w.Body.String())

	w = do(r, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOAuthLoginFlow(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(r, httptest.NewRequest(http.MethodGet, "/login?next=/api/groups", nil))
	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", location.Path)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	callback := httptest.NewRequest(http.MethodGet, "/user_sessions/authorized?code=abc&state="+url.QueryEscape(state), nil)
	for _, c := range w.Result().Cookies() {
		callback.AddCookie(c)
	}
	w = do(r, callback)
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, "/api/groups", w.Header().Get("Location"))

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)

	req := httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	req.AddCookie(session)
	w = do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestOAuthCallbackRejectsBadState(t *testing.T) {
	r, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/user_sessions/authorized?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "expected"})
	w := do(r, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/user_sessions/authorized?error=access_denied&error_description=nope", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Access denied: reason=access_denied error=nope", w.Body.String())
}

func TestDataLookups(t *testing.T) {
	r, fake := newTestServer(t)
	fake.AddGroup("teams")
	demo := fake.AddProject("teams", "demo")
	fake.AddProject("teams", "api")
	fake.AddBranch(demo.ID, "develop")

	w := do(r, forwarded(httptest.NewRequest(http.MethodGet, "/data?type=projects&path=teams", nil)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["api", "demo"]`, w.Body.String())

	w = do(r, forwarded(httptest.NewRequest(http.MethodGet, "/data?type=project_branches&path=teams/demo", nil)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["master", "develop"]`, w.Body.String())

	w = do(r, forwarded(httptest.NewRequest(http.MethodGet, "/data?type=project_branches&path=teams/ghost", nil)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, forwarded(httptest.NewRequest(http.MethodGet, "/data?type=users", nil)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndex(t *testing.T) {
	r, fake := newTestServer(t)
	fake.AddUser(42, "alice", "Alice")
	fake.AddGroup("teams")

	w := do(r, forwarded(httptest.NewRequest(http.MethodGet, "/api/index", nil)))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, string(body["current_user"]), `"username":"root"`)
	assert.Contains(t, string(body["users"]), "alice")
	assert.Contains(t, string(body["groups"]), "teams")
	assert.JSONEq(t, `[]`, string(body["projects"]))
}

func TestResultJSON(t *testing.T) {
	r, fake := newTestServer(t)
	fake.AddUser(42, "alice", "Alice")
	fake.AddGroup("teams")

	body := `{"user": "alice,42", "project": "demo", "project_group": "teams", "project_access_level": 30, "project_action": "create",
		"projects": [{"group": "teams", "name": "demo", "branch": "master"}], "env_action": "create"}`
	req := forwarded(httptest.NewRequest(http.MethodPost, "/result", strings.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")
	w := do(r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out map[string][]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out["manage_project"], 3)
	assert.Contains(t, out["manage_project"][0], "Create new project demo in teams for alice")
	require.Len(t, out["manage_user_env"], 2)
	assert.Contains(t, out["manage_user_env"][0], "create branch alice in project demo")

	_, ok := fake.Project("alice/demo")
	assert.True(t, ok)
}

func TestResultForm(t *testing.T) {
	r, fake := newTestServer(t)
	fake.AddGroup("teams")
	demo := fake.AddProject("teams", "demo")
	fake.AddBranch(demo.ID, "alice")

	form := url.Values{
		"user":           {"alice,42"},
		"project":        {""},
		"project_action": {""},
		"projects":       {`[{"group": "teams", "name": "demo"}]`},
		"env_action":     {"delete"},
	}
	req := forwarded(httptest.NewRequest(http.MethodPost, "/result", strings.NewReader(form.Encode())))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := do(r, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.JSONEq(t, `{
		"manage_project": [],
		"manage_user_env": [
			{"delete branch alice in project demo": {"branch_name": "alice"}},
			{"delete member alice on project demo": "Nothing to do"}
		]
	}`, w.Body.String())
	assert.Equal(t, []string{"master"}, fake.BranchNames(demo.ID))
}

func TestResultValidation(t *testing.T) {
	r, fake := newTestServer(t)

	for name, body := range map[string]string{
		"missing user":        `{"project_action": "create", "project": "demo", "project_group": "teams"}`,
		"unknown action":      `{"user": "alice,42", "project_action": "archive", "project": "demo", "project_group": "teams"}`,
		"missing group":       `{"user": "alice,42", "project_action": "create", "project": "demo"}`,
		"bad user":            `{"user": "alice"}`,
		"unknown env action":  `{"user": "alice,42", "env_action": "destroy", "projects": [{"group": "teams", "name": "demo"}]}`,
		"miscased env action": `{"user": "alice,42", "env_action": "Create", "projects": [{"group": "teams", "name": "demo"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := forwarded(httptest.NewRequest(http.MethodPost, "/result", strings.NewReader(body)))
			req.Header.Set("Content-Type", "application/json")
			w := do(r, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, fake.Calls())
}

func TestResultStepFailure(t *testing.T) {
	r, fake := newTestServer(t)
	group := fake.AddGroup("teams")
	fake.FailOn(http.MethodPost, "/projects/"+itoa(group.ID+1)+"/members", http.StatusForbidden, "403 Forbidden")

	body := `{"user": "alice,42", "project": "demo", "project_group": "teams", "project_access_level": 30, "project_action": "create"}`
	req := forwarded(httptest.NewRequest(http.MethodPost, "/result", strings.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")
	w := do(r, req)
	require.Equal(t, http.StatusBadGateway, w.Code)

	var out struct {
		Error   string `json:"error"`
		Step    string `json:"step"`
		Partial struct {
			ManageProject []map[string]json.RawMessage `json:"manage_project"`
		} `json:"partial"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "403 Forbidden", out.Error)
	assert.Equal(t, "Add member alice on project teams/demo", out.Step)
	require.Len(t, out.Partial.ManageProject, 1)
	assert.Contains(t, out.Partial.ManageProject[0], "Create new project demo in teams for alice")
}

func TestLogoutClearsSession(t *testing.T) {
	r, _ := newTestServer(t)
	w := do(r, httptest.NewRequest(http.MethodGet, "/logout", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestServer(t)
	do(r, forwarded(httptest.NewRequest(http.MethodGet, "/api/groups", nil)))

	w := do(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gitlaber_remote_requests_total")
}

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/api/groups", safeNext("/api/groups"))
	assert.Equal(t, "/api/index", safeNext(""))
	assert.Equal(t, "/api/index", safeNext("https://evil.example.com"))
	assert.Equal(t, "/api/index", safeNext("//evil.example.com"))
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}
