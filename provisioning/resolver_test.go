package provisioning

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlaber/gitlab"
	"gitlaber/internal/gitlabtest"
	"gitlaber/types"
)

func newTestService(t *testing.T) (*Service, *gitlabtest.Server) {
	t.Helper()
	fake := gitlabtest.New(t)
	client := gitlab.NewClient(fake.APIURL(), "admin-token")
	return NewService(client, 2), fake
}

func TestFindReturnsFirstMatch(t *testing.T) {
	items := []types.GitLabGroup{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "b"}}

	g, ok := Find(items, func(g types.GitLabGroup) bool { return g.Name == "b" })
	assert.True(t, ok)
	assert.Equal(t, 2, g.ID)

	_, ok = Find(items, func(g types.GitLabGroup) bool { return g.Name == "z" })
	assert.False(t, ok)
}

func TestUsersSortedByNameCaseSensitiveAndStable(t *testing.T) {
	svc, fake := newTestService(t)
	fake.AddUser(1, "bob", "Bob")
	fake.AddUser(2, "lower", "alice")
	fake.AddUser(3, "upper", "Alice")
	fake.AddUser(4, "same1", "Same")
	fake.AddUser(5, "same2", "Same")

	users, err := svc.EnumerateUsers(context.Background())
	require.NoError(t, err)

	var ids []int
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []int{3, 1, 4, 5, 2}, ids)

	again, err := svc.EnumerateUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, users, again)
}

func TestEnumerationsRefetchEveryPage(t *testing.T) {
	svc, fake := newTestService(t)
	fake.AddGroup("ops")
	fake.AddGroup("dev")
	fake.AddGroup("qa")

	groups, err := svc.EnumerateGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "dev", groups[0].Name)

	_, err = svc.EnumerateGroups(context.Background())
	require.NoError(t, err)
	// 3 groups at 2 per page: 2 full pages plus the empty one, twice
	assert.Equal(t, 6, fake.CountCalls(http.MethodGet, "/groups"))
}

func TestProjectByPath(t *testing.T) {
	svc, fake := newTestService(t)
	fake.AddGroup("teams")
	want := fake.AddProject("teams", "demo")
	fake.AddProject("other", "demo")

	p, err := svc.Resolver().ProjectByPath(context.Background(), "teams/demo")
	require.NoError(t, err)
	assert.Equal(t, want.ID, p.ID)

	_, err = svc.Resolver().ProjectByPath(context.Background(), "teams/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemberOfGroup(t *testing.T) {
	svc, fake := newTestService(t)
	group := fake.AddGroup("teams")
	fake.AddGroupMember(group.ID, 42, "alice", types.AccessDeveloper)
	ctx := context.Background()

	ok, err := svc.Resolver().MemberOfGroup(ctx, "teams", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Resolver().MemberOfGroup(ctx, "teams", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Resolver().MemberOfGroup(ctx, "nowhere", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProjectsInGroupAndBranches(t *testing.T) {
	svc, fake := newTestService(t)
	fake.AddGroup("teams")
	demo := fake.AddProject("teams", "demo")
	fake.AddProject("teams", "api")
	fake.AddProject("ops", "infra")
	fake.AddBranch(demo.ID, "develop")
	ctx := context.Background()

	names, err := svc.ProjectsInGroup(ctx, "teams")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "demo"}, names)

	names, err = svc.ProjectsInGroup(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, names)

	branches, err := svc.ProjectBranches(ctx, "teams/demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"master", "develop"}, branches)

	_, err = svc.ProjectBranches(ctx, "teams/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnumerationFailureIsReturned(t *testing.T) {
	svc, fake := newTestService(t)
	fake.FailOn(http.MethodGet, "/projects/all?page=1&per_page=2", http.StatusForbidden, "403 Forbidden")

	_, err := svc.EnumerateProjects(context.Background())
	require.Error(t, err)
	assert.True(t, gitlab.IsStatus(err, http.StatusForbidden))
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestParseActions(t *testing.T) {
	a, err := ParseProjectAction("")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectActionNone, a)

	_, err = ParseProjectAction("archive")
	assert.ErrorIs(t, err, ErrUnknownAction)

	e, err := ParseEnvAction("delete")
	require.NoError(t, err)
	assert.Equal(t, types.EnvActionDelete, e)

	_, err = ParseEnvAction("")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestValidateRequest(t *testing.T) {
	valid := types.ProvisioningRequest{User: alice, EnvAction: types.EnvActionCreate}
	require.NoError(t, ValidateRequest(valid))
	require.NoError(t, ValidateRequest(types.ProvisioningRequest{User: alice}))

	for name, req := range map[string]types.ProvisioningRequest{
		"unknown project action": {User: alice, Action: "archive", ProjectName: "demo", Group: "teams"},
		"unknown env action":     {User: alice, EnvAction: "destroy"},
		"miscased env action":    {User: alice, EnvAction: "Create"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateRequest(req), ErrUnknownAction)
		})
	}

	assert.Error(t, ValidateRequest(types.ProvisioningRequest{EnvAction: types.EnvActionCreate}))
	assert.Error(t, ValidateRequest(types.ProvisioningRequest{User: alice, Action: types.ProjectActionCreate, ProjectName: "demo"}))
}
