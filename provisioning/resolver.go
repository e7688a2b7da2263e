package provisioning

import (
	"context"
	"fmt"
	"sort"

	"gitlaber/gitlab"
	"gitlaber/types"
)

const (
	usersPath          = "/users"
	groupsPath         = "/groups"
	allProjectsPath    = "/projects/all"
	groupMembersPath   = "/groups/%d/members"
	projectsPath       = "/projects"
	userProjectsPath   = "/projects?sudo=%s"
	projectPath        = "/projects/%d"
	projectMembersPath = "/projects/%d/members"
	projectMemberPath  = "/projects/%d/members/%d"
	branchesPath       = "/projects/%d/repository/branches"
	branchPath         = "/projects/%d/repository/branches/%s"
	forkRelationPath   = "/projects/%d/fork/%d"
	nativeForkPath     = "/projects/fork/%d?sudo=%s"
)

// Find returns the first item satisfying pred
func Find[T any](items []T, pred func(T) bool) (T, bool) {
	for _, item := range items {
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Resolver looks entities up by natural key. Every call re-enumerates the
// whole remote collection; nothing is cached.
type Resolver struct {
	api     gitlab.API
	perPage int
}

// NewResolver returns a resolver paging with perPage items per request
func NewResolver(api gitlab.API, perPage int) *Resolver {
	if perPage < 1 {
		perPage = gitlab.DefaultPerPage
	}
	return &Resolver{api: api, perPage: perPage}
}

func enumerate[T any](ctx context.Context, r *Resolver, rpath string, name func(T) string) ([]T, error) {
	items, err := gitlab.NewPager[T](r.api, rpath, 1, r.perPage).Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", rpath, err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return name(items[i]) < name(items[j])
	})
	return items, nil
}

// Users lists every user sorted by name
func (r *Resolver) Users(ctx context.Context) ([]types.GitLabUser, error) {
	return enumerate(ctx, r, usersPath, func(u types.GitLabUser) string { return u.Name })
}

// Groups lists every group sorted by name
func (r *Resolver) Groups(ctx context.Context) ([]types.GitLabGroup, error) {
	return enumerate(ctx, r, groupsPath, func(g types.GitLabGroup) string { return g.Name })
}

// Projects lists every project sorted by name
func (r *Resolver) Projects(ctx context.Context) ([]types.GitLabProject, error) {
	return enumerate(ctx, r, allProjectsPath, func(p types.GitLabProject) string { return p.Name })
}

// ProjectByPath finds the project whose path_with_namespace is path
func (r *Resolver) ProjectByPath(ctx context.Context, path string) (*types.GitLabProject, error) {
	projects, err := r.Projects(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := Find(projects, func(p types.GitLabProject) bool { return p.PathWithNamespace == path })
	if !ok {
		return nil, fmt.Errorf("project %s: %w", path, ErrNotFound)
	}
	return &p, nil
}

// GroupByName finds the group called name
func (r *Resolver) GroupByName(ctx context.Context, name string) (*types.GitLabGroup, error) {
	groups, err := r.Groups(ctx)
	if err != nil {
		return nil, err
	}
	g, ok := Find(groups, func(g types.GitLabGroup) bool { return g.Name == name })
	if !ok {
		return nil, fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	return &g, nil
}

// MemberOfGroup reports whether username belongs to the group. An unknown
// group counts as no membership.
func (r *Resolver) MemberOfGroup(ctx context.Context, groupName, username string) (bool, error) {
	group, err := r.GroupByName(ctx, groupName)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	raw, err := r.api.Get(ctx, fmt.Sprintf(groupMembersPath, group.ID))
	if err != nil {
		return false, err
	}
	members, err := gitlab.Decode[[]types.GitLabMember](raw)
	if err != nil {
		return false, err
	}
	_, ok := Find(members, func(m types.GitLabMember) bool { return m.Username == username })
	return ok, nil
}

// ProjectsInGroup returns the names of the projects in the group namespace
func (r *Resolver) ProjectsInGroup(ctx context.Context, group string) ([]string, error) {
	projects, err := r.Projects(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, p := range projects {
		if p.Namespace.Name == group {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

// ProjectBranches returns the branch names of the project at path
func (r *Resolver) ProjectBranches(ctx context.Context, path string) ([]string, error) {
	project, err := r.ProjectByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	branches, err := r.ProjectBranchList(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	return names, nil
}

// ProjectBranchList reads the (unpaginated) branch listing of a project
func (r *Resolver) ProjectBranchList(ctx context.Context, projectID int) ([]types.GitLabBranch, error) {
	raw, err := r.api.Get(ctx, fmt.Sprintf(branchesPath, projectID))
	if err != nil {
		return nil, err
	}
	return gitlab.Decode[[]types.GitLabBranch](raw)
}

// ProjectMembers reads the (unpaginated) member listing of a project
func (r *Resolver) ProjectMembers(ctx context.Context, projectID int) ([]types.GitLabMember, error) {
	raw, err := r.api.Get(ctx, fmt.Sprintf(projectMembersPath, projectID))
	if err != nil {
		return nil, err
	}
	return gitlab.Decode[[]types.GitLabMember](raw)
}
