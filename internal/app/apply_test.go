package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return repo.Repo{DB: conn}
}

const firstImport = `project: {id: proj-1, name: Board}
task_types: [feature, review]
capabilities: [backend]
members:
  - {user: admin, role: admin}
  - {user: u1, role: member}
workflows:
  - name: delivery
    rules:
      - name: review
        resource_type: task
        task_type: feature
        to_state: completed
        templates: [{title: "Review {{father}}", type: review}]
      - name: notes
        resource_type: card
        to_state: cerrada
        templates: [{title: Notes}]
`

const secondImport = `project: {id: proj-1, name: Board renamed}
task_types: [feature, review]
members:
  - {user: admin, role: admin}
  - {user: u1, role: admin}
workflows:
  - name: delivery
    rules:
      - name: review
        resource_type: task
        task_type: feature
        to_state: completed
        templates: [{title: "Review again"}, {title: Second}]
`

func TestApplyConfigIsIdempotent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := config.FromYAML([]byte(firstImport))
	require.NoError(t, err)
	res, err := ApplyConfig(ctx, r, first, "admin", now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TaskTypes)
	assert.Equal(t, 2, res.Members)
	assert.Equal(t, 2, res.Rules)
	assert.Equal(t, "default-org", res.Project.OrgID)

	rules, err := r.ListRules(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	ids := map[string]string{}
	for _, rule := range rules {
		ids[rule.Name] = rule.ID
		assert.True(t, rule.Active)
	}
	types, err := r.ListTaskTypes(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, types, 2)

	_, err = ApplyConfig(ctx, r, first, "admin", now.Add(time.Hour))
	require.NoError(t, err)
	again, err := r.ListTaskTypes(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, types, again)

	second, err := config.FromYAML([]byte(secondImport))
	require.NoError(t, err)
	res, err = ApplyConfig(ctx, r, second, "admin", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "Board renamed", res.Project.Name)

	rules, err = r.ListRules(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, rules, 2, "removed rules are kept but deactivated")
	for _, rule := range rules {
		assert.Equal(t, ids[rule.Name], rule.ID, "rule ids are stable across imports")
		assert.Equal(t, rule.Name == "review", rule.Active)
	}
	templates, err := r.ListTemplates(ctx, nil, ids["review"])
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "Review again", templates[0].Title)
	assert.Nil(t, templates[0].TypeID)

	role, err := r.MemberRole(ctx, "proj-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, role)
}

func TestApplyConfigRejectsInvalid(t *testing.T) {
	r := newRepo(t)
	_, err := ApplyConfig(context.Background(), r, nil, "admin", time.Now())
	assert.Error(t, err)

	cfg := &config.Config{}
	_, err = ApplyConfig(context.Background(), r, cfg, "admin", time.Now())
	assert.Error(t, err)
}

func TestResolveProject(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	_, err := ResolveProject(ctx, r, "")
	assert.Error(t, err)

	cfg, err := config.FromYAML([]byte(firstImport))
	require.NoError(t, err)
	_, err = ApplyConfig(ctx, r, cfg, "admin", time.Now())
	require.NoError(t, err)

	p, err := ResolveProject(ctx, r, "")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", p.ID)

	_, err = ResolveProject(ctx, r, "other")
	assert.Error(t, err)
}

func TestStableID(t *testing.T) {
	assert.Equal(t, stableID("p", "wf", "r"), stableID("p", "wf", "r"))
	assert.NotEqual(t, stableID("p", "wf", "r"), stableID("p", "wf", "r2"))
}
