package rules_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine/rules"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

const rulesConfig = `project:
  id: proj-1
  name: Rules
task_types: [feature, qa]
members:
  - {user: u1, role: member}
workflows:
  - name: delivery
    rules:
      - name: review-done
        resource_type: task
        to_state: completed
        templates:
          - title: "Review {{father}}"
            description: "{{user}} moved it from {{from_state}} to {{to_state}} in {{project}}"
            priority: 2
          - title: Deploy
            type: qa
      - name: qa-only
        resource_type: task
        task_type: qa
        to_state: completed
        templates:
          - title: Sign off
`

func setup(t *testing.T) (rules.Engine, repo.Repo) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	cfg, err := config.FromYAML([]byte(rulesConfig))
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	_, err = app.ApplyConfig(ctx, r, cfg, "u1", time.Now())
	require.NoError(t, err)
	eng := rules.New(conn, nil)
	eng.LinkBase = "https://board.example"
	return eng, r
}

func ruleNamed(t *testing.T, r repo.Repo, name string) domain.Rule {
	t.Helper()
	list, err := r.ListRules(context.Background(), "proj-1")
	require.NoError(t, err)
	for _, rule := range list {
		if rule.Name == name {
			return rule
		}
	}
	t.Fatalf("rule %s not found", name)
	return domain.Rule{}
}

func completedEvent(id string) domain.Event {
	from := "claimed"
	return domain.Event{
		ResourceType: domain.ResourceTask,
		ResourceID:   id,
		ProjectID:    "proj-1",
		ActorUserID:  "u1",
		FromState:    &from,
		ToState:      "completed",
	}
}

func TestRender(t *testing.T) {
	v := rules.Vars{Father: "/projects/p/tasks/t1", FromState: "claimed", ToState: "completed", Project: "Demo", User: "u1"}

	out, err := rules.Render("Follow up {{father}} ({{from_state}} -> {{to_state}}) by {{user}} in {{project}}", v)
	require.NoError(t, err)
	assert.Equal(t, "Follow up /projects/p/tasks/t1 (claimed -> completed) by u1 in Demo", out)

	out, err = rules.Render("plain title", v)
	require.NoError(t, err)
	assert.Equal(t, "plain title", out)

	out, err = rules.Render("{{ father }} / {{- user }}", v)
	require.NoError(t, err)
	assert.Equal(t, "/projects/p/tasks/t1 /u1", out)

	for _, text := range []string{
		"{{unknown}}",
		"{{ .Father }}",
		`{{ printf "%s" "x" }}`,
		"{{ range . }}x{{ end }}",
		"{{ if user }}x{{ end }}",
		"{{ $x := user }}",
		"{{ user | printf }}",
		"{{ user }",
	} {
		_, err = rules.Render(text, v)
		assert.Error(t, err, text)
	}

	assert.Equal(t, "https://x/projects/p/cards/c1", rules.ResourceLink("https://x/", "p", domain.ResourceCard, "c1"))
	assert.Equal(t, "/projects/p/tasks/t1", rules.ResourceLink("", "p", domain.ResourceTask, "t1"))
}

func TestEvaluateSpawnsFromTemplates(t *testing.T) {
	eng, r := setup(t)
	ctx := context.Background()

	report, err := eng.Evaluate(ctx, completedEvent("origin-1"))
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Results, 1, "type-scoped rule must not match an untyped event")
	assert.Equal(t, 1, report.Count(domain.OutcomeApplied))
	assert.Equal(t, "default-org", report.Event.OrgID)
	spawned := report.Spawned()
	require.Len(t, spawned, 2)

	review, err := r.GetTask(ctx, spawned[0])
	require.NoError(t, err)
	assert.Equal(t, "Review https://board.example/projects/proj-1/tasks/origin-1", review.Title)
	assert.Equal(t, "u1 moved it from claimed to completed in Rules", review.Description)
	require.NotNil(t, review.Priority)
	assert.Equal(t, 2, *review.Priority)
	assert.Equal(t, domain.StatusAvailable, review.Status)
	assert.Equal(t, int64(1), review.Version)
	rule := ruleNamed(t, r, "review-done")
	require.NotNil(t, review.CreatedFromRuleID)
	assert.Equal(t, rule.ID, *review.CreatedFromRuleID)

	deploy, err := r.GetTask(ctx, spawned[1])
	require.NoError(t, err)
	assert.Equal(t, "Deploy", deploy.Title)
	assert.NotNil(t, deploy.TypeID)

	ex, err := r.GetRuleExecution(ctx, rule.ID, domain.ResourceTask, "origin-1")
	require.NoError(t, err)
	assert.Equal(t, spawned, ex.SpawnedTaskIDs)
}

func TestEvaluateIsIdempotentPerOrigin(t *testing.T) {
	eng, r := setup(t)
	ctx := context.Background()

	first, err := eng.Evaluate(ctx, completedEvent("origin-1"))
	require.NoError(t, err)
	assert.Len(t, first.Spawned(), 2)

	again, err := eng.Evaluate(ctx, completedEvent("origin-1"))
	require.NoError(t, err)
	require.Len(t, again.Results, 1)
	assert.Equal(t, domain.OutcomeSuppressed, again.Results[0].Outcome)
	assert.Equal(t, rules.ReasonAlreadyExecuted, again.Results[0].Reason)
	assert.Empty(t, again.Spawned())

	other, err := eng.Evaluate(ctx, completedEvent("origin-2"))
	require.NoError(t, err)
	assert.Len(t, other.Spawned(), 2)

	list, err := r.ListRuleExecutions(ctx, ruleNamed(t, r, "review-done").ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestConcurrentEvaluateFiresOnce(t *testing.T) {
	eng, _ := setup(t)
	ctx := context.Background()

	var mu sync.Mutex
	var spawned []string
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			report, err := eng.Evaluate(ctx, completedEvent("origin-race"))
			if err != nil {
				return err
			}
			mu.Lock()
			spawned = append(spawned, report.Spawned()...)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, spawned, 2)
}

func TestTypeScopedAndSpawnedOrigins(t *testing.T) {
	eng, r := setup(t)
	ctx := context.Background()
	qa := ruleNamed(t, r, "qa-only")
	require.NotNil(t, qa.TaskTypeID)

	ev := completedEvent("typed-1")
	ev.TaskTypeID = qa.TaskTypeID
	report, err := eng.Evaluate(ctx, ev)
	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Count(domain.OutcomeApplied))

	// A spawned task is a new origin once a user moves it.
	spawnedBy := ruleNamed(t, r, "review-done").ID
	moved := completedEvent("spawned-1")
	moved.SpawnedBy = &spawnedBy
	report, err = eng.Evaluate(ctx, moved)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, domain.OutcomeApplied, report.Results[0].Outcome)
	_, err = r.GetRuleExecution(ctx, spawnedBy, domain.ResourceTask, "spawned-1")
	require.NoError(t, err)

	// Its creation inside a cascade is not fed back to the rule that made it.
	created := completedEvent("spawned-2")
	created.SpawnedBy = &spawnedBy
	created.Cascade = true
	report, err = eng.Evaluate(ctx, created)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, domain.OutcomeSuppressed, report.Results[0].Outcome)
	assert.Equal(t, rules.ReasonSelfTrigger, report.Results[0].Reason)

	_, err = r.GetRuleExecution(ctx, spawnedBy, domain.ResourceTask, "spawned-2")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestEvaluateRejectsIncompleteEvent(t *testing.T) {
	eng, _ := setup(t)
	_, err := eng.Evaluate(context.Background(), domain.Event{ResourceType: domain.ResourceTask, ProjectID: "proj-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
