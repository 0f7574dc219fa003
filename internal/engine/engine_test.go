package engine_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/cards"
	"taskboard/internal/engine/rules"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

const projectID = "proj-1"

const baseConfig = `project:
  id: proj-1
  name: Test project
task_types: [feature, review, a, b]
capabilities: [backend]
members:
  - {user: admin, role: admin}
  - {user: u1, role: member}
  - {user: u2, role: member}
  - {user: u7, role: member}
  - {user: u9, role: member}
`

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	Orch  engine.Orchestrator
	Repo  repo.Repo
	Clock *clock
	Logs  *bytes.Buffer
	Ctx   context.Context
}

func newTestEnv(t *testing.T, workflows string) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	clk := &clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	cfg, err := config.FromYAML([]byte(baseConfig + workflows))
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	_, err = app.ApplyConfig(ctx, r, cfg, "admin", clk.Now())
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	orch := engine.NewOrchestrator(conn, engine.Options{Log: log, Now: clk.Now, MaxCascadeDepth: 3})
	return testEnv{Orch: orch, Repo: r, Clock: clk, Logs: logs, Ctx: ctx}
}

func (env testEnv) typeID(t *testing.T, name string) string {
	t.Helper()
	tt, err := env.Repo.GetTaskTypeByName(env.Ctx, nil, projectID, name)
	require.NoError(t, err)
	return tt.ID
}

func (env testEnv) create(t *testing.T, userID, title string, mutate ...func(*engine.TaskCreateOptions)) domain.Task {
	t.Helper()
	opts := engine.TaskCreateOptions{ProjectID: projectID, UserID: userID, Title: title}
	for _, m := range mutate {
		m(&opts)
	}
	resp, err := env.Orch.Handle(env.Ctx, engine.CreateTask{Options: opts})
	require.NoError(t, err)
	return resp.(engine.TaskResult).Task
}

func (env testEnv) do(req engine.Request) (domain.Task, error) {
	resp, err := env.Orch.Handle(env.Ctx, req)
	if err != nil {
		return domain.Task{}, err
	}
	return resp.(engine.TaskResult).Task, nil
}

func (env testEnv) list(t *testing.T, f repo.TaskFilters) []domain.Task {
	t.Helper()
	f.ProjectID = projectID
	resp, err := env.Orch.Handle(env.Ctx, engine.ListTasks{UserID: "admin", Filters: f})
	require.NoError(t, err)
	return resp.(engine.TasksList).Tasks
}

func withType(id string) func(*engine.TaskCreateOptions) {
	return func(o *engine.TaskCreateOptions) { o.TypeID = &id }
}

func withCard(id string) func(*engine.TaskCreateOptions) {
	return func(o *engine.TaskCreateOptions) { o.CardID = &id }
}

func TestCreateTask(t *testing.T) {
	env := newTestEnv(t, "")
	task := env.create(t, "u1", "  Write docs  ")
	assert.Equal(t, "Write docs", task.Title)
	assert.Equal(t, domain.StatusAvailable, task.Status)
	assert.Equal(t, int64(1), task.Version)
	assert.Nil(t, task.ClaimedBy)
	assert.Empty(t, task.WorkState)

	_, err := env.do(engine.CreateTask{Options: engine.TaskCreateOptions{ProjectID: projectID, UserID: "u1", Title: " "}})
	require.ErrorIs(t, err, domain.ErrValidation)

	p := 9
	_, err = env.do(engine.CreateTask{Options: engine.TaskCreateOptions{ProjectID: projectID, UserID: "u1", Title: "x", Priority: &p}})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.do(engine.CreateTask{Options: engine.TaskCreateOptions{ProjectID: projectID, UserID: "stranger", Title: "x"}})
	require.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = env.do(engine.CreateTask{Options: engine.TaskCreateOptions{ProjectID: "nope", UserID: "u1", Title: "x"}})
	require.ErrorIs(t, err, domain.ErrNotFound)

	missing := "missing-type"
	_, err = env.do(engine.CreateTask{Options: engine.TaskCreateOptions{ProjectID: projectID, UserID: "u1", Title: "x", TypeID: &missing}})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestClaimScenarios(t *testing.T) {
	env := newTestEnv(t, "")
	task := env.create(t, "admin", "Ship feature")

	// Bring the task to version 3.
	task, err := env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 1})
	require.NoError(t, err)
	task, err = env.do(engine.ReleaseTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), task.Version)

	claimed, err := env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u7", ExpectedVersion: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), claimed.Version)
	assert.Equal(t, domain.StatusClaimed, claimed.Status)
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, "u7", *claimed.ClaimedBy)
	assert.Equal(t, domain.WorkTaken, claimed.WorkState)

	_, err = env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u9", ExpectedVersion: 3})
	require.ErrorIs(t, err, domain.ErrClaimOwnershipConflict)
	claimant, ok := domain.ClaimantOf(err)
	require.True(t, ok)
	assert.Equal(t, "u7", claimant)

	_, err = env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u7", ExpectedVersion: 3})
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	env := newTestEnv(t, "")
	task := env.create(t, "admin", "Contended")
	users := []string{"admin", "u1", "u2", "u7", "u9"}

	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, errs[i] = env.do(engine.ClaimTask{TaskID: task.ID, UserID: u, ExpectedVersion: 1})
		}(i, u)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrClaimOwnershipConflict)
	}
	assert.Equal(t, 1, winners)

	cur, err := env.Orch.Engine.GetTask(env.Ctx, task.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.Version)
}

func TestTransitionErrors(t *testing.T) {
	env := newTestEnv(t, "")
	task := env.create(t, "admin", "Work")

	_, err := env.do(engine.ClaimTask{TaskID: task.ID, UserID: "stranger", ExpectedVersion: 1})
	require.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 0})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.do(engine.ClaimTask{TaskID: "missing", UserID: "u1", ExpectedVersion: 1})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.do(engine.CompleteTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 1})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 5})
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	task, err = env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 1})
	require.NoError(t, err)

	_, err = env.do(engine.ReleaseTask{TaskID: task.ID, UserID: "u2", ExpectedVersion: 2})
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = env.do(engine.CompleteTask{TaskID: task.ID, UserID: "u2", ExpectedVersion: 2})
	require.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = env.do(engine.CompleteTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 1})
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	done, err := env.do(engine.CompleteTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Nil(t, done.ClaimedBy)
	require.NotNil(t, done.CompletedBy)
	assert.Equal(t, "u1", *done.CompletedBy)

	_, err = env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u2", ExpectedVersion: 3})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = env.do(engine.ReleaseTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 3})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	trail, err := env.Orch.Engine.Events.ForEntity(env.Ctx, "task", task.ID)
	require.NoError(t, err)
	var types []string
	for _, e := range trail {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"task.created", "task.claimed", "task.completed"}, types)
}

func TestUpdateTask(t *testing.T) {
	env := newTestEnv(t, "")
	p := 2
	task := env.create(t, "admin", "Draft", func(o *engine.TaskCreateOptions) { o.Priority = &p })

	_, err := env.do(engine.UpdateTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 1, Patch: domain.TaskPatch{Title: domain.Set("x")}})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	task, err = env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 1})
	require.NoError(t, err)

	cases := []struct {
		name  string
		patch domain.TaskPatch
	}{
		{"empty", domain.TaskPatch{}},
		{"clear title", domain.TaskPatch{Title: domain.Clear[string]()}},
		{"blank title", domain.TaskPatch{Title: domain.Set("  ")}},
		{"priority range", domain.TaskPatch{Priority: domain.Set(0)}},
		{"unknown type", domain.TaskPatch{TypeID: domain.Set("nope")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.do(engine.UpdateTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 2, Patch: tc.patch})
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	_, err = env.do(engine.UpdateTask{TaskID: task.ID, UserID: "u2", ExpectedVersion: 2, Patch: domain.TaskPatch{Title: domain.Set("x")}})
	require.ErrorIs(t, err, domain.ErrNotAuthorized)

	reviewID := env.typeID(t, "review")
	updated, err := env.do(engine.UpdateTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 2, Patch: domain.TaskPatch{
		Title:    domain.Set("Final"),
		Priority: domain.Clear[int](),
		TypeID:   domain.Set(reviewID),
	}})
	require.NoError(t, err)
	assert.Equal(t, "Final", updated.Title)
	assert.Nil(t, updated.Priority)
	require.NotNil(t, updated.TypeID)
	assert.Equal(t, reviewID, *updated.TypeID)
	assert.Equal(t, int64(3), updated.Version)
	assert.Equal(t, domain.StatusClaimed, updated.Status)

	_, err = env.do(engine.UpdateTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 2, Patch: domain.TaskPatch{Title: domain.Set("Stale")}})
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestUpdateMovesTaskBetweenCards(t *testing.T) {
	env := newTestEnv(t, "")
	ce := cards.New(env.Orch.Engine.DB)
	cardA, err := ce.Create(env.Ctx, projectID, "A", "")
	require.NoError(t, err)
	cardB, err := ce.Create(env.Ctx, projectID, "B", "")
	require.NoError(t, err)

	task := env.create(t, "admin", "Moving", withCard(cardA.ID))
	cardCount := func(id string) int {
		t.Helper()
		c, err := env.Repo.GetCard(env.Ctx, id)
		require.NoError(t, err)
		return c.TaskCount
	}
	require.Equal(t, 1, cardCount(cardA.ID))

	task, err = env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 1})
	require.NoError(t, err)
	moved, err := env.do(engine.UpdateTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: task.Version, Patch: domain.TaskPatch{CardID: domain.Set(cardB.ID)}})
	require.NoError(t, err)
	require.NotNil(t, moved.CardID)
	assert.Equal(t, cardB.ID, *moved.CardID)
	assert.Equal(t, 0, cardCount(cardA.ID))
	assert.Equal(t, 1, cardCount(cardB.ID))

	require.NoError(t, env.Repo.InsertMilestone(env.Ctx, nil, domain.Milestone{ID: "m1", ProjectID: projectID, Title: "Beta", CreatedAt: env.Clock.Now().Format(time.RFC3339)}))
	_, err = env.do(engine.UpdateTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: moved.Version, Patch: domain.TaskPatch{MilestoneID: domain.Set("m1")}})
	require.ErrorIs(t, err, domain.ErrValidation)

	rehomed, err := env.do(engine.UpdateTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: moved.Version, Patch: domain.TaskPatch{
		CardID:      domain.Clear[string](),
		MilestoneID: domain.Set("m1"),
	}})
	require.NoError(t, err)
	assert.Nil(t, rehomed.CardID)
	require.NotNil(t, rehomed.MilestoneID)
	assert.Equal(t, "m1", *rehomed.MilestoneID)
	assert.Equal(t, 0, cardCount(cardB.ID))
}

func TestListTasksFilters(t *testing.T) {
	env := newTestEnv(t, "")
	featureID := env.typeID(t, "feature")
	dep := env.create(t, "admin", "Foundation")
	env.create(t, "admin", "Login page", withType(featureID), func(o *engine.TaskCreateOptions) { o.DependsOn = []string{dep.ID} })
	env.create(t, "admin", "Logout page")
	_, err := env.do(engine.ClaimTask{TaskID: dep.ID, UserID: "u1", ExpectedVersion: 1})
	require.NoError(t, err)

	assert.Len(t, env.list(t, repo.TaskFilters{}), 3)
	assert.Len(t, env.list(t, repo.TaskFilters{Status: "claimed"}), 1)
	assert.Len(t, env.list(t, repo.TaskFilters{TypeID: featureID}), 1)
	assert.Len(t, env.list(t, repo.TaskFilters{Query: "page"}), 2)
	assert.Len(t, env.list(t, repo.TaskFilters{ClaimedBy: "u1"}), 1)
	blocked := true
	got := env.list(t, repo.TaskFilters{Blocked: &blocked})
	require.Len(t, got, 1)
	assert.Equal(t, "Login page", got[0].Title)
	assert.Equal(t, []string{dep.ID}, got[0].DependsOn)

	_, err = env.Orch.Handle(env.Ctx, engine.ListTasks{UserID: "admin", Filters: repo.TaskFilters{ProjectID: projectID, Status: "done"}})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Orch.Handle(env.Ctx, engine.ListTasks{UserID: "stranger", Filters: repo.TaskFilters{ProjectID: projectID}})
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestTaskTypes(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.Orch.Handle(env.Ctx, engine.CreateTaskType{ProjectID: projectID, UserID: "u1", Name: "chore"})
	require.ErrorIs(t, err, domain.ErrNotAuthorized)

	resp, err := env.Orch.Handle(env.Ctx, engine.CreateTaskType{ProjectID: projectID, UserID: "admin", Name: "chore"})
	require.NoError(t, err)
	chore := resp.(engine.TaskTypeCreated).TaskType
	assert.Equal(t, "chore", chore.Name)

	_, err = env.Orch.Handle(env.Ctx, engine.CreateTaskType{ProjectID: projectID, UserID: "admin", Name: "chore"})
	require.ErrorIs(t, err, domain.ErrTaskTypeAlreadyExists)

	env.create(t, "admin", "Sweep floor", withType(chore.ID))
	_, err = env.Orch.Handle(env.Ctx, engine.DeleteTaskType{ProjectID: projectID, UserID: "admin", TaskTypeID: chore.ID})
	require.ErrorIs(t, err, domain.ErrTaskTypeInUse)

	resp, err = env.Orch.Handle(env.Ctx, engine.CreateTaskType{ProjectID: projectID, UserID: "admin", Name: "spike"})
	require.NoError(t, err)
	spike := resp.(engine.TaskTypeCreated).TaskType
	_, err = env.Orch.Handle(env.Ctx, engine.DeleteTaskType{ProjectID: projectID, UserID: "admin", TaskTypeID: spike.ID})
	require.NoError(t, err)
	_, err = env.Orch.Handle(env.Ctx, engine.DeleteTaskType{ProjectID: projectID, UserID: "admin", TaskTypeID: spike.ID})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRuleFiresOncePerOrigin(t *testing.T) {
	env := newTestEnv(t, `workflows:
  - name: intake
    rules:
      - name: triage-new-work
        resource_type: task
        to_state: available
        templates:
          - title: "Triage {{ father }}"
`)
	task := env.create(t, "admin", "Incoming")
	spawned := env.list(t, repo.TaskFilters{Query: "Triage"})
	require.Len(t, spawned, 1)
	require.NotNil(t, spawned[0].CreatedFromRuleID)
	assert.Contains(t, spawned[0].Title, "/projects/proj-1/tasks/"+task.ID)

	claimed, err := env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 1})
	require.NoError(t, err)
	_, err = env.do(engine.ReleaseTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: claimed.Version})
	require.NoError(t, err)

	assert.Len(t, env.list(t, repo.TaskFilters{Query: "Triage"}), 1)
	execs, err := env.Repo.ListRuleExecutions(env.Ctx, *spawned[0].CreatedFromRuleID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, task.ID, execs[0].OriginID)
	assert.Equal(t, []string{spawned[0].ID}, execs[0].SpawnedTaskIDs)
	assert.Contains(t, env.Logs.String(), "reason=self_trigger")
}

func TestRuleFiresForCompletedSpawnedTask(t *testing.T) {
	env := newTestEnv(t, `workflows:
  - name: delivery
    rules:
      - name: review-done
        resource_type: task
        to_state: completed
        templates:
          - title: "Review {{ father }}"
`)
	complete := func(task domain.Task, user string) {
		t.Helper()
		claimed, err := env.do(engine.ClaimTask{TaskID: task.ID, UserID: user, ExpectedVersion: task.Version})
		require.NoError(t, err)
		_, err = env.do(engine.CompleteTask{TaskID: task.ID, UserID: user, ExpectedVersion: claimed.Version})
		require.NoError(t, err)
	}
	origin := env.create(t, "admin", "Feature")
	complete(origin, "u1")
	reviews := env.list(t, repo.TaskFilters{Query: "Review", Status: "available"})
	require.Len(t, reviews, 1)
	review := reviews[0]
	require.NotNil(t, review.CreatedFromRuleID)

	complete(review, "u2")

	execs, err := env.Repo.ListRuleExecutions(env.Ctx, *review.CreatedFromRuleID)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.ElementsMatch(t, []string{origin.ID, review.ID}, []string{execs[0].OriginID, execs[1].OriginID})
	assert.NotContains(t, env.Logs.String(), "self_trigger")
}

func TestTypeScopedRule(t *testing.T) {
	env := newTestEnv(t, `workflows:
  - name: delivery
    rules:
      - name: review-features
        resource_type: task
        task_type: feature
        to_state: completed
        templates:
          - title: "Review work from {{ user }}"
            type: review
            priority: 2
`)
	featureID := env.typeID(t, "feature")
	feature := env.create(t, "admin", "Feature", withType(featureID))
	plain := env.create(t, "admin", "Plain")
	for _, task := range []domain.Task{feature, plain} {
		claimed, err := env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u2", ExpectedVersion: 1})
		require.NoError(t, err)
		_, err = env.do(engine.CompleteTask{TaskID: task.ID, UserID: "u2", ExpectedVersion: claimed.Version})
		require.NoError(t, err)
	}
	reviews := env.list(t, repo.TaskFilters{TypeID: env.typeID(t, "review")})
	require.Len(t, reviews, 1)
	assert.Equal(t, "Review work from u2", reviews[0].Title)
	require.NotNil(t, reviews[0].Priority)
	assert.Equal(t, 2, *reviews[0].Priority)
}

func TestCardClosesAndFiresOnce(t *testing.T) {
	env := newTestEnv(t, `workflows:
  - name: delivery
    rules:
      - name: close-out-card
        resource_type: card
        to_state: cerrada
        templates:
          - title: "Release notes"
          - title: "Retro"
`)
	card, err := cards.New(env.Orch.Engine.DB).Create(env.Ctx, projectID, "Checkout", "")
	require.NoError(t, err)

	var tasks []domain.Task
	for i := 0; i < 3; i++ {
		tasks = append(tasks, env.create(t, "admin", fmt.Sprintf("step %d", i), withCard(card.ID)))
	}
	complete := func(task domain.Task) {
		t.Helper()
		claimed, err := env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: task.Version})
		require.NoError(t, err)
		_, err = env.do(engine.CompleteTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: claimed.Version})
		require.NoError(t, err)
	}
	complete(tasks[0])
	cur, err := env.Repo.GetCard(env.Ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CardEnCurso, cur.State)
	assert.Equal(t, 3, cur.TaskCount)
	assert.Equal(t, 1, cur.CompletedCount)

	complete(tasks[1])
	complete(tasks[2])
	cur, err = env.Repo.GetCard(env.Ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CardCerrada, cur.State)

	spawned := env.list(t, repo.TaskFilters{Status: "available"})
	require.Len(t, spawned, 2)
	assert.ElementsMatch(t, []string{"Release notes", "Retro"}, []string{spawned[0].Title, spawned[1].Title})

	// Recomputing a closed card again does not fire the rule a second time.
	_, _, err = env.Orch.Cards.Recompute(env.Ctx, card.ID, "admin")
	require.NoError(t, err)
	ruleList, err := env.Repo.ListRules(env.Ctx, projectID)
	require.NoError(t, err)
	require.Len(t, ruleList, 1)
	execs, err := env.Repo.ListRuleExecutions(env.Ctx, ruleList[0].ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ResourceCard, execs[0].OriginType)
}

func TestCascadeDepthIsBounded(t *testing.T) {
	env := newTestEnv(t, `workflows:
  - name: ping-pong
    rules:
      - name: a-spawns-b
        resource_type: task
        task_type: a
        to_state: available
        templates:
          - {title: "b task", type: b}
      - name: b-spawns-a
        resource_type: task
        task_type: b
        to_state: available
        templates:
          - {title: "a task", type: a}
`)
	env.create(t, "admin", "root", withType(env.typeID(t, "a")))
	assert.Len(t, env.list(t, repo.TaskFilters{}), 4)
	assert.Contains(t, env.Logs.String(), "rule cascade depth reached")
}

func TestSessionLifecycleOnTask(t *testing.T) {
	env := newTestEnv(t, "")
	task := env.create(t, "admin", "Timed")
	claimed, err := env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 1})
	require.NoError(t, err)

	s, err := env.Orch.Engine.Sessions.Start(env.Ctx, "u1", task.ID)
	require.NoError(t, err)
	cur, err := env.Orch.Engine.GetTask(env.Ctx, task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkOngoing, cur.WorkState)

	env.Clock.Advance(90 * time.Second)
	_, err = env.do(engine.CompleteTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: claimed.Version})
	require.NoError(t, err)

	active, err := env.Orch.Engine.Sessions.Active(env.Ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, active)
	total, err := env.Orch.Engine.Sessions.Total(env.Ctx, "u1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), total)

	_, err = env.Orch.Engine.Sessions.Heartbeat(env.Ctx, s.ID, "u1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = env.Orch.Engine.Sessions.Start(env.Ctx, "u1", task.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

type recordingRules struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingRules) Evaluate(_ context.Context, ev domain.Event) (rules.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return rules.Report{Event: ev}, nil
}

func TestEventsCarryProjectOrg(t *testing.T) {
	env := newTestEnv(t, "")
	rec := &recordingRules{}
	env.Orch.Rules = rec
	task := env.create(t, "admin", "Org scoped")
	_, err := env.do(engine.ClaimTask{TaskID: task.ID, UserID: "u1", ExpectedVersion: 1})
	require.NoError(t, err)

	require.Len(t, rec.events, 2)
	for _, ev := range rec.events {
		assert.Equal(t, "default-org", ev.OrgID)
		assert.Equal(t, projectID, ev.ProjectID)
	}
	assert.Equal(t, "claimed", rec.events[1].ToState)
}

type panickingRules struct{}

func (panickingRules) Evaluate(context.Context, domain.Event) (rules.Report, error) {
	panic("boom")
}

func TestHookFailureDoesNotFailCommit(t *testing.T) {
	env := newTestEnv(t, "")
	env.Orch.Rules = panickingRules{}
	task := env.create(t, "admin", "Survives")
	assert.Equal(t, domain.StatusAvailable, task.Status)
	assert.Contains(t, env.Logs.String(), "post-commit hook failed")

	cur, err := env.Orch.Engine.GetTask(env.Ctx, task.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.Version)
}

func TestHookRecoversPanics(t *testing.T) {
	logs := &bytes.Buffer{}
	h := engine.NewHook(slog.New(slog.NewTextHandler(logs, nil)), true)
	h.Run(context.Background(), "explode", func(context.Context) error { panic("kaboom") })
	h.Wait()
	assert.Contains(t, logs.String(), "post-commit hook panicked")
	assert.Contains(t, logs.String(), "kaboom")
}
