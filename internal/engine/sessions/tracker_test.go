package sessions_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine/sessions"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setup(t *testing.T) (sessions.Tracker, repo.Repo, *clock) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	cfg, err := config.FromYAML([]byte(`project: {id: proj-1}
members:
  - {user: u1, role: member}
  - {user: u2, role: member}
`))
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	_, err = app.ApplyConfig(ctx, r, cfg, "u1", time.Now())
	require.NoError(t, err)

	clk := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	tr := sessions.New(conn, nil)
	tr.Now = clk.Now
	tr.Events.Now = clk.Now
	return tr, r, clk
}

func insertTask(t *testing.T, r repo.Repo, id string, status domain.TaskStatus) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	task := domain.Task{ID: id, ProjectID: "proj-1", Title: id, Status: status, Version: 1, CreatedAt: now, UpdatedAt: now}
	if status == domain.StatusClaimed {
		u := "u1"
		task.ClaimedBy = &u
	}
	require.NoError(t, r.InsertTask(context.Background(), nil, task))
}

func TestHeartbeatsDoNotCreateSessions(t *testing.T) {
	tr, r, clk := setup(t)
	ctx := context.Background()
	insertTask(t, r, "t1", domain.StatusClaimed)

	s, err := tr.Start(ctx, "u1", "t1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		clk.Advance(30 * time.Second)
		hb, err := tr.Heartbeat(ctx, s.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, clk.Now().Format(time.RFC3339), hb.LastHeartbeatAt)
	}
	all, err := r.SessionsForTask(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	clk.Advance(30 * time.Second)
	paused, err := tr.Pause(ctx, s.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, paused.EndedReason)
	assert.Equal(t, domain.EndUserPause, *paused.EndedReason)

	total, err := tr.Total(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), total)

	_, err = tr.Heartbeat(ctx, s.ID, "u1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = tr.Pause(ctx, s.ID, "u1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	second, err := tr.Start(ctx, "u1", "t1")
	require.NoError(t, err)
	clk.Advance(10 * time.Second)
	_, err = tr.Pause(ctx, second.ID, "u1")
	require.NoError(t, err)
	total, err = tr.Total(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(130), total)
}

func TestOneActiveSessionPerTask(t *testing.T) {
	tr, r, _ := setup(t)
	ctx := context.Background()
	insertTask(t, r, "t1", domain.StatusAvailable)
	insertTask(t, r, "done", domain.StatusCompleted)

	s, err := tr.Start(ctx, "u1", "t1")
	require.NoError(t, err)

	_, err = tr.Start(ctx, "u2", "t1")
	assert.ErrorIs(t, err, domain.ErrSessionAlreadyActive)

	_, err = tr.Start(ctx, "u1", "done")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = tr.Start(ctx, "outsider", "t1")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = tr.Start(ctx, "u1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = tr.Heartbeat(ctx, s.ID, "u2")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = tr.Pause(ctx, s.ID, "u2")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = tr.Heartbeat(ctx, "nope", "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	active, err := tr.Active(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, s.ID, active[0].ID)
}

func TestSweepStaleEndsAtLastHeartbeat(t *testing.T) {
	tr, r, clk := setup(t)
	ctx := context.Background()
	insertTask(t, r, "t1", domain.StatusAvailable)
	insertTask(t, r, "t2", domain.StatusAvailable)

	stale, err := tr.Start(ctx, "u1", "t1")
	require.NoError(t, err)
	clk.Advance(45 * time.Second)
	_, err = tr.Heartbeat(ctx, stale.ID, "u1")
	require.NoError(t, err)
	lastBeat := clk.Now()

	clk.Advance(10 * time.Minute)
	fresh, err := tr.Start(ctx, "u2", "t2")
	require.NoError(t, err)

	_, err = tr.SweepStale(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	closed, err := tr.SweepStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, stale.ID, closed[0].ID)
	require.NotNil(t, closed[0].EndedAt)
	assert.Equal(t, lastBeat.Format(time.RFC3339), *closed[0].EndedAt)
	assert.Equal(t, domain.EndStaleTimeout, *closed[0].EndedReason)

	total, err := tr.Total(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(45), total)

	again, err := tr.SweepStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	active, err := tr.Active(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh.ID, active[0].ID)

	totals, err := tr.Totals(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "t1", totals[0].TaskID)
}

func TestElapsed(t *testing.T) {
	d, err := sessions.Elapsed("2025-03-01T09:00:00Z", "2025-03-01T09:01:30Z")
	require.NoError(t, err)
	assert.Equal(t, int64(90), d)

	d, err = sessions.Elapsed("2025-03-01T09:01:30Z", "2025-03-01T09:00:00Z")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = sessions.Elapsed("yesterday", "2025-03-01T09:00:00Z")
	assert.Error(t, err)
}
