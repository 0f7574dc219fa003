package cards_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine/cards"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

func setup(t *testing.T) (cards.Evaluator, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	require.NoError(t, r.UpsertProjectTx(ctx, nil, domain.Project{ID: "proj-1", Name: "Cards", OrgID: "default-org", CreatedAt: time.Now().UTC().Format(time.RFC3339)}))
	return cards.New(conn), conn
}

func addTask(t *testing.T, conn *sql.DB, cardID, id string, status domain.TaskStatus) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	task := domain.Task{ID: id, ProjectID: "proj-1", Title: id, Status: status, Version: 1, CardID: &cardID, CreatedAt: now, UpdatedAt: now}
	if status == domain.StatusClaimed {
		u := "u1"
		task.ClaimedBy = &u
	}
	require.NoError(t, repo.Repo{DB: conn}.InsertTask(context.Background(), nil, task))
}

func complete(t *testing.T, conn *sql.DB, id string) {
	t.Helper()
	_, err := conn.Exec(`UPDATE tasks SET status='completed', claimed_by=NULL, version=version+1 WHERE id=?`, id)
	require.NoError(t, err)
}

func TestRecomputeDerivesState(t *testing.T) {
	ev, conn := setup(t)
	ctx := context.Background()

	c, err := ev.Create(ctx, "proj-1", "Checkout", "")
	require.NoError(t, err)
	assert.Equal(t, domain.CardPendiente, c.State)

	before, after, err := ev.Recompute(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CardPendiente, before.State)
	assert.Equal(t, domain.CardPendiente, after.State, "an empty card is not closed")

	addTask(t, conn, c.ID, "t1", domain.StatusAvailable)
	addTask(t, conn, c.ID, "t2", domain.StatusClaimed)
	_, after, err = ev.Recompute(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, after.TaskCount)
	assert.Equal(t, 0, after.CompletedCount)
	assert.Equal(t, domain.CardPendiente, after.State)

	complete(t, conn, "t1")
	before, after, err = ev.Recompute(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CardPendiente, before.State)
	assert.Equal(t, domain.CardEnCurso, after.State)

	complete(t, conn, "t2")
	before, after, err = ev.Recompute(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.CardEnCurso, before.State)
	assert.Equal(t, domain.CardCerrada, after.State)
	assert.Equal(t, after.Version, before.Version+1)

	stored, err := ev.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, after.State, stored.State)
	assert.Equal(t, 2, stored.CompletedCount)

	trail, err := ev.Events.ForEntity(ctx, "card", c.ID)
	require.NoError(t, err)
	assert.Len(t, trail, 2, "only state changes are audited")
}

func TestCardErrors(t *testing.T) {
	ev, _ := setup(t)
	ctx := context.Background()

	_, err := ev.Create(ctx, "proj-1", "", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = ev.Recompute(ctx, "missing", "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = ev.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
