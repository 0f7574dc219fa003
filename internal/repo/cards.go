package repo

import (
	"context"
	"database/sql"
	"errors"

	"taskboard/internal/domain"
)

const cardColumns = `id,project_id,title,description,state,task_count,completed_count,version,created_at,updated_at`

func scanCard(row rowScanner) (domain.Card, error) {
	var c domain.Card
	var state string
	err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &c.Description, &state, &c.TaskCount, &c.CompletedCount, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	c.State = domain.CardState(state)
	return c, err
}

func (r Repo) InsertCard(ctx context.Context, tx *sql.Tx, c domain.Card) error {
	if c.State == "" {
		c.State = domain.CardPendiente
	}
	if c.Version == 0 {
		c.Version = 1
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO cards(`+cardColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Title, c.Description, string(c.State), c.TaskCount, c.CompletedCount, c.Version, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCard(ctx context.Context, id string) (domain.Card, error) {
	return scanCard(r.DB.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id=?`, id))
}

func (r Repo) GetCardTx(ctx context.Context, tx *sql.Tx, id string) (domain.Card, error) {
	return scanCard(tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id=?`, id))
}

func (r Repo) ListCards(ctx context.Context, projectID string) ([]domain.Card, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// RecountCardTx recomputes a card's counters and state from its tasks.
// It returns the card as it was before and after the recount.
func (r Repo) RecountCardTx(ctx context.Context, tx *sql.Tx, cardID, now string) (domain.Card, domain.Card, error) {
	before, err := r.GetCardTx(ctx, tx, cardID)
	if err != nil {
		return before, before, err
	}
	var total, completed int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END),0) FROM tasks WHERE card_id=?`, cardID).
		Scan(&total, &completed); err != nil {
		return before, before, err
	}
	after := before
	after.TaskCount = total
	after.CompletedCount = completed
	after.State = domain.CardStateFor(completed, total)
	after.Version = before.Version + 1
	after.UpdatedAt = now
	ok, err := affected(tx.ExecContext(ctx, `UPDATE cards SET task_count=?, completed_count=?, state=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		total, completed, string(after.State), now, cardID, before.Version))
	if err != nil {
		return before, before, err
	}
	if !ok {
		return before, before, ErrNotFound
	}
	return before, after, nil
}

func (r Repo) InsertMilestone(ctx context.Context, tx *sql.Tx, m domain.Milestone) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO milestones(id,project_id,title,due_at,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Title, nullableStringPtr(m.DueAt), m.CreatedAt)
	return err
}

func (r Repo) GetMilestone(ctx context.Context, id string) (domain.Milestone, error) {
	var m domain.Milestone
	var due sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,title,due_at,created_at FROM milestones WHERE id=?`, id).
		Scan(&m.ID, &m.ProjectID, &m.Title, &due, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	m.DueAt = stringPtr(due)
	return m, err
}
