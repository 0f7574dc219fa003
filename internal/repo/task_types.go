package repo

import (
	"context"
	"database/sql"
	"errors"

	"taskboard/internal/domain"
)

func (r Repo) InsertTaskType(ctx context.Context, tx *sql.Tx, tt domain.TaskType) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_types(id,project_id,name,created_at) VALUES (?,?,?,?)`,
		tt.ID, tt.ProjectID, tt.Name, tt.CreatedAt)
	return err
}

func scanTaskType(row rowScanner) (domain.TaskType, error) {
	var tt domain.TaskType
	err := row.Scan(&tt.ID, &tt.ProjectID, &tt.Name, &tt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tt, ErrNotFound
	}
	return tt, err
}

func (r Repo) GetTaskTypeTx(ctx context.Context, tx *sql.Tx, id string) (domain.TaskType, error) {
	return scanTaskType(r.q(tx).QueryRowContext(ctx, `SELECT id,project_id,name,created_at FROM task_types WHERE id=?`, id))
}

func (r Repo) GetTaskTypeByName(ctx context.Context, tx *sql.Tx, projectID, name string) (domain.TaskType, error) {
	return scanTaskType(r.q(tx).QueryRowContext(ctx, `SELECT id,project_id,name,created_at FROM task_types WHERE project_id=? AND name=?`, projectID, name))
}

func (r Repo) ListTaskTypes(ctx context.Context, projectID string) ([]domain.TaskType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,created_at FROM task_types WHERE project_id=? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskType
	for rows.Next() {
		tt, err := scanTaskType(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, tt)
	}
	return res, rows.Err()
}

// TaskTypeReferencesTx counts tasks, rules and templates pointing at a task type.
func (r Repo) TaskTypeReferencesTx(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT
	(SELECT COUNT(*) FROM tasks WHERE type_id=?) +
	(SELECT COUNT(*) FROM rules WHERE task_type_id=?) +
	(SELECT COUNT(*) FROM task_templates WHERE type_id=?)`, id, id, id).Scan(&n)
	return n, err
}

func (r Repo) DeleteTaskType(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	return affected(tx.ExecContext(ctx, `DELETE FROM task_types WHERE id=?`, id))
}

func (r Repo) InsertCapability(ctx context.Context, tx *sql.Tx, c domain.Capability) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO capabilities(id,project_id,name) VALUES (?,?,?)`, c.ID, c.ProjectID, c.Name)
	return err
}

func scanCapability(row rowScanner) (domain.Capability, error) {
	var c domain.Capability
	err := row.Scan(&c.ID, &c.ProjectID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetCapabilityTx(ctx context.Context, tx *sql.Tx, id string) (domain.Capability, error) {
	return scanCapability(r.q(tx).QueryRowContext(ctx, `SELECT id,project_id,name FROM capabilities WHERE id=?`, id))
}

func (r Repo) GetCapabilityByName(ctx context.Context, tx *sql.Tx, projectID, name string) (domain.Capability, error) {
	return scanCapability(r.q(tx).QueryRowContext(ctx, `SELECT id,project_id,name FROM capabilities WHERE project_id=? AND name=?`, projectID, name))
}
