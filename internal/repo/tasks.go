package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskboard/internal/domain"
)

const taskColumns = `id,project_id,type_id,capability_id,title,description,priority,status,claimed_by,claimed_at,completed_at,completed_by,version,card_id,milestone_id,created_from_rule_id,created_at,updated_at,
	EXISTS (
		SELECT 1 FROM task_deps d
		JOIN tasks dep ON dep.id=d.depends_on_task_id
		WHERE d.task_id=tasks.id AND dep.status != 'completed'
	) AS blocked,
	EXISTS (
		SELECT 1 FROM work_sessions s WHERE s.task_id=tasks.id AND s.ended_at IS NULL
	) AS ongoing`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var typeID, capabilityID, claimedBy, claimedAt, completedAt, completedBy, cardID, milestoneID, ruleID sql.NullString
	var priority sql.NullInt64
	var status string
	var ongoing bool
	err := row.Scan(&t.ID, &t.ProjectID, &typeID, &capabilityID, &t.Title, &t.Description, &priority, &status,
		&claimedBy, &claimedAt, &completedAt, &completedBy, &t.Version, &cardID, &milestoneID, &ruleID,
		&t.CreatedAt, &t.UpdatedAt, &t.Blocked, &ongoing)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.TaskStatus(status)
	t.TypeID = stringPtr(typeID)
	t.CapabilityID = stringPtr(capabilityID)
	t.Priority = intPtr(priority)
	t.ClaimedBy = stringPtr(claimedBy)
	t.ClaimedAt = stringPtr(claimedAt)
	t.CompletedAt = stringPtr(completedAt)
	t.CompletedBy = stringPtr(completedBy)
	t.CardID = stringPtr(cardID)
	t.MilestoneID = stringPtr(milestoneID)
	t.CreatedFromRuleID = stringPtr(ruleID)
	if t.Status == domain.StatusClaimed {
		t.WorkState = domain.WorkTaken
		if ongoing {
			t.WorkState = domain.WorkOngoing
		}
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if t.Version == 0 {
		t.Version = 1
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,project_id,type_id,capability_id,title,description,priority,status,claimed_by,claimed_at,completed_at,completed_by,version,card_id,milestone_id,created_from_rule_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.TypeID), nullableStringPtr(t.CapabilityID), t.Title, t.Description, nullableIntPtr(t.Priority),
		string(t.Status), nullableStringPtr(t.ClaimedBy), nullableStringPtr(t.ClaimedAt), nullableStringPtr(t.CompletedAt), nullableStringPtr(t.CompletedBy),
		t.Version, nullableStringPtr(t.CardID), nullableStringPtr(t.MilestoneID), nullableStringPtr(t.CreatedFromRuleID), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

func (r Repo) getTask(ctx context.Context, q queryer, id string) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	deps, err := listTaskDependencies(ctx, q, t.ID)
	if err != nil {
		return t, err
	}
	t.DependsOn = deps
	return t, nil
}

type TaskFilters struct {
	ProjectID         string
	Status            string
	TypeID            string
	CapabilityID      string
	Query             string
	Blocked           *bool
	CardID            string
	MilestoneID       string
	ClaimedBy         string
	CreatedFromRuleID string
	Limit             int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	eq := func(col, v string) {
		if v != "" {
			clauses = append(clauses, col+"=?")
			args = append(args, v)
		}
	}
	eq("project_id", f.ProjectID)
	eq("status", f.Status)
	eq("type_id", f.TypeID)
	eq("capability_id", f.CapabilityID)
	eq("card_id", f.CardID)
	eq("milestone_id", f.MilestoneID)
	eq("claimed_by", f.ClaimedBy)
	eq("created_from_rule_id", f.CreatedFromRuleID)
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		clauses = append(clauses, "(lower(title) LIKE ? OR lower(description) LIKE ?)")
		args = append(args, like, like)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT * FROM (SELECT ` + taskColumns + ` FROM tasks ` + where + `)`
	if f.Blocked != nil {
		if *f.Blocked {
			query += ` WHERE blocked`
		} else {
			query += ` WHERE NOT blocked`
		}
	}
	query += ` ORDER BY CASE WHEN priority IS NULL THEN 1 ELSE 0 END, priority ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ClaimTaskCAS moves an available task at the expected version to claimed.
// It reports false when no row matched.
func (r Repo) ClaimTaskCAS(ctx context.Context, tx *sql.Tx, id, userID string, expected int64, now string) (bool, error) {
	return affected(tx.ExecContext(ctx, `UPDATE tasks SET status='claimed', claimed_by=?, claimed_at=?, version=version+1, updated_at=?
WHERE id=? AND version=? AND status='available'`, userID, now, now, id, expected))
}

func (r Repo) ReleaseTaskCAS(ctx context.Context, tx *sql.Tx, id, userID string, expected int64, now string) (bool, error) {
	return affected(tx.ExecContext(ctx, `UPDATE tasks SET status='available', claimed_by=NULL, claimed_at=NULL, version=version+1, updated_at=?
WHERE id=? AND version=? AND status='claimed' AND claimed_by=?`, now, id, expected, userID))
}

func (r Repo) CompleteTaskCAS(ctx context.Context, tx *sql.Tx, id, userID string, expected int64, now string) (bool, error) {
	return affected(tx.ExecContext(ctx, `UPDATE tasks SET status='completed', claimed_by=NULL, completed_by=?, completed_at=?, version=version+1, updated_at=?
WHERE id=? AND version=? AND status='claimed' AND claimed_by=?`, userID, now, now, id, expected, userID))
}

func patchAssignments(p domain.TaskPatch) ([]string, []any) {
	var sets []string
	var args []any
	str := func(col string, f domain.Field[string], clearTo any) {
		switch {
		case f.IsClear():
			sets = append(sets, col+"=?")
			args = append(args, clearTo)
		case f.IsSet():
			v, _ := f.Get()
			sets = append(sets, col+"=?")
			args = append(args, v)
		}
	}
	str("title", p.Title, "")
	str("description", p.Description, "")
	str("type_id", p.TypeID, nil)
	str("capability_id", p.CapabilityID, nil)
	str("card_id", p.CardID, nil)
	str("milestone_id", p.MilestoneID, nil)
	switch {
	case p.Priority.IsClear():
		sets = append(sets, "priority=?")
		args = append(args, nil)
	case p.Priority.IsSet():
		v, _ := p.Priority.Get()
		sets = append(sets, "priority=?")
		args = append(args, v)
	}
	return sets, args
}

// UpdateTaskCAS applies patch to a task claimed by userID at the expected version.
func (r Repo) UpdateTaskCAS(ctx context.Context, tx *sql.Tx, id, userID string, expected int64, patch domain.TaskPatch, now string) (bool, error) {
	sets, args := patchAssignments(patch)
	sets = append(sets, "version=version+1", "updated_at=?")
	args = append(args, now, id, expected, userID)
	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id=? AND version=? AND status='claimed' AND claimed_by=?`, strings.Join(sets, ", "))
	return affected(tx.ExecContext(ctx, query, args...))
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) ListTaskDependencies(ctx context.Context, taskID string) ([]string, error) {
	return listTaskDependencies(ctx, r.DB, taskID)
}

func listTaskDependencies(ctx context.Context, q queryer, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT depends_on_task_id FROM task_deps WHERE task_id=? ORDER BY depends_on_task_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

func (r Repo) AddDependencies(ctx context.Context, tx *sql.Tx, taskID string, deps []string) error {
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id, depends_on_task_id) VALUES (?,?)`, taskID, d); err != nil {
			return err
		}
	}
	return nil
}
