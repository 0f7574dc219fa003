package repo

import (
	"context"
	"database/sql"
	"errors"

	"taskboard/internal/domain"
)

const sessionColumns = `id,user_id,task_id,started_at,last_heartbeat_at,ended_at,ended_reason`

func scanSession(row rowScanner) (domain.WorkSession, error) {
	var s domain.WorkSession
	var endedAt, reason sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &s.TaskID, &s.StartedAt, &s.LastHeartbeatAt, &endedAt, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.EndedAt = stringPtr(endedAt)
	if reason.Valid {
		er := domain.EndReason(reason.String)
		s.EndedReason = &er
	}
	return s, nil
}

// InsertSession opens a session on a task that exists and is not completed.
// It reports false when the task guard fails. The partial unique index on
// active sessions rejects a second open session for the same task.
func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.WorkSession) (bool, error) {
	return affected(r.q(tx).ExecContext(ctx, `INSERT INTO work_sessions(id,user_id,task_id,started_at,last_heartbeat_at)
SELECT ?,?,?,?,? WHERE EXISTS (SELECT 1 FROM tasks WHERE id=? AND status != 'completed')`,
		s.ID, s.UserID, s.TaskID, s.StartedAt, s.LastHeartbeatAt, s.TaskID))
}

func (r Repo) GetSession(ctx context.Context, tx *sql.Tx, id string) (domain.WorkSession, error) {
	return scanSession(r.q(tx).QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM work_sessions WHERE id=?`, id))
}

func (r Repo) ActiveSessionForTask(ctx context.Context, tx *sql.Tx, taskID string) (domain.WorkSession, error) {
	return scanSession(r.q(tx).QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM work_sessions WHERE task_id=? AND ended_at IS NULL`, taskID))
}

// TouchSession records a heartbeat on an open session owned by userID.
func (r Repo) TouchSession(ctx context.Context, id, userID, now string) (bool, error) {
	return affected(r.DB.ExecContext(ctx, `UPDATE work_sessions SET last_heartbeat_at=? WHERE id=? AND user_id=? AND ended_at IS NULL`, now, id, userID))
}

// EndSession closes an open session. It reports false if the session was already closed.
func (r Repo) EndSession(ctx context.Context, tx *sql.Tx, id, endedAt string, reason domain.EndReason) (bool, error) {
	return affected(tx.ExecContext(ctx, `UPDATE work_sessions SET ended_at=?, ended_reason=? WHERE id=? AND ended_at IS NULL`, endedAt, string(reason), id))
}

func (r Repo) listSessions(ctx context.Context, query string, args ...any) ([]domain.WorkSession, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) ActiveSessionsForUser(ctx context.Context, userID string) ([]domain.WorkSession, error) {
	return r.listSessions(ctx, `SELECT `+sessionColumns+` FROM work_sessions WHERE user_id=? AND ended_at IS NULL ORDER BY started_at, id`, userID)
}

func (r Repo) SessionsForTask(ctx context.Context, taskID string) ([]domain.WorkSession, error) {
	return r.listSessions(ctx, `SELECT `+sessionColumns+` FROM work_sessions WHERE task_id=? ORDER BY started_at, id`, taskID)
}

// StaleSessions lists open sessions whose last heartbeat is older than cutoff.
func (r Repo) StaleSessions(ctx context.Context, cutoff string) ([]domain.WorkSession, error) {
	return r.listSessions(ctx, `SELECT `+sessionColumns+` FROM work_sessions WHERE ended_at IS NULL AND last_heartbeat_at < ? ORDER BY last_heartbeat_at, id`, cutoff)
}

// AddWorkTotal adds seconds to the user's accumulated time on a task.
func (r Repo) AddWorkTotal(ctx context.Context, tx *sql.Tx, userID, taskID string, seconds int64, now string) error {
	if seconds < 0 {
		seconds = 0
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO work_totals(user_id,task_id,accumulated_s,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id,task_id) DO UPDATE SET accumulated_s=work_totals.accumulated_s+excluded.accumulated_s, updated_at=excluded.updated_at`,
		userID, taskID, seconds, now)
	return err
}

func (r Repo) GetWorkTotal(ctx context.Context, userID, taskID string) (domain.WorkTotal, error) {
	var wt domain.WorkTotal
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,task_id,accumulated_s,updated_at FROM work_totals WHERE user_id=? AND task_id=?`, userID, taskID).
		Scan(&wt.UserID, &wt.TaskID, &wt.AccumulatedS, &wt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wt, ErrNotFound
	}
	return wt, err
}

func (r Repo) ListWorkTotals(ctx context.Context, userID string) ([]domain.WorkTotal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,task_id,accumulated_s,updated_at FROM work_totals WHERE user_id=? ORDER BY task_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkTotal
	for rows.Next() {
		var wt domain.WorkTotal
		if err := rows.Scan(&wt.UserID, &wt.TaskID, &wt.AccumulatedS, &wt.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, wt)
	}
	return res, rows.Err()
}
