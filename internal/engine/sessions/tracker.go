// Package sessions tracks time spent on tasks. At most one session per task
// may be open at a time; the database's partial unique index enforces it.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

type Tracker struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Membership
	Log    *slog.Logger
	Now    func() time.Time
}

func New(conn *sql.DB, log *slog.Logger) Tracker {
	if log == nil {
		log = slog.Default()
	}
	return Tracker{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn},
		Auth:   auth.Service{DB: conn},
		Log:    log,
		Now:    time.Now,
	}
}

func (t Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func (t Tracker) logger() *slog.Logger {
	if t.Log != nil {
		return t.Log
	}
	return slog.Default()
}

// Start opens a session for userID on taskID.
func (t Tracker) Start(ctx context.Context, userID, taskID string) (domain.WorkSession, error) {
	if userID == "" || taskID == "" {
		return domain.WorkSession{}, domain.Validation("user and task are required")
	}
	task, err := t.Repo.GetTask(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.WorkSession{}, domain.NotFound("task %s not found", taskID)
	}
	if err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	if t.Auth != nil {
		if err := t.Auth.RequireMember(ctx, task.ProjectID, userID); err != nil {
			return domain.WorkSession{}, err
		}
	}
	now := t.now().Format(time.RFC3339)
	s := domain.WorkSession{
		ID:              uuid.NewString(),
		UserID:          userID,
		TaskID:          taskID,
		StartedAt:       now,
		LastHeartbeatAt: now,
	}

	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	defer tx.Rollback()
	ok, err := t.Repo.InsertSession(ctx, tx, s)
	if db.IsUniqueViolation(err) {
		return domain.WorkSession{}, domain.SessionAlreadyActive(taskID)
	}
	if err != nil {
		return domain.WorkSession{}, domain.DBError(fmt.Errorf("insert session: %w", err))
	}
	if !ok {
		_ = tx.Rollback()
		cur, err := t.Repo.GetTask(ctx, taskID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.WorkSession{}, domain.NotFound("task %s not found", taskID)
		}
		if err != nil {
			return domain.WorkSession{}, domain.DBError(err)
		}
		return domain.WorkSession{}, domain.InvalidTransition(cur.Status, "start work on")
	}
	if err := t.Events.Append(ctx, tx, events.SessionStarted, task.ProjectID, "task", taskID, userID, events.Payload{"session_id": s.ID}); err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	return s, nil
}

// Heartbeat marks an open session owned by userID as alive.
func (t Tracker) Heartbeat(ctx context.Context, sessionID, userID string) (domain.WorkSession, error) {
	now := t.now().Format(time.RFC3339)
	ok, err := t.Repo.TouchSession(ctx, sessionID, userID, now)
	if err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	s, err := t.Repo.GetSession(ctx, nil, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.WorkSession{}, domain.NotFound("work session %s not found", sessionID)
	}
	if err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	if ok {
		return s, nil
	}
	if s.UserID != userID {
		return domain.WorkSession{}, domain.NotAuthorized("work session %s belongs to another user", sessionID)
	}
	return domain.WorkSession{}, domain.SessionClosed(sessionID)
}

// Pause closes the caller's session with reason user_pause.
func (t Tracker) Pause(ctx context.Context, sessionID, userID string) (domain.WorkSession, error) {
	return t.Close(ctx, sessionID, userID, domain.EndUserPause)
}

// Close ends a session owned by userID and credits its elapsed time.
func (t Tracker) Close(ctx context.Context, sessionID, userID string, reason domain.EndReason) (domain.WorkSession, error) {
	if _, err := domain.ParseEndReason(string(reason)); err != nil {
		return domain.WorkSession{}, domain.Validation("%v", err)
	}
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	defer tx.Rollback()
	s, err := t.Repo.GetSession(ctx, tx, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.WorkSession{}, domain.NotFound("work session %s not found", sessionID)
	}
	if err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	if s.UserID != userID {
		return domain.WorkSession{}, domain.NotAuthorized("work session %s belongs to another user", sessionID)
	}
	closed, err := t.closeTx(ctx, tx, s, reason, t.now())
	if err != nil {
		return domain.WorkSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	return closed, nil
}

// CloseActiveForTaskTx closes whatever session is open on the task, inside
// the caller's transaction. It returns nil when none was open.
func (t Tracker) CloseActiveForTaskTx(ctx context.Context, tx *sql.Tx, taskID string, reason domain.EndReason) (*domain.WorkSession, error) {
	s, err := t.Repo.ActiveSessionForTask(ctx, tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.DBError(err)
	}
	closed, err := t.closeTx(ctx, tx, s, reason, t.now())
	if err != nil {
		return nil, err
	}
	return &closed, nil
}

// SweepStale closes sessions whose last heartbeat is older than olderThan.
// A stale session ends at its last heartbeat so idle time is not credited.
func (t Tracker) SweepStale(ctx context.Context, olderThan time.Duration) ([]domain.WorkSession, error) {
	if olderThan <= 0 {
		return nil, domain.Validation("stale threshold must be positive")
	}
	cutoff := t.now().Add(-olderThan).Format(time.RFC3339)
	stale, err := t.Repo.StaleSessions(ctx, cutoff)
	if err != nil {
		return nil, domain.DBError(err)
	}
	var out []domain.WorkSession
	for _, s := range stale {
		end, err := time.Parse(time.RFC3339, s.LastHeartbeatAt)
		if err != nil {
			return out, domain.DBError(fmt.Errorf("parse heartbeat of session %s: %w", s.ID, err))
		}
		closed, err := t.sweepOne(ctx, s, end)
		if errors.Is(err, domain.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, closed)
	}
	if len(out) > 0 {
		t.logger().Info("swept stale work sessions", "count", len(out), "cutoff", cutoff)
	}
	return out, nil
}

func (t Tracker) sweepOne(ctx context.Context, s domain.WorkSession, end time.Time) (domain.WorkSession, error) {
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	defer tx.Rollback()
	closed, err := t.closeTx(ctx, tx, s, domain.EndStaleTimeout, end)
	if err != nil {
		return domain.WorkSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	return closed, nil
}

func (t Tracker) closeTx(ctx context.Context, tx *sql.Tx, s domain.WorkSession, reason domain.EndReason, end time.Time) (domain.WorkSession, error) {
	endedAt := end.UTC().Format(time.RFC3339)
	ok, err := t.Repo.EndSession(ctx, tx, s.ID, endedAt, reason)
	if err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	if !ok {
		return domain.WorkSession{}, domain.SessionClosed(s.ID)
	}
	elapsed, err := Elapsed(s.StartedAt, endedAt)
	if err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	if err := t.Repo.AddWorkTotal(ctx, tx, s.UserID, s.TaskID, elapsed, endedAt); err != nil {
		return domain.WorkSession{}, domain.DBError(fmt.Errorf("add work total: %w", err))
	}
	if err := t.Events.Append(ctx, tx, events.SessionClosed, "", "task", s.TaskID, s.UserID, events.Payload{
		"session_id": s.ID,
		"reason":     string(reason),
		"elapsed_s":  elapsed,
	}); err != nil {
		return domain.WorkSession{}, domain.DBError(err)
	}
	s.EndedAt = &endedAt
	s.EndedReason = &reason
	return s, nil
}

// Elapsed returns whole seconds between two RFC3339 timestamps, never negative.
func Elapsed(startedAt, endedAt string) (int64, error) {
	start, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return 0, fmt.Errorf("parse started_at: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endedAt)
	if err != nil {
		return 0, fmt.Errorf("parse ended_at: %w", err)
	}
	d := int64(end.Sub(start) / time.Second)
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Totals returns the user's accumulated seconds per task.
func (t Tracker) Totals(ctx context.Context, userID string) ([]domain.WorkTotal, error) {
	res, err := t.Repo.ListWorkTotals(ctx, userID)
	if err != nil {
		return nil, domain.DBError(err)
	}
	return res, nil
}

// Total returns the user's accumulated seconds on one task.
func (t Tracker) Total(ctx context.Context, userID, taskID string) (int64, error) {
	wt, err := t.Repo.GetWorkTotal(ctx, userID, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.DBError(err)
	}
	return wt.AccumulatedS, nil
}

// Active lists the user's open sessions.
func (t Tracker) Active(ctx context.Context, userID string) ([]domain.WorkSession, error) {
	res, err := t.Repo.ActiveSessionsForUser(ctx, userID)
	if err != nil {
		return nil, domain.DBError(err)
	}
	return res, nil
}
