package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/engine/sessions"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// Engine executes task state transitions. Every mutation is a single
// conditional UPDATE; a miss is classified afterwards by resolveConflict.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Auth     auth.Membership
	Sessions sessions.Tracker
	Log      *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Auth:     auth.Service{DB: db},
		Sessions: sessions.New(db, log),
		Log:      log,
		Now:      time.Now,
	}
}

// WithClock returns a copy of the engine whose components all read now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	e.Sessions.Now = now
	e.Sessions.Events.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Transition is a committed task change and the event it raises.
type Transition struct {
	Task  domain.Task
	Event domain.Event
	// Cards lists every card whose counters the change may have moved.
	Cards []string
}

func cardsOf(ids ...*string) []string {
	var out []string
	seen := map[string]bool{}
	for _, id := range ids {
		if id == nil || *id == "" || seen[*id] {
			continue
		}
		seen[*id] = true
		out = append(out, *id)
	}
	return out
}

// loadTask reads a task outside any transaction, mapping absence to NotFound.
func (e Engine) loadTask(ctx context.Context, taskID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return t, domain.NotFound("task %s not found", taskID)
	}
	if err != nil {
		return t, domain.DBError(err)
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, taskID, userID string) (domain.Task, error) {
	t, err := e.loadTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := e.Auth.RequireMember(ctx, t.ProjectID, userID); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) requireProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		return domain.Validation("project is required")
	}
	_, err := e.Repo.GetProject(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFound("project %s not found", projectID)
	}
	return domain.DBError(err)
}
