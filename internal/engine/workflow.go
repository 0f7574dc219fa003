package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

func validateMutation(taskID, userID string, expected int64) error {
	if strings.TrimSpace(taskID) == "" {
		return domain.Validation("task id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.Validation("user id is required")
	}
	if expected < 1 {
		return domain.Validation("expected version must be at least 1")
	}
	return nil
}

func validPriority(p int) error {
	if p < 1 || p > 5 {
		return domain.Validation("priority must be between 1 and 5, got %d", p)
	}
	return nil
}

// casFunc performs one conditional update inside tx.
type casFunc func(ctx context.Context, tx *sql.Tx, now string) (bool, error)

// transition runs the shared claim/release/complete path: authorize, CAS,
// resolve on a miss, side effects, audit, commit.
func (e Engine) transition(ctx context.Context, o op, taskID, userID string, expected int64, from domain.TaskStatus, evtType string, cas casFunc, inTx func(tx *sql.Tx) (events.Payload, error)) (Transition, error) {
	if err := validateMutation(taskID, userID, expected); err != nil {
		return Transition{}, err
	}
	cur, err := e.loadTask(ctx, taskID)
	if err != nil {
		return Transition{}, err
	}
	if err := e.Auth.RequireMember(ctx, cur.ProjectID, userID); err != nil {
		return Transition{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Transition{}, domain.DBError(err)
	}
	defer tx.Rollback()
	ok, err := cas(ctx, tx, e.stamp())
	if err != nil {
		return Transition{}, domain.DBError(fmt.Errorf("%s task: %w", o, err))
	}
	if !ok {
		_ = tx.Rollback()
		return Transition{}, e.resolveConflict(ctx, o, taskID, userID, expected)
	}
	payload := events.Payload{}
	if inTx != nil {
		if payload, err = inTx(tx); err != nil {
			return Transition{}, err
		}
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return Transition{}, domain.DBError(err)
	}
	payload["from_status"] = string(from)
	payload["to_status"] = string(t.Status)
	payload["version"] = t.Version
	if err := e.Events.Append(ctx, tx, evtType, t.ProjectID, "task", t.ID, userID, payload); err != nil {
		return Transition{}, domain.DBError(err)
	}
	if err := tx.Commit(); err != nil {
		return Transition{}, domain.DBError(err)
	}
	return Transition{
		Task:  t,
		Event: domain.TaskEvent(t, userID, &from),
		Cards: cardsOf(t.CardID),
	}, nil
}

// Claim moves an available task to claimed by userID.
func (e Engine) Claim(ctx context.Context, taskID, userID string, expected int64) (Transition, error) {
	return e.transition(ctx, opClaim, taskID, userID, expected, domain.StatusAvailable, events.TaskClaimed,
		func(ctx context.Context, tx *sql.Tx, now string) (bool, error) {
			return e.Repo.ClaimTaskCAS(ctx, tx, taskID, userID, expected, now)
		}, nil)
}

// Release returns a task claimed by userID to available and closes its open session.
func (e Engine) Release(ctx context.Context, taskID, userID string, expected int64) (Transition, error) {
	return e.transition(ctx, opRelease, taskID, userID, expected, domain.StatusClaimed, events.TaskReleased,
		func(ctx context.Context, tx *sql.Tx, now string) (bool, error) {
			return e.Repo.ReleaseTaskCAS(ctx, tx, taskID, userID, expected, now)
		}, e.closeSessionFn(ctx, taskID, domain.EndTaskReleased))
}

// Complete finishes a task claimed by userID and closes its open session.
func (e Engine) Complete(ctx context.Context, taskID, userID string, expected int64) (Transition, error) {
	return e.transition(ctx, opComplete, taskID, userID, expected, domain.StatusClaimed, events.TaskCompleted,
		func(ctx context.Context, tx *sql.Tx, now string) (bool, error) {
			return e.Repo.CompleteTaskCAS(ctx, tx, taskID, userID, expected, now)
		}, e.closeSessionFn(ctx, taskID, domain.EndTaskCompleted))
}

func (e Engine) closeSessionFn(ctx context.Context, taskID string, reason domain.EndReason) func(tx *sql.Tx) (events.Payload, error) {
	return func(tx *sql.Tx) (events.Payload, error) {
		s, err := e.Sessions.CloseActiveForTaskTx(ctx, tx, taskID, reason)
		if err != nil {
			return nil, err
		}
		payload := events.Payload{}
		if s != nil {
			payload["closed_session_id"] = s.ID
		}
		return payload, nil
	}
}

// Update changes fields of a task claimed by userID.
func (e Engine) Update(ctx context.Context, taskID, userID string, expected int64, patch domain.TaskPatch) (Transition, error) {
	if err := validateMutation(taskID, userID, expected); err != nil {
		return Transition{}, err
	}
	if patch.Empty() {
		return Transition{}, domain.Validation("no fields to update")
	}
	if patch.Title.IsClear() {
		return Transition{}, domain.Validation("title cannot be cleared")
	}
	if v, ok := patch.Title.Get(); ok && strings.TrimSpace(v) == "" {
		return Transition{}, domain.Validation("title cannot be empty")
	}
	if v, ok := patch.Priority.Get(); ok {
		if err := validPriority(v); err != nil {
			return Transition{}, err
		}
	}
	cur, err := e.loadTask(ctx, taskID)
	if err != nil {
		return Transition{}, err
	}
	if err := e.Auth.RequireMember(ctx, cur.ProjectID, userID); err != nil {
		return Transition{}, err
	}
	if err := e.validateRefs(ctx, cur.ProjectID, patch.TypeID, patch.CapabilityID, patch.CardID, patch.MilestoneID); err != nil {
		return Transition{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Transition{}, domain.DBError(err)
	}
	defer tx.Rollback()
	before, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return Transition{}, domain.NotFound("task %s not found", taskID)
	}
	if err != nil {
		return Transition{}, domain.DBError(err)
	}
	if patch.CardID.Apply(before.CardID) != nil && patch.MilestoneID.Apply(before.MilestoneID) != nil {
		return Transition{}, domain.Validation("a task belongs to a card or a milestone, not both")
	}
	ok, err := e.Repo.UpdateTaskCAS(ctx, tx, taskID, userID, expected, patch, e.stamp())
	if db.IsCheckViolation(err) {
		return Transition{}, domain.Validation("update violates task constraints")
	}
	if err != nil {
		return Transition{}, domain.DBError(fmt.Errorf("update task: %w", err))
	}
	if !ok {
		_ = tx.Rollback()
		return Transition{}, e.resolveConflict(ctx, opUpdate, taskID, userID, expected)
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return Transition{}, domain.DBError(err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskUpdated, t.ProjectID, "task", t.ID, userID, events.Payload{
		"fields":  patch.Changed(),
		"version": t.Version,
	}); err != nil {
		return Transition{}, domain.DBError(err)
	}
	if err := tx.Commit(); err != nil {
		return Transition{}, domain.DBError(err)
	}
	from := before.Status
	return Transition{
		Task:  t,
		Event: domain.TaskEvent(t, userID, &from),
		Cards: cardsOf(before.CardID, t.CardID),
	}, nil
}

// validateRefs checks that every referenced type, capability, card and
// milestone exists in the project.
func (e Engine) validateRefs(ctx context.Context, projectID string, typeID, capabilityID, cardID, milestoneID domain.Field[string]) error {
	if id, ok := typeID.Get(); ok {
		tt, err := e.Repo.GetTaskTypeTx(ctx, nil, id)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && tt.ProjectID != projectID) {
			return domain.Validation("task type %s is not defined in project %s", id, projectID)
		}
		if err != nil {
			return domain.DBError(err)
		}
	}
	if id, ok := capabilityID.Get(); ok {
		c, err := e.Repo.GetCapabilityTx(ctx, nil, id)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && c.ProjectID != projectID) {
			return domain.Validation("capability %s is not defined in project %s", id, projectID)
		}
		if err != nil {
			return domain.DBError(err)
		}
	}
	if id, ok := cardID.Get(); ok {
		c, err := e.Repo.GetCard(ctx, id)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && c.ProjectID != projectID) {
			return domain.Validation("card %s is not in project %s", id, projectID)
		}
		if err != nil {
			return domain.DBError(err)
		}
	}
	if id, ok := milestoneID.Get(); ok {
		m, err := e.Repo.GetMilestone(ctx, id)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && m.ProjectID != projectID) {
			return domain.Validation("milestone %s is not in project %s", id, projectID)
		}
		if err != nil {
			return domain.DBError(err)
		}
	}
	return nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID           string
	ProjectID    string
	UserID       string
	Title        string
	Description  string
	TypeID       *string
	CapabilityID *string
	Priority     *int
	CardID       *string
	MilestoneID  *string
	DependsOn    []string
}

func optional(p *string) domain.Field[string] {
	if p == nil || *p == "" {
		return domain.Unchanged[string]()
	}
	return domain.Set(*p)
}

// Create adds an available task at version 1.
func (e Engine) Create(ctx context.Context, opts TaskCreateOptions) (Transition, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return Transition{}, domain.Validation("title is required")
	}
	if opts.UserID == "" {
		return Transition{}, domain.Validation("user id is required")
	}
	if opts.Priority != nil {
		if err := validPriority(*opts.Priority); err != nil {
			return Transition{}, err
		}
	}
	if optional(opts.CardID).IsSet() && optional(opts.MilestoneID).IsSet() {
		return Transition{}, domain.Validation("a task belongs to a card or a milestone, not both")
	}
	if err := e.requireProject(ctx, opts.ProjectID); err != nil {
		return Transition{}, err
	}
	if err := e.Auth.RequireMember(ctx, opts.ProjectID, opts.UserID); err != nil {
		return Transition{}, err
	}
	if err := e.validateRefs(ctx, opts.ProjectID, optional(opts.TypeID), optional(opts.CapabilityID), optional(opts.CardID), optional(opts.MilestoneID)); err != nil {
		return Transition{}, err
	}
	for _, dep := range opts.DependsOn {
		d, err := e.Repo.GetTask(ctx, dep)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && d.ProjectID != opts.ProjectID) {
			return Transition{}, domain.Validation("dependency %s is not a task of project %s", dep, opts.ProjectID)
		}
		if err != nil {
			return Transition{}, domain.DBError(err)
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()
	t := domain.Task{
		ID:           id,
		ProjectID:    opts.ProjectID,
		TypeID:       nonEmpty(opts.TypeID),
		CapabilityID: nonEmpty(opts.CapabilityID),
		Title:        opts.Title,
		Description:  opts.Description,
		Priority:     opts.Priority,
		Status:       domain.StatusAvailable,
		Version:      1,
		CardID:       nonEmpty(opts.CardID),
		MilestoneID:  nonEmpty(opts.MilestoneID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Transition{}, domain.DBError(err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		if db.IsUniqueViolation(err) {
			return Transition{}, domain.Validation("task %s already exists", id)
		}
		return Transition{}, domain.DBError(fmt.Errorf("insert task: %w", err))
	}
	if err := e.Repo.AddDependencies(ctx, tx, t.ID, opts.DependsOn); err != nil {
		return Transition{}, domain.DBError(err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, t.ProjectID, "task", t.ID, opts.UserID, events.Payload{
		"title":  t.Title,
		"status": string(t.Status),
	}); err != nil {
		return Transition{}, domain.DBError(err)
	}
	created, err := e.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		return Transition{}, domain.DBError(err)
	}
	if err := tx.Commit(); err != nil {
		return Transition{}, domain.DBError(err)
	}
	return Transition{
		Task:  created,
		Event: domain.TaskEvent(created, opts.UserID, nil),
		Cards: cardsOf(created.CardID),
	}, nil
}

func nonEmpty(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	v := *p
	return &v
}

// List returns the project's tasks matching the filters.
func (e Engine) List(ctx context.Context, userID string, f repo.TaskFilters) ([]domain.Task, error) {
	if err := e.requireProject(ctx, f.ProjectID); err != nil {
		return nil, err
	}
	if err := e.Auth.RequireMember(ctx, f.ProjectID, userID); err != nil {
		return nil, err
	}
	if f.Status != "" {
		if _, err := domain.ParseTaskStatus(f.Status); err != nil {
			return nil, domain.Validation("%v", err)
		}
	}
	if f.Limit < 0 {
		return nil, domain.Validation("limit must not be negative")
	}
	tasks, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return nil, domain.DBError(err)
	}
	return tasks, nil
}
