package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// CreateTaskType registers a task type name in the project. Admins only.
func (e Engine) CreateTaskType(ctx context.Context, projectID, userID, name string) (domain.TaskType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.TaskType{}, domain.Validation("task type name is required")
	}
	if err := e.requireProject(ctx, projectID); err != nil {
		return domain.TaskType{}, err
	}
	if err := e.Auth.RequireAdmin(ctx, projectID, userID); err != nil {
		return domain.TaskType{}, err
	}
	tt := domain.TaskType{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      name,
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskType{}, domain.DBError(err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskType(ctx, tx, tt); err != nil {
		if db.IsUniqueViolation(err) {
			return domain.TaskType{}, domain.TaskTypeAlreadyExists(name)
		}
		return domain.TaskType{}, domain.DBError(fmt.Errorf("insert task type: %w", err))
	}
	if err := e.Events.Append(ctx, tx, events.TaskTypeCreated, projectID, "task_type", tt.ID, userID, events.Payload{"name": name}); err != nil {
		return domain.TaskType{}, domain.DBError(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskType{}, domain.DBError(err)
	}
	return tt, nil
}

// DeleteTaskType removes a task type nothing references. Admins only.
func (e Engine) DeleteTaskType(ctx context.Context, projectID, userID, typeID string) error {
	if typeID == "" {
		return domain.Validation("task type id is required")
	}
	if err := e.requireProject(ctx, projectID); err != nil {
		return err
	}
	if err := e.Auth.RequireAdmin(ctx, projectID, userID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DBError(err)
	}
	defer tx.Rollback()
	tt, err := e.Repo.GetTaskTypeTx(ctx, tx, typeID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && tt.ProjectID != projectID) {
		return domain.NotFound("task type %s not found", typeID)
	}
	if err != nil {
		return domain.DBError(err)
	}
	refs, err := e.Repo.TaskTypeReferencesTx(ctx, tx, typeID)
	if err != nil {
		return domain.DBError(err)
	}
	if refs > 0 {
		return domain.TaskTypeInUse(typeID)
	}
	if _, err := e.Repo.DeleteTaskType(ctx, tx, typeID); err != nil {
		if db.IsForeignKeyViolation(err) {
			return domain.TaskTypeInUse(typeID)
		}
		return domain.DBError(err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskTypeDeleted, projectID, "task_type", typeID, userID, events.Payload{"name": tt.Name}); err != nil {
		return domain.DBError(err)
	}
	return domain.DBError(tx.Commit())
}
