package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

// Request payloads

type CreateTaskRequest struct {
	ID           *string  `json:"id,omitempty"`
	Title        string   `json:"title" minLength:"1"`
	Description  *string  `json:"description,omitempty"`
	TypeID       *string  `json:"type_id,omitempty"`
	CapabilityID *string  `json:"capability_id,omitempty"`
	Priority     *int     `json:"priority,omitempty" minimum:"1" maximum:"5"`
	CardID       *string  `json:"card_id,omitempty"`
	MilestoneID  *string  `json:"milestone_id,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

type VersionRequest struct {
	Version int64 `json:"version" minimum:"1"`
}

// UpdateTaskRequest documents the PATCH body. The handler decodes the raw
// body into a domain.TaskPatch so that an absent key and null stay distinct.
type UpdateTaskRequest struct {
	Version      int64   `json:"version" minimum:"1"`
	Title        *string `json:"title,omitempty" nullable:"true"`
	Description  *string `json:"description,omitempty" nullable:"true"`
	Priority     *int    `json:"priority,omitempty" nullable:"true"`
	TypeID       *string `json:"type_id,omitempty" nullable:"true"`
	CapabilityID *string `json:"capability_id,omitempty" nullable:"true"`
	CardID       *string `json:"card_id,omitempty" nullable:"true"`
	MilestoneID  *string `json:"milestone_id,omitempty" nullable:"true"`
}

type CreateTaskTypeRequest struct {
	Name string `json:"name" minLength:"1"`
}

type CreateCardRequest struct {
	Title       string  `json:"title" minLength:"1"`
	Description *string `json:"description,omitempty"`
}

// Response payloads

type TaskListResponse struct {
	Items []domain.Task `json:"items"`
}

type TaskTypeListResponse struct {
	Items []domain.TaskType `json:"items"`
}

type RuleListResponse struct {
	Items []domain.Rule `json:"items"`
}

type SessionListResponse struct {
	Items []domain.WorkSession `json:"items"`
}

type WorkTotalsResponse struct {
	Items []domain.WorkTotal `json:"items"`
}

type EventListResponse struct {
	Items []domain.AuditEntry `json:"items"`
}

type WhoAmIResponse struct {
	UserID string                 `json:"user_id"`
	Source string                 `json:"source"`
	Roles  map[string]domain.Role `json:"roles"`
}

// Conversion helpers

// decodePatch reads the tri-state PATCH body.
func decodePatch(raw []byte) (int64, domain.TaskPatch, error) {
	var body struct {
		Version int64 `json:"version"`
		domain.TaskPatch
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, domain.TaskPatch{}, fmt.Errorf("body required")
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return 0, domain.TaskPatch{}, fmt.Errorf("invalid body: %w", err)
	}
	return body.Version, body.TaskPatch, nil
}

func createOptions(projectID, userID string, in CreateTaskRequest) engine.TaskCreateOptions {
	opts := engine.TaskCreateOptions{
		ProjectID:    projectID,
		UserID:       userID,
		Title:        in.Title,
		Description:  stringOrEmpty(in.Description),
		TypeID:       in.TypeID,
		CapabilityID: in.CapabilityID,
		Priority:     in.Priority,
		CardID:       in.CardID,
		MilestoneID:  in.MilestoneID,
		DependsOn:    in.DependsOn,
	}
	if in.ID != nil {
		opts.ID = *in.ID
	}
	return opts
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
