package engine

import (
	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// Request is one of the messages Orchestrator.Handle accepts.
type Request interface {
	request()
}

// Response is one of the results Orchestrator.Handle returns.
type Response interface {
	response()
}

type ClaimTask struct {
	TaskID          string
	UserID          string
	ExpectedVersion int64
}

type ReleaseTask struct {
	TaskID          string
	UserID          string
	ExpectedVersion int64
}

type CompleteTask struct {
	TaskID          string
	UserID          string
	ExpectedVersion int64
}

type UpdateTask struct {
	TaskID          string
	UserID          string
	ExpectedVersion int64
	Patch           domain.TaskPatch
}

type CreateTask struct {
	Options TaskCreateOptions
}

type ListTasks struct {
	UserID  string
	Filters repo.TaskFilters
}

type CreateTaskType struct {
	ProjectID string
	UserID    string
	Name      string
}

type DeleteTaskType struct {
	ProjectID  string
	UserID     string
	TaskTypeID string
}

func (ClaimTask) request()      {}
func (ReleaseTask) request()    {}
func (CompleteTask) request()   {}
func (UpdateTask) request()     {}
func (CreateTask) request()     {}
func (ListTasks) request()      {}
func (CreateTaskType) request() {}
func (DeleteTaskType) request() {}

type TaskResult struct {
	Task domain.Task
}

type TasksList struct {
	Tasks []domain.Task
}

type TaskTypeCreated struct {
	TaskType domain.TaskType
}

type TaskTypeDeleted struct {
	TaskTypeID string
}

func (TaskResult) response()      {}
func (TasksList) response()       {}
func (TaskTypeCreated) response() {}
func (TaskTypeDeleted) response() {}
