package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/repo"
)

type taskOutput struct {
	Body domain.Task `json:"body"`
}

type taskPath struct {
	ProjectID string `path:"project_id"`
	ID        string `path:"id"`
}

var taskErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func (a api) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return a.handleTask(ctx, engine.CreateTask{Options: createOptions(input.ProjectID, userID, input.Body)})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID    string `path:"project_id"`
		Status       string `query:"status" enum:"available,claimed,completed"`
		TypeID       string `query:"type_id"`
		CapabilityID string `query:"capability_id"`
		Query        string `query:"q"`
		Blocked      string `query:"blocked" enum:"true,false"`
		CardID       string `query:"card_id"`
		MilestoneID  string `query:"milestone_id"`
		ClaimedBy    string `query:"claimed_by"`
		RuleID       string `query:"created_from_rule_id"`
		Limit        int    `query:"limit" default:"50"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.TaskFilters{
			ProjectID:         input.ProjectID,
			Status:            input.Status,
			TypeID:            input.TypeID,
			CapabilityID:      input.CapabilityID,
			Query:             input.Query,
			CardID:            input.CardID,
			MilestoneID:       input.MilestoneID,
			ClaimedBy:         input.ClaimedBy,
			CreatedFromRuleID: input.RuleID,
			Limit:             normalizeLimit(input.Limit),
		}
		if input.Blocked != "" {
			blocked := input.Blocked == "true"
			f.Blocked = &blocked
		}
		resp, err := a.orch.Handle(ctx, engine.ListTasks{UserID: userID, Filters: f})
		if err != nil {
			return nil, a.handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: nonNilSlice(resp.(engine.TasksList).Tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}",
		Summary:     "Get task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := a.taskInProject(ctx, input.ProjectID, input.ID, userID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	a.registerTransition(api, "claim-task", "claim", "Claim task", func(id, userID string, v int64) engine.Request {
		return engine.ClaimTask{TaskID: id, UserID: userID, ExpectedVersion: v}
	})
	a.registerTransition(api, "release-task", "release", "Release task", func(id, userID string, v int64) engine.Request {
		return engine.ReleaseTask{TaskID: id, UserID: userID, ExpectedVersion: v}
	})
	a.registerTransition(api, "complete-task", "complete", "Complete task", func(id, userID string, v int64) engine.Request {
		return engine.CompleteTask{TaskID: id, UserID: userID, ExpectedVersion: v}
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/tasks/{id}",
		Summary:     "Update task fields; absent keys are unchanged and null clears",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		ID        string            `path:"id"`
		Body      UpdateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		version, patch, err := decodePatch(bodyBytes(ctx))
		if err != nil {
			return nil, badRequest("%v", err)
		}
		if _, err := a.taskInProject(ctx, input.ProjectID, input.ID, userID); err != nil {
			return nil, a.handleError(err)
		}
		return a.handleTask(ctx, engine.UpdateTask{TaskID: input.ID, UserID: userID, ExpectedVersion: version, Patch: patch})
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}/events",
		Summary:     "Audit trail of a task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := a.taskInProject(ctx, input.ProjectID, input.ID, userID); err != nil {
			return nil, a.handleError(err)
		}
		items, err := a.eng.Events.ForEntity(ctx, "task", input.ID)
		if err != nil {
			return nil, a.handleError(domain.DBError(err))
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: nonNilSlice(items)}}, nil
	})
}

func (a api) registerTransition(api huma.API, opID, verb, summary string, build func(id, userID string, version int64) engine.Request) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{id}/" + verb,
		Summary:     summary,
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		ID        string         `path:"id"`
		Body      VersionRequest `json:"body"`
	}) (*taskOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := a.taskInProject(ctx, input.ProjectID, input.ID, userID); err != nil {
			return nil, a.handleError(err)
		}
		return a.handleTask(ctx, build(input.ID, userID, input.Body.Version))
	})
}

func (a api) handleTask(ctx context.Context, req engine.Request) (*taskOutput, error) {
	resp, err := a.orch.Handle(ctx, req)
	if err != nil {
		return nil, a.handleError(err)
	}
	return &taskOutput{Body: resp.(engine.TaskResult).Task}, nil
}

func (a api) registerTaskTypes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-task-types",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/task-types",
		Summary:     "List task types",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body TaskTypeListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := a.eng.Auth.RequireMember(ctx, input.ProjectID, userID); err != nil {
			return nil, a.handleError(err)
		}
		items, err := a.eng.Repo.ListTaskTypes(ctx, input.ProjectID)
		if err != nil {
			return nil, a.handleError(domain.DBError(err))
		}
		return &struct {
			Body TaskTypeListResponse `json:"body"`
		}{Body: TaskTypeListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task-type",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/task-types",
		Summary:       "Create task type (admin)",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateTaskTypeRequest `json:"body"`
	}) (*struct {
		Body domain.TaskType `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp, err := a.orch.Handle(ctx, engine.CreateTaskType{ProjectID: input.ProjectID, UserID: userID, Name: input.Body.Name})
		if err != nil {
			return nil, a.handleError(err)
		}
		return &struct {
			Body domain.TaskType `json:"body"`
		}{Body: resp.(engine.TaskTypeCreated).TaskType}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task-type",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/task-types/{id}",
		Summary:       "Delete an unused task type (admin)",
		DefaultStatus: http.StatusNoContent,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := a.orch.Handle(ctx, engine.DeleteTaskType{ProjectID: input.ProjectID, UserID: userID, TaskTypeID: input.ID}); err != nil {
			return nil, a.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (a api) registerCards(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-card",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/cards",
		Summary:       "Create card",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateCardRequest `json:"body"`
	}) (*struct {
		Body domain.Card `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := a.eng.Auth.RequireMember(ctx, input.ProjectID, userID); err != nil {
			return nil, a.handleError(err)
		}
		c, err := a.cards.Create(ctx, input.ProjectID, input.Body.Title, stringOrEmpty(input.Body.Description))
		if err != nil {
			return nil, a.handleError(err)
		}
		return &struct {
			Body domain.Card `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-card",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/cards/{id}",
		Summary:     "Get card with its derived state",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Card `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := a.eng.Auth.RequireMember(ctx, input.ProjectID, userID); err != nil {
			return nil, a.handleError(err)
		}
		c, err := a.cards.Get(ctx, input.ID)
		if err != nil {
			return nil, a.handleError(err)
		}
		if c.ProjectID != input.ProjectID {
			return nil, a.handleError(domain.NotFound("card %s not found in project %s", input.ID, input.ProjectID))
		}
		return &struct {
			Body domain.Card `json:"body"`
		}{Body: c}, nil
	})
}

func (a api) registerRules(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/rules",
		Summary:     "List automation rules with their templates",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body RuleListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := a.eng.Auth.RequireMember(ctx, input.ProjectID, userID); err != nil {
			return nil, a.handleError(err)
		}
		items, err := a.eng.Repo.ListRules(ctx, input.ProjectID)
		if err != nil {
			return nil, a.handleError(domain.DBError(err))
		}
		return &struct {
			Body RuleListResponse `json:"body"`
		}{Body: RuleListResponse{Items: nonNilSlice(items)}}, nil
	})
}
