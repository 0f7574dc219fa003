package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskboard/internal/domain"
)

type sessionOutput struct {
	Body domain.WorkSession `json:"body"`
}

func (a api) registerSessions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/sessions",
		Summary:       "Start a work session on a task",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*sessionOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := a.eng.Sessions.Start(ctx, userID, input.ID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-heartbeat",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/heartbeat",
		Summary:     "Keep a work session alive",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*sessionOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := a.eng.Sessions.Heartbeat(ctx, input.ID, userID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-pause",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/pause",
		Summary:     "Close a work session and credit its time",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*sessionOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := a.eng.Sessions.Pause(ctx, input.ID, userID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-sessions",
		Method:      http.MethodGet,
		Path:        "/me/sessions",
		Summary:     "Active work sessions of the caller",
		Errors:      taskErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := a.eng.Sessions.Active(ctx, userID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return &struct {
			Body SessionListResponse `json:"body"`
		}{Body: SessionListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-work-totals",
		Method:      http.MethodGet,
		Path:        "/me/work-totals",
		Summary:     "Accumulated seconds per task for the caller",
		Errors:      taskErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WorkTotalsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := a.eng.Sessions.Totals(ctx, userID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return &struct {
			Body WorkTotalsResponse `json:"body"`
		}{Body: WorkTotalsResponse{Items: nonNilSlice(items)}}, nil
	})
}
