package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/auth"
	"taskboard/internal/engine/cards"
	"taskboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Orchestrator engine.Orchestrator
	Cards        cards.Evaluator
	BasePath     string
	Auth         AuthConfig
	Log          *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"version_conflict"`
	Message string         `json:"message" example:"expected version 2, current version 3"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"claimant\":\"u2\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type api struct {
	orch  engine.Orchestrator
	eng   engine.Engine
	cards cards.Evaluator
	log   *slog.Logger
}

// New returns an HTTP handler exposing the task board API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request validation errors are 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Orchestrator.Engine.Repo))
	hcfg := huma.DefaultConfig("Taskboard API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	humaAPI := humachi.New(router, hcfg)
	group := huma.NewGroup(humaAPI, basePath)

	a := api{orch: cfg.Orchestrator, eng: cfg.Orchestrator.Engine, cards: cfg.Cards, log: log}
	registerHealth(group)
	a.registerTasks(group)
	a.registerTaskTypes(group)
	a.registerCards(group)
	a.registerRules(group)
	a.registerSessions(group)
	a.registerMe(group)
	registerOpenAPI(router, humaAPI, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto the error envelope.
func (a api) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		a.log.Error("unhandled error", "error", err)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
	code := string(de.Kind)
	switch de.Kind {
	case domain.KindNotAuthorized:
		return newAPIError(http.StatusForbidden, code, err.Error(), nil)
	case domain.KindNotFound:
		return newAPIError(http.StatusNotFound, code, err.Error(), nil)
	case domain.KindValidation:
		return newAPIError(http.StatusBadRequest, code, err.Error(), nil)
	case domain.KindClaimOwnershipConflict:
		return newAPIError(http.StatusConflict, code, err.Error(), map[string]any{"claimant": de.Claimant})
	case domain.KindAlreadyClaimed,
		domain.KindInvalidTransition,
		domain.KindVersionConflict,
		domain.KindTaskTypeAlreadyExists,
		domain.KindTaskTypeInUse,
		domain.KindSessionAlreadyActive:
		return newAPIError(http.StatusConflict, code, err.Error(), nil)
	default:
		a.log.Error("storage error", "error", err)
		return newAPIError(http.StatusInternalServerError, code, "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	document := sync.OnceValue(func() []byte {
		oas := api.OpenAPI()
		ensureDefaultErrorResponses(oas)
		applyAuthSecurity(oas, basePath)
		data, _ := json.Marshal(oas)
		return data
	})
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(document())
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{Description: "Error"}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (a api) registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.UserID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		roles, err := auth.Service{DB: a.eng.DB}.Roles(ctx, p.UserID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{UserID: p.UserID, Source: p.Source, Roles: roles}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

// taskInProject loads the task for userID and hides tasks of other projects.
func (a api) taskInProject(ctx context.Context, projectID, taskID, userID string) (domain.Task, error) {
	t, err := a.eng.GetTask(ctx, taskID, userID)
	if err != nil {
		return t, err
	}
	if t.ProjectID != projectID {
		return domain.Task{}, domain.NotFound("task %s not found in project %s", taskID, projectID)
	}
	return t, nil
}

func badRequest(format string, args ...any) huma.StatusError {
	return newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf(format, args...), nil)
}
