package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// idSpace namespaces the stable ids derived for workflow rules and templates,
// so re-importing the same config updates rows instead of duplicating them.
var idSpace = uuid.MustParse("6f1c4c55-6a0e-4f57-9a59-3c1f0a7d2b11")

func stableID(parts ...string) string {
	return uuid.NewSHA1(idSpace, []byte(strings.Join(parts, "/"))).String()
}

// ApplyResult summarizes an import.
type ApplyResult struct {
	Project      domain.Project `json:"project"`
	TaskTypes    int            `json:"task_types"`
	Capabilities int            `json:"capabilities"`
	Members      int            `json:"members"`
	Workflows    int            `json:"workflows"`
	Rules        int            `json:"rules"`
}

// ApplyConfig writes cfg to the store in one transaction. It is idempotent:
// existing task types, capabilities and workflows are matched by name, rules
// get ids derived from project, workflow and rule names, and rules that
// disappeared from a workflow are deactivated rather than deleted.
func ApplyConfig(ctx context.Context, r repo.Repo, cfg *config.Config, actorID string, now time.Time) (ApplyResult, error) {
	if cfg == nil {
		return ApplyResult{}, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return ApplyResult{}, err
	}
	stamp := now.UTC().Format(time.RFC3339)
	projectID := cfg.Project.ID
	res := ApplyResult{Project: domain.Project{
		ID:        projectID,
		OrgID:     cfg.Project.Org,
		Name:      cfg.Project.Name,
		CreatedAt: stamp,
	}}
	if res.Project.Name == "" {
		res.Project.Name = projectID
	}
	if res.Project.OrgID == "" {
		res.Project.OrgID = "default-org"
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	if err := r.UpsertProjectTx(ctx, tx, res.Project); err != nil {
		return res, fmt.Errorf("upsert project: %w", err)
	}
	for _, m := range cfg.Members {
		member := domain.ProjectMember{ProjectID: projectID, UserID: m.User, Role: domain.Role(m.Role)}
		if err := r.UpsertMember(ctx, tx, member, stamp); err != nil {
			return res, fmt.Errorf("upsert member %s: %w", m.User, err)
		}
		res.Members++
	}

	typeIDs := map[string]string{}
	for _, name := range cfg.TaskTypes {
		id, err := ensureTaskType(ctx, r, tx, projectID, name, stamp)
		if err != nil {
			return res, err
		}
		typeIDs[name] = id
		res.TaskTypes++
	}
	for _, name := range cfg.Capabilities {
		if err := ensureCapability(ctx, r, tx, projectID, name); err != nil {
			return res, err
		}
		res.Capabilities++
	}
	for _, wf := range cfg.Workflows {
		n, err := applyWorkflow(ctx, r, tx, projectID, wf, typeIDs, stamp)
		if err != nil {
			return res, err
		}
		res.Workflows++
		res.Rules += n
	}

	w := events.Writer{DB: r.DB, Now: func() time.Time { return now }}
	if err := w.Append(ctx, tx, events.ProjectConfigured, projectID, "project", projectID, actorID, events.Payload{
		"task_types": res.TaskTypes,
		"members":    res.Members,
		"workflows":  res.Workflows,
		"rules":      res.Rules,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	if p, err := r.GetProject(ctx, projectID); err == nil {
		res.Project = p
	}
	return res, nil
}

func ensureTaskType(ctx context.Context, r repo.Repo, tx *sql.Tx, projectID, name, stamp string) (string, error) {
	tt, err := r.GetTaskTypeByName(ctx, tx, projectID, name)
	if err == nil {
		return tt.ID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	tt = domain.TaskType{ID: uuid.NewString(), ProjectID: projectID, Name: name, CreatedAt: stamp}
	if err := r.InsertTaskType(ctx, tx, tt); err != nil {
		return "", fmt.Errorf("insert task type %s: %w", name, err)
	}
	return tt.ID, nil
}

func ensureCapability(ctx context.Context, r repo.Repo, tx *sql.Tx, projectID, name string) error {
	_, err := r.GetCapabilityByName(ctx, tx, projectID, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	c := domain.Capability{ID: uuid.NewString(), ProjectID: projectID, Name: name}
	if err := r.InsertCapability(ctx, tx, c); err != nil {
		return fmt.Errorf("insert capability %s: %w", name, err)
	}
	return nil
}

func applyWorkflow(ctx context.Context, r repo.Repo, tx *sql.Tx, projectID string, wf config.WorkflowConfig, typeIDs map[string]string, stamp string) (int, error) {
	w, err := r.GetWorkflowByName(ctx, tx, projectID, wf.Name)
	if errors.Is(err, repo.ErrNotFound) {
		w = domain.Workflow{ID: uuid.NewString(), ProjectID: projectID, Name: wf.Name, CreatedAt: stamp}
		err = r.InsertWorkflow(ctx, tx, w)
	}
	if err != nil {
		return 0, fmt.Errorf("workflow %s: %w", wf.Name, err)
	}
	if err := r.DeactivateWorkflowRules(ctx, tx, w.ID); err != nil {
		return 0, fmt.Errorf("workflow %s: %w", wf.Name, err)
	}
	for _, rc := range wf.Rules {
		rule := domain.Rule{
			ID:           stableID(projectID, wf.Name, rc.Name),
			WorkflowID:   w.ID,
			ProjectID:    projectID,
			Name:         rc.Name,
			ResourceType: domain.ResourceType(rc.ResourceType),
			ToState:      rc.ToState,
			Active:       rc.IsActive(),
			CreatedAt:    stamp,
		}
		if rc.TaskType != "" {
			id := typeIDs[rc.TaskType]
			rule.TaskTypeID = &id
		}
		if err := r.UpsertRule(ctx, tx, rule); err != nil {
			return 0, fmt.Errorf("rule %s: %w", rc.Name, err)
		}
		templates := make([]domain.TaskTemplate, 0, len(rc.Templates))
		for i, tc := range rc.Templates {
			tpl := domain.TaskTemplate{
				ID:             stableID(rule.ID, fmt.Sprint(i)),
				RuleID:         rule.ID,
				Title:          tc.Title,
				Description:    tc.Description,
				Priority:       tc.Priority,
				ExecutionOrder: i,
			}
			if tc.Order != nil {
				tpl.ExecutionOrder = *tc.Order
			}
			if tc.Type != "" {
				id := typeIDs[tc.Type]
				tpl.TypeID = &id
			}
			templates = append(templates, tpl)
		}
		if err := r.ReplaceTemplates(ctx, tx, rule.ID, templates); err != nil {
			return 0, fmt.Errorf("rule %s templates: %w", rc.Name, err)
		}
	}
	return len(wf.Rules), nil
}
