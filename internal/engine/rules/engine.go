// Package rules reacts to committed state changes by spawning tasks from
// templates. Each (rule, origin) pair fires at most once; the unique key on
// rule_executions decides which caller owns a firing.
package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

const (
	ReasonAlreadyExecuted = "already_executed"
	ReasonSelfTrigger     = "self_trigger"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Log    *slog.Logger
	Now    func() time.Time
	// LinkBase prefixes {{father}} links.
	LinkBase string
}

func New(conn *sql.DB, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn},
		Log:    log,
		Now:    time.Now,
	}
}

// Result is the outcome of one matching rule.
type Result struct {
	RuleID         string
	Outcome        domain.ExecutionOutcome
	Reason         string
	SpawnedTaskIDs []string
	Err            error
}

type Report struct {
	Event   domain.Event
	Results []Result
}

// Spawned lists every task created while handling the event.
func (r Report) Spawned() []string {
	var out []string
	for _, res := range r.Results {
		out = append(out, res.SpawnedTaskIDs...)
	}
	return out
}

func (r Report) Count(outcome domain.ExecutionOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil && res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Err joins the per-rule failures.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", res.RuleID, res.Err))
		}
	}
	return errors.Join(errs...)
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Evaluate fires every active rule matching the event. A failing rule does not
// stop the others; its error is reported in its Result.
func (e Engine) Evaluate(ctx context.Context, ev domain.Event) (Report, error) {
	report := Report{Event: ev}
	if ev.ProjectID == "" || ev.ResourceID == "" || ev.ToState == "" {
		return report, domain.Validation("event requires project, resource and target state")
	}
	matching, err := e.Repo.MatchingRules(ctx, ev.ProjectID, ev.ResourceType, ev.ToState, ev.TaskTypeID)
	if err != nil {
		return report, domain.DBError(fmt.Errorf("load rules: %w", err))
	}
	if len(matching) == 0 {
		return report, nil
	}
	project, err := e.Repo.GetProject(ctx, ev.ProjectID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return report, domain.DBError(err)
	}
	if ev.OrgID == "" {
		ev.OrgID = project.OrgID
		report.Event = ev
	}
	vars := varsFor(ev, project, e.LinkBase)
	for _, rule := range matching {
		res := e.fire(ctx, rule, ev, vars)
		log := e.logger().With("rule_id", rule.ID, "origin_type", string(ev.ResourceType), "origin_id", ev.ResourceID)
		switch {
		case res.Err != nil:
			log.Warn("rule execution failed", "error", res.Err)
		case res.Outcome == domain.OutcomeSuppressed:
			log.Debug("rule suppressed", "reason", res.Reason)
		default:
			log.Info("rule applied", "spawned", len(res.SpawnedTaskIDs))
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (e Engine) fire(ctx context.Context, rule domain.Rule, ev domain.Event, vars Vars) Result {
	res := Result{RuleID: rule.ID}
	if ev.Cascade && ev.ResourceType == domain.ResourceTask && ev.SpawnedBy != nil && *ev.SpawnedBy == rule.ID {
		res.Outcome = domain.OutcomeSuppressed
		res.Reason = ReasonSelfTrigger
		return res
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		res.Err = domain.DBError(err)
		return res
	}
	defer tx.Rollback()

	now := e.now().Format(time.RFC3339)
	owned, err := e.Repo.ClaimRuleExecution(ctx, tx, rule.ID, ev.ResourceType, ev.ResourceID, now)
	if err != nil {
		res.Err = domain.DBError(fmt.Errorf("claim execution: %w", err))
		return res
	}
	if !owned {
		res.Outcome = domain.OutcomeSuppressed
		res.Reason = ReasonAlreadyExecuted
		return res
	}
	templates, err := e.Repo.ListTemplates(ctx, tx, rule.ID)
	if err != nil {
		res.Err = domain.DBError(err)
		return res
	}
	spawned := make([]string, 0, len(templates))
	for _, tpl := range templates {
		task, err := instantiate(tpl, rule, vars, now)
		if err != nil {
			res.Err = fmt.Errorf("template %s: %w", tpl.ID, err)
			return res
		}
		if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
			res.Err = domain.DBError(fmt.Errorf("insert spawned task: %w", err))
			return res
		}
		if err := e.Events.Append(ctx, tx, events.TaskCreated, task.ProjectID, "task", task.ID, ev.ActorUserID, events.Payload{
			"rule_id":     rule.ID,
			"template_id": tpl.ID,
			"origin_type": string(ev.ResourceType),
			"origin_id":   ev.ResourceID,
		}); err != nil {
			res.Err = domain.DBError(err)
			return res
		}
		spawned = append(spawned, task.ID)
	}
	if err := e.Repo.SetExecutionSpawned(ctx, tx, rule.ID, ev.ResourceType, ev.ResourceID, spawned); err != nil {
		res.Err = domain.DBError(err)
		return res
	}
	if err := e.Events.Append(ctx, tx, events.RuleApplied, rule.ProjectID, "rule", rule.ID, ev.ActorUserID, events.Payload{
		"org_id":      ev.OrgID,
		"origin_type": string(ev.ResourceType),
		"origin_id":   ev.ResourceID,
		"to_state":    ev.ToState,
		"spawned":     spawned,
	}); err != nil {
		res.Err = domain.DBError(err)
		return res
	}
	if err := tx.Commit(); err != nil {
		res.Err = domain.DBError(err)
		return res
	}
	res.Outcome = domain.OutcomeApplied
	res.SpawnedTaskIDs = spawned
	return res
}

func instantiate(tpl domain.TaskTemplate, rule domain.Rule, vars Vars, now string) (domain.Task, error) {
	title, err := Render(tpl.Title, vars)
	if err != nil {
		return domain.Task{}, err
	}
	if title == "" {
		return domain.Task{}, errors.New("title renders empty")
	}
	desc, err := Render(tpl.Description, vars)
	if err != nil {
		return domain.Task{}, err
	}
	ruleID := rule.ID
	return domain.Task{
		ID:                uuid.NewString(),
		ProjectID:         rule.ProjectID,
		TypeID:            tpl.TypeID,
		Title:             title,
		Description:       desc,
		Priority:          tpl.Priority,
		Status:            domain.StatusAvailable,
		Version:           1,
		CreatedFromRuleID: &ruleID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}
