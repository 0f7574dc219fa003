package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskboard/internal/domain"
	"taskboard/internal/engine/cards"
	"taskboard/internal/engine/rules"
)

const DefaultMaxCascadeDepth = 3

// RuleEvaluator reacts to a committed event.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, ev domain.Event) (rules.Report, error)
}

// CardEvaluator recomputes a card and returns it before and after.
type CardEvaluator interface {
	Recompute(ctx context.Context, cardID, actorID string) (domain.Card, domain.Card, error)
}

// Orchestrator is the entry point for task requests: it runs the transition,
// then rules and card recomputation as a best-effort post-commit step.
type Orchestrator struct {
	Engine          Engine
	Rules           RuleEvaluator
	Cards           CardEvaluator
	Hook            Hook
	MaxCascadeDepth int
	Log             *slog.Logger
}

type Options struct {
	Log             *slog.Logger
	Now             func() time.Time
	MaxCascadeDepth int
	AsyncHooks      bool
	LinkBase        string
}

func NewOrchestrator(db *sql.DB, opts Options) Orchestrator {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	eng := New(db, log)
	re := rules.New(db, log)
	re.LinkBase = opts.LinkBase
	ce := cards.New(db)
	if opts.Now != nil {
		eng = eng.WithClock(opts.Now)
		re.Now = opts.Now
		re.Events.Now = opts.Now
		ce.Now = opts.Now
		ce.Events.Now = opts.Now
	}
	depth := opts.MaxCascadeDepth
	if depth <= 0 {
		depth = DefaultMaxCascadeDepth
	}
	return Orchestrator{
		Engine:          eng,
		Rules:           re,
		Cards:           ce,
		Hook:            NewHook(log, opts.AsyncHooks),
		MaxCascadeDepth: depth,
		Log:             log,
	}
}

// Handle executes one request.
func (o Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	switch r := req.(type) {
	case ClaimTask:
		return o.taskResult(ctx, func() (Transition, error) {
			return o.Engine.Claim(ctx, r.TaskID, r.UserID, r.ExpectedVersion)
		})
	case ReleaseTask:
		return o.taskResult(ctx, func() (Transition, error) {
			return o.Engine.Release(ctx, r.TaskID, r.UserID, r.ExpectedVersion)
		})
	case CompleteTask:
		return o.taskResult(ctx, func() (Transition, error) {
			return o.Engine.Complete(ctx, r.TaskID, r.UserID, r.ExpectedVersion)
		})
	case UpdateTask:
		return o.taskResult(ctx, func() (Transition, error) {
			return o.Engine.Update(ctx, r.TaskID, r.UserID, r.ExpectedVersion, r.Patch)
		})
	case CreateTask:
		return o.taskResult(ctx, func() (Transition, error) {
			return o.Engine.Create(ctx, r.Options)
		})
	case ListTasks:
		tasks, err := o.Engine.List(ctx, r.UserID, r.Filters)
		if err != nil {
			return nil, err
		}
		return TasksList{Tasks: tasks}, nil
	case CreateTaskType:
		tt, err := o.Engine.CreateTaskType(ctx, r.ProjectID, r.UserID, r.Name)
		if err != nil {
			return nil, err
		}
		return TaskTypeCreated{TaskType: tt}, nil
	case DeleteTaskType:
		if err := o.Engine.DeleteTaskType(ctx, r.ProjectID, r.UserID, r.TaskTypeID); err != nil {
			return nil, err
		}
		return TaskTypeDeleted{TaskTypeID: r.TaskTypeID}, nil
	case nil:
		return nil, domain.Validation("request is required")
	default:
		return nil, domain.Validation("unsupported request %T", req)
	}
}

func (o Orchestrator) taskResult(ctx context.Context, run func() (Transition, error)) (Response, error) {
	tr, err := run()
	if err != nil {
		return nil, err
	}
	o.AfterCommit(ctx, tr)
	return TaskResult{Task: tr.Task}, nil
}

// AfterCommit evaluates rules for the transition's event and recomputes the
// cards it touched. It never returns an error.
func (o Orchestrator) AfterCommit(ctx context.Context, tr Transition) {
	o.Hook.Run(ctx, "task:"+tr.Task.ID, func(ctx context.Context) error {
		return o.cascade(ctx, tr.Event, tr.Cards, 0)
	})
}

// cascade fires rules for ev, then for every card in cardIDs, then for the
// creation of each spawned task, down to MaxCascadeDepth.
func (o Orchestrator) cascade(ctx context.Context, ev domain.Event, cardIDs []string, depth int) error {
	var errs []error
	var spawned []string

	if o.Rules != nil {
		ids, err := o.evaluate(ctx, ev)
		errs = append(errs, err)
		spawned = append(spawned, ids...)
	}
	if o.Cards != nil {
		for _, cardID := range cardIDs {
			ids, err := o.recomputeCard(ctx, cardID, ev.ActorUserID)
			errs = append(errs, err)
			spawned = append(spawned, ids...)
		}
	}
	if len(spawned) > 0 && depth+1 >= o.maxDepth() {
		o.logger().Warn("rule cascade depth reached", "depth", depth+1, "origin_id", ev.ResourceID, "pending", len(spawned))
		return errors.Join(errs...)
	}
	for _, id := range spawned {
		t, err := o.Engine.Repo.GetTask(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("load spawned task %s: %w", id, err))
			continue
		}
		created := domain.TaskEvent(t, ev.ActorUserID, nil)
		created.Cascade = true
		errs = append(errs, o.cascade(ctx, created, cardsOf(t.CardID), depth+1))
	}
	return errors.Join(errs...)
}

func (o Orchestrator) evaluate(ctx context.Context, ev domain.Event) (spawned []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rules panicked on %s %s: %v", ev.ResourceType, ev.ResourceID, r)
		}
	}()
	report, err := o.Rules.Evaluate(ctx, o.withOrg(ctx, ev))
	if err != nil {
		return nil, err
	}
	return report.Spawned(), report.Err()
}

// withOrg stamps the event with its project's organization.
func (o Orchestrator) withOrg(ctx context.Context, ev domain.Event) domain.Event {
	if ev.OrgID != "" {
		return ev
	}
	p, err := o.Engine.Repo.GetProject(ctx, ev.ProjectID)
	if err != nil {
		o.logger().Debug("event org lookup failed", "project_id", ev.ProjectID, "error", err)
		return ev
	}
	ev.OrgID = p.OrgID
	return ev
}

// recomputeCard refreshes the card, then evaluates card rules against its
// current state. The ledger keeps repeated evaluations from re-firing.
func (o Orchestrator) recomputeCard(ctx context.Context, cardID, actorID string) (spawned []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("card %s recompute panicked: %v", cardID, r)
		}
	}()
	before, after, err := o.Cards.Recompute(ctx, cardID, actorID)
	if err != nil {
		return nil, fmt.Errorf("recompute card %s: %w", cardID, err)
	}
	if before.State != after.State {
		o.logger().Info("card state changed", "card_id", cardID, "from", string(before.State), "to", string(after.State))
	}
	if o.Rules == nil {
		return nil, nil
	}
	return o.evaluate(ctx, domain.CardEvent(after, actorID, before.State))
}

func (o Orchestrator) maxDepth() int {
	if o.MaxCascadeDepth > 0 {
		return o.MaxCascadeDepth
	}
	return DefaultMaxCascadeDepth
}

func (o Orchestrator) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

// Wait drains asynchronous post-commit work.
func (o Orchestrator) Wait() { o.Hook.Wait() }
