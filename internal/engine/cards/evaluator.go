package cards

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// Evaluator keeps a card's counters and state in line with its tasks.
type Evaluator struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(conn *sql.DB) Evaluator {
	return Evaluator{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn},
		Now:    time.Now,
	}
}

func (e Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Recompute recounts the card's tasks in its own transaction and returns the
// card before and after.
func (e Evaluator) Recompute(ctx context.Context, cardID, actorID string) (domain.Card, domain.Card, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Card{}, domain.Card{}, domain.DBError(err)
	}
	defer tx.Rollback()
	before, after, err := e.Repo.RecountCardTx(ctx, tx, cardID, e.now().Format(time.RFC3339))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Card{}, domain.Card{}, domain.NotFound("card %s not found", cardID)
	}
	if err != nil {
		return domain.Card{}, domain.Card{}, domain.DBError(err)
	}
	if before.State != after.State {
		if err := e.Events.Append(ctx, tx, events.CardRecomputed, after.ProjectID, "card", cardID, actorID, events.Payload{
			"from_state":      string(before.State),
			"to_state":        string(after.State),
			"task_count":      after.TaskCount,
			"completed_count": after.CompletedCount,
		}); err != nil {
			return domain.Card{}, domain.Card{}, domain.DBError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Card{}, domain.Card{}, domain.DBError(err)
	}
	return before, after, nil
}

func (e Evaluator) Get(ctx context.Context, cardID string) (domain.Card, error) {
	c, err := e.Repo.GetCard(ctx, cardID)
	if errors.Is(err, repo.ErrNotFound) {
		return c, domain.NotFound("card %s not found", cardID)
	}
	if err != nil {
		return c, domain.DBError(err)
	}
	return c, nil
}

// Create adds an empty card to the project.
func (e Evaluator) Create(ctx context.Context, projectID, title, description string) (domain.Card, error) {
	if title == "" {
		return domain.Card{}, domain.Validation("card title is required")
	}
	now := e.now().Format(time.RFC3339)
	c := domain.Card{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		State:       domain.CardStateFor(0, 0),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertCard(ctx, nil, c); err != nil {
		return domain.Card{}, domain.DBError(err)
	}
	return c, nil
}
