package engine

import (
	"context"

	"taskboard/internal/domain"
)

type op string

const (
	opClaim    op = "claim"
	opRelease  op = "release"
	opComplete op = "complete"
	opUpdate   op = "update"
)

// resolveConflict explains why a conditional update on taskID matched no
// row. It reads the current row and never infers the cause from the write.
func (e Engine) resolveConflict(ctx context.Context, o op, taskID, userID string, expected int64) error {
	cur, err := e.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	return classify(o, cur, userID, expected)
}

func classify(o op, cur domain.Task, userID string, expected int64) error {
	claimant := ""
	if cur.ClaimedBy != nil {
		claimant = *cur.ClaimedBy
	}
	if o == opClaim {
		switch cur.Status {
		case domain.StatusClaimed:
			if claimant != userID {
				return domain.ClaimOwnershipConflict(claimant)
			}
			return domain.AlreadyClaimed(cur.ID)
		case domain.StatusCompleted:
			return domain.InvalidTransition(cur.Status, string(o))
		}
		return domain.VersionConflict(expected, cur.Version)
	}
	if cur.Status != domain.StatusClaimed {
		return domain.InvalidTransition(cur.Status, string(o))
	}
	if claimant != userID {
		return domain.NotAuthorized("task %s is claimed by another user", cur.ID)
	}
	return domain.VersionConflict(expected, cur.Version)
}
