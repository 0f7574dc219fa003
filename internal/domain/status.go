package domain

import "fmt"

type TaskStatus string

const (
	StatusAvailable TaskStatus = "available"
	StatusClaimed   TaskStatus = "claimed"
	StatusCompleted TaskStatus = "completed"
)

// WorkState refines StatusClaimed: taken until someone opens a work session.
type WorkState string

const (
	WorkTaken   WorkState = "taken"
	WorkOngoing WorkState = "ongoing"
)

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case StatusAvailable, StatusClaimed, StatusCompleted:
		return TaskStatus(s), nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Legal task transitions. Completed is terminal.
var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	StatusAvailable: {
		StatusClaimed: true,
	},
	StatusClaimed: {
		StatusAvailable: true,
		StatusCompleted: true,
		StatusClaimed:   true, // field update by the claimant
	},
}

func CanTransition(from, to TaskStatus) bool {
	return validTaskTransitions[from][to]
}

type CardState string

const (
	CardPendiente CardState = "pendiente"
	CardEnCurso   CardState = "en_curso"
	CardCerrada   CardState = "cerrada"
)

// CardStateFor derives a card's state from its completion ratio.
func CardStateFor(completed, total int) CardState {
	switch {
	case completed <= 0:
		return CardPendiente
	case total > 0 && completed >= total:
		return CardCerrada
	default:
		return CardEnCurso
	}
}

type ResourceType string

const (
	ResourceTask ResourceType = "task"
	ResourceCard ResourceType = "card"
)

func ParseResourceType(s string) (ResourceType, error) {
	switch ResourceType(s) {
	case ResourceTask, ResourceCard:
		return ResourceType(s), nil
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

// ValidTargetState reports whether state is reachable by a resource of type rt.
func ValidTargetState(rt ResourceType, state string) bool {
	switch rt {
	case ResourceTask:
		_, err := ParseTaskStatus(state)
		return err == nil
	case ResourceCard:
		switch CardState(state) {
		case CardPendiente, CardEnCurso, CardCerrada:
			return true
		}
	}
	return false
}

type ExecutionOutcome string

const (
	OutcomeApplied    ExecutionOutcome = "applied"
	OutcomeSuppressed ExecutionOutcome = "suppressed"
)

type EndReason string

const (
	EndUserPause     EndReason = "user_pause"
	EndStaleTimeout  EndReason = "stale_timeout"
	EndTaskCompleted EndReason = "task_completed"
	EndTaskReleased  EndReason = "task_released"
)

func ParseEndReason(s string) (EndReason, error) {
	switch EndReason(s) {
	case EndUserPause, EndStaleTimeout, EndTaskCompleted, EndTaskReleased:
		return EndReason(s), nil
	}
	return "", fmt.Errorf("unknown session end reason %q", s)
}

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)
