package domain

// Event is a committed state change that rules may react to.
type Event struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	ProjectID    string       `json:"project_id"`
	OrgID        string       `json:"org_id,omitempty"`
	ActorUserID  string       `json:"actor_user_id"`
	FromState    *string      `json:"from_state,omitempty"`
	ToState      string       `json:"to_state"`
	// TaskTypeID is set for task events so type-scoped rules can match.
	TaskTypeID *string `json:"task_type_id,omitempty"`
	// SpawnedBy is the rule that created the task.
	SpawnedBy *string `json:"spawned_by,omitempty"`
	// Cascade marks the creation event of a task spawned while handling an
	// earlier event. Only these events are held back from the spawning rule.
	Cascade bool `json:"cascade,omitempty"`
}

func TaskEvent(t Task, actor string, from *TaskStatus) Event {
	ev := Event{
		ResourceType: ResourceTask,
		ResourceID:   t.ID,
		ProjectID:    t.ProjectID,
		ActorUserID:  actor,
		ToState:      string(t.Status),
		TaskTypeID:   t.TypeID,
		SpawnedBy:    t.CreatedFromRuleID,
	}
	if from != nil {
		s := string(*from)
		ev.FromState = &s
	}
	return ev
}

func CardEvent(c Card, actor string, from CardState) Event {
	f := string(from)
	return Event{
		ResourceType: ResourceCard,
		ResourceID:   c.ID,
		ProjectID:    c.ProjectID,
		ActorUserID:  actor,
		FromState:    &f,
		ToState:      string(c.State),
	}
}
