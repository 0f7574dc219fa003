package domain

type Project struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	TypeID            *string    `json:"type_id,omitempty"`
	CapabilityID      *string    `json:"capability_id,omitempty"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Priority          *int       `json:"priority,omitempty"`
	Status            TaskStatus `json:"status" enum:"available,claimed,completed"`
	WorkState         WorkState  `json:"work_state,omitempty" enum:"taken,ongoing"`
	ClaimedBy         *string    `json:"claimed_by,omitempty"`
	ClaimedAt         *string    `json:"claimed_at,omitempty" format:"date-time"`
	CompletedAt       *string    `json:"completed_at,omitempty" format:"date-time"`
	CompletedBy       *string    `json:"completed_by,omitempty"`
	Version           int64      `json:"version"`
	CardID            *string    `json:"card_id,omitempty"`
	MilestoneID       *string    `json:"milestone_id,omitempty"`
	CreatedFromRuleID *string    `json:"created_from_rule_id,omitempty"`
	DependsOn         []string   `json:"depends_on,omitempty"`
	Blocked           bool       `json:"blocked"`
	CreatedAt         string     `json:"created_at" format:"date-time"`
	UpdatedAt         string     `json:"updated_at" format:"date-time"`
}

type Card struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	State          CardState `json:"state" enum:"pendiente,en_curso,cerrada"`
	TaskCount      int       `json:"task_count"`
	CompletedCount int       `json:"completed_count"`
	Version        int64     `json:"version"`
	CreatedAt      string    `json:"created_at" format:"date-time"`
	UpdatedAt      string    `json:"updated_at" format:"date-time"`
}

type Milestone struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Title     string  `json:"title"`
	DueAt     *string `json:"due_at,omitempty" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type TaskType struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Capability struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

type Workflow struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Rule fires its templates when a resource of ResourceType reaches ToState.
type Rule struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	ProjectID    string         `json:"project_id"`
	Name         string         `json:"name"`
	ResourceType ResourceType   `json:"resource_type" enum:"task,card"`
	TaskTypeID   *string        `json:"task_type_id,omitempty"`
	ToState      string         `json:"to_state"`
	Active       bool           `json:"active"`
	Templates    []TaskTemplate `json:"templates,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
}

type TaskTemplate struct {
	ID             string  `json:"id"`
	RuleID         string  `json:"rule_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	TypeID         *string `json:"type_id,omitempty"`
	Priority       *int    `json:"priority,omitempty"`
	ExecutionOrder int     `json:"execution_order"`
}

type RuleExecution struct {
	RuleID         string           `json:"rule_id"`
	OriginType     ResourceType     `json:"origin_type"`
	OriginID       string           `json:"origin_id"`
	Outcome        ExecutionOutcome `json:"outcome"`
	SpawnedTaskIDs []string         `json:"spawned_task_ids,omitempty"`
	CreatedAt      string           `json:"created_at" format:"date-time"`
}

type WorkSession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	TaskID          string     `json:"task_id"`
	StartedAt       string     `json:"started_at" format:"date-time"`
	LastHeartbeatAt string     `json:"last_heartbeat_at" format:"date-time"`
	EndedAt         *string    `json:"ended_at,omitempty" format:"date-time"`
	EndedReason     *EndReason `json:"ended_reason,omitempty" enum:"user_pause,stale_timeout,task_completed,task_released"`
}

// Active reports whether the session is still open.
func (s WorkSession) Active() bool { return s.EndedAt == nil }

type WorkTotal struct {
	UserID       string `json:"user_id"`
	TaskID       string `json:"task_id"`
	AccumulatedS int64  `json:"accumulated_s"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type ProjectMember struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      Role   `json:"role" enum:"member,admin"`
}

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
