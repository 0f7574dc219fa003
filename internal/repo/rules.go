package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"taskboard/internal/domain"
)

func (r Repo) InsertWorkflow(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO workflows(id,project_id,name,created_at) VALUES (?,?,?,?)`,
		w.ID, w.ProjectID, w.Name, w.CreatedAt)
	return err
}

func (r Repo) GetWorkflowByName(ctx context.Context, tx *sql.Tx, projectID, name string) (domain.Workflow, error) {
	var w domain.Workflow
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,project_id,name,created_at FROM workflows WHERE project_id=? AND name=?`, projectID, name).
		Scan(&w.ID, &w.ProjectID, &w.Name, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	return w, err
}

// DeactivateWorkflowRules turns off every rule of the workflow. Rules keep
// their rows so ledger entries and created_from_rule_id links stay valid.
func (r Repo) DeactivateWorkflowRules(ctx context.Context, tx *sql.Tx, workflowID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE rules SET active=0 WHERE workflow_id=?`, workflowID)
	return err
}

// UpsertRule inserts the rule or refreshes its trigger and active flag.
func (r Repo) UpsertRule(ctx context.Context, tx *sql.Tx, rule domain.Rule) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rules(id,workflow_id,name,resource_type,task_type_id,to_state,active,created_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, resource_type=excluded.resource_type, task_type_id=excluded.task_type_id,
	to_state=excluded.to_state, active=excluded.active`,
		rule.ID, rule.WorkflowID, rule.Name, string(rule.ResourceType), nullableStringPtr(rule.TaskTypeID), rule.ToState, rule.Active, rule.CreatedAt)
	return err
}

// ReplaceTemplates swaps the rule's template list.
func (r Repo) ReplaceTemplates(ctx context.Context, tx *sql.Tx, ruleID string, templates []domain.TaskTemplate) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_templates WHERE rule_id=?`, ruleID); err != nil {
		return err
	}
	for _, tpl := range templates {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_templates(id,rule_id,title,description,type_id,priority,execution_order) VALUES (?,?,?,?,?,?,?)`,
			tpl.ID, ruleID, tpl.Title, tpl.Description, nullableStringPtr(tpl.TypeID), nullableIntPtr(tpl.Priority), tpl.ExecutionOrder); err != nil {
			return err
		}
	}
	return nil
}

const ruleColumns = `r.id,r.workflow_id,w.project_id,r.name,r.resource_type,r.task_type_id,r.to_state,r.active,r.created_at`

func scanRule(row rowScanner) (domain.Rule, error) {
	var rule domain.Rule
	var rt string
	var typeID sql.NullString
	err := row.Scan(&rule.ID, &rule.WorkflowID, &rule.ProjectID, &rule.Name, &rt, &typeID, &rule.ToState, &rule.Active, &rule.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rule, ErrNotFound
	}
	rule.ResourceType = domain.ResourceType(rt)
	rule.TaskTypeID = stringPtr(typeID)
	return rule, err
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	rule, err := scanRule(r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules r JOIN workflows w ON w.id=r.workflow_id WHERE r.id=?`, id))
	if err != nil {
		return rule, err
	}
	rule.Templates, err = r.ListTemplates(ctx, nil, rule.ID)
	return rule, err
}

// ListRules returns every rule of a project with its templates.
func (r Repo) ListRules(ctx context.Context, projectID string) ([]domain.Rule, error) {
	rules, err := r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules r JOIN workflows w ON w.id=r.workflow_id
WHERE w.project_id=? ORDER BY w.name, r.name, r.id`, projectID)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if rules[i].Templates, err = r.ListTemplates(ctx, nil, rules[i].ID); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// MatchingRules returns active rules of the project triggered by reaching toState.
// Rules filtered on a task type only match task events carrying that type.
func (r Repo) MatchingRules(ctx context.Context, projectID string, rt domain.ResourceType, toState string, taskTypeID *string) ([]domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules r JOIN workflows w ON w.id=r.workflow_id
WHERE w.project_id=? AND r.resource_type=? AND r.to_state=? AND r.active=1`
	args := []any{projectID, string(rt), toState}
	if rt == domain.ResourceTask && taskTypeID != nil && *taskTypeID != "" {
		query += ` AND (r.task_type_id IS NULL OR r.task_type_id=?)`
		args = append(args, *taskTypeID)
	} else {
		query += ` AND r.task_type_id IS NULL`
	}
	query += ` ORDER BY r.created_at, r.id`
	return r.queryRules(ctx, query, args...)
}

func (r Repo) queryRules(ctx context.Context, query string, args ...any) ([]domain.Rule, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

func (r Repo) ListTemplates(ctx context.Context, tx *sql.Tx, ruleID string) ([]domain.TaskTemplate, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,rule_id,title,description,type_id,priority,execution_order
FROM task_templates WHERE rule_id=? ORDER BY execution_order, id`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskTemplate
	for rows.Next() {
		var tpl domain.TaskTemplate
		var typeID sql.NullString
		var priority sql.NullInt64
		if err := rows.Scan(&tpl.ID, &tpl.RuleID, &tpl.Title, &tpl.Description, &typeID, &priority, &tpl.ExecutionOrder); err != nil {
			return nil, err
		}
		tpl.TypeID = stringPtr(typeID)
		tpl.Priority = intPtr(priority)
		res = append(res, tpl)
	}
	return res, rows.Err()
}

// ClaimRuleExecution inserts the ledger row for (rule, origin). It reports
// false when a row already exists, in which case the caller does not own the firing.
func (r Repo) ClaimRuleExecution(ctx context.Context, tx *sql.Tx, ruleID string, originType domain.ResourceType, originID, now string) (bool, error) {
	return affected(tx.ExecContext(ctx, `INSERT INTO rule_executions(rule_id,origin_type,origin_id,outcome,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(rule_id,origin_type,origin_id) DO NOTHING`, ruleID, string(originType), originID, string(domain.OutcomeApplied), now))
}

func (r Repo) SetExecutionSpawned(ctx context.Context, tx *sql.Tx, ruleID string, originType domain.ResourceType, originID string, taskIDs []string) error {
	if taskIDs == nil {
		taskIDs = []string{}
	}
	data, err := json.Marshal(taskIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE rule_executions SET spawned_task_ids_json=? WHERE rule_id=? AND origin_type=? AND origin_id=?`,
		string(data), ruleID, string(originType), originID)
	return err
}

func scanExecution(row rowScanner) (domain.RuleExecution, error) {
	var ex domain.RuleExecution
	var ot, outcome, spawned string
	err := row.Scan(&ex.RuleID, &ot, &ex.OriginID, &outcome, &spawned, &ex.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ex, ErrNotFound
	}
	if err != nil {
		return ex, err
	}
	ex.OriginType = domain.ResourceType(ot)
	ex.Outcome = domain.ExecutionOutcome(outcome)
	if err := json.Unmarshal([]byte(spawned), &ex.SpawnedTaskIDs); err != nil {
		return ex, err
	}
	return ex, nil
}

func (r Repo) GetRuleExecution(ctx context.Context, ruleID string, originType domain.ResourceType, originID string) (domain.RuleExecution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT rule_id,origin_type,origin_id,outcome,spawned_task_ids_json,created_at
FROM rule_executions WHERE rule_id=? AND origin_type=? AND origin_id=?`, ruleID, string(originType), originID))
}

func (r Repo) ListRuleExecutions(ctx context.Context, ruleID string) ([]domain.RuleExecution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT rule_id,origin_type,origin_id,outcome,spawned_task_ids_json,created_at
FROM rule_executions WHERE rule_id=? ORDER BY created_at, origin_id`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RuleExecution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ex)
	}
	return res, rows.Err()
}
