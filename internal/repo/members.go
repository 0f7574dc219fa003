package repo

import (
	"context"
	"database/sql"
	"errors"

	"taskboard/internal/domain"
)

// UpsertMember grants userID the role on the project, replacing any previous role.
func (r Repo) UpsertMember(ctx context.Context, tx *sql.Tx, m domain.ProjectMember, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role`, m.ProjectID, m.UserID, string(m.Role), now)
	return err
}

func (r Repo) MemberRole(ctx context.Context, projectID, userID string) (domain.Role, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return domain.Role(role), err
}

func (r Repo) ListMembers(ctx context.Context, projectID string) ([]domain.ProjectMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,user_id,role FROM project_members WHERE project_id=? ORDER BY user_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectMember
	for rows.Next() {
		var m domain.ProjectMember
		var role string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &role); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		res = append(res, m)
	}
	return res, rows.Err()
}
