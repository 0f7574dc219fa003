package auth

import (
	"context"
	"database/sql"
	"errors"

	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// Membership gates engine operations on project roles.
type Membership interface {
	RequireMember(ctx context.Context, projectID, userID string) error
	RequireAdmin(ctx context.Context, projectID, userID string) error
}

// Service provides membership checks backed by SQL.
type Service struct {
	DB *sql.DB
}

var _ Membership = Service{}

func (s Service) role(ctx context.Context, projectID, userID string) (domain.Role, error) {
	role, err := repo.Repo{DB: s.DB}.MemberRole(ctx, projectID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", domain.DBError(err)
	}
	return role, nil
}

func (s Service) RequireMember(ctx context.Context, projectID, userID string) error {
	if userID == "" {
		return domain.NotAuthorized("actor required")
	}
	role, err := s.role(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if role == "" {
		return domain.NotAuthorized("user %s is not a member of project %s", userID, projectID)
	}
	return nil
}

// RequireAdmin passes only for admins; admins are also members.
func (s Service) RequireAdmin(ctx context.Context, projectID, userID string) error {
	if userID == "" {
		return domain.NotAuthorized("actor required")
	}
	role, err := s.role(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if role != domain.RoleAdmin {
		return domain.NotAuthorized("user %s is not an admin of project %s", userID, projectID)
	}
	return nil
}

// Roles returns the caller's role per project.
func (s Service) Roles(ctx context.Context, userID string) (map[string]domain.Role, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT project_id, role FROM project_members WHERE user_id=?`, userID)
	if err != nil {
		return nil, domain.DBError(err)
	}
	defer rows.Close()
	out := map[string]domain.Role{}
	for rows.Next() {
		var p, r string
		if err := rows.Scan(&p, &r); err != nil {
			return nil, domain.DBError(err)
		}
		out[p] = domain.Role(r)
	}
	return out, rows.Err()
}
