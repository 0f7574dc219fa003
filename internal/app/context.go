package app

import (
	"context"
	"errors"
	"fmt"

	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// ResolveProject picks the active project. It prefers the override, then the
// only project in the database.
func ResolveProject(ctx context.Context, r repo.Repo, projectOverride string) (domain.Project, error) {
	if projectOverride != "" {
		p, err := r.GetProject(ctx, projectOverride)
		if errors.Is(err, repo.ErrNotFound) {
			return p, fmt.Errorf("project %s not found; import a config with tb project config import", projectOverride)
		}
		return p, err
	}
	p, err := r.SingleProject(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return p, fmt.Errorf("project not specified; use --project")
		}
		return p, err
	}
	return p, nil
}
