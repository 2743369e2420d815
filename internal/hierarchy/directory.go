// Package hierarchy is the boundary to the project hierarchy directory, which
// knows how projects nest and who administers them.
package hierarchy

import (
	"context"
	"errors"

	"accounting/internal/model"
)

var ErrUnknownProject = errors.New("hierarchy: unknown project")

// Directory answers questions about the project ownership tree. It is
// authoritative but may lag behind recent changes.
type Directory interface {
	// Ancestors returns the path from the root project down to projectID,
	// inclusive. The last element is always projectID itself.
	Ancestors(ctx context.Context, projectID string) ([]string, error)
	// Subprojects returns every descendant of projectID, not including it.
	Subprojects(ctx context.Context, projectID string) ([]string, error)
	MemberRole(ctx context.Context, projectID, username string) (model.ProjectRole, error)
}
