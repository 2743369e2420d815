package service

import (
	"context"
	"fmt"

	"accounting/internal/hierarchy"
	"accounting/internal/model"
)

// Gate decides whether an actor may read or write a wallet owner's balances.
type Gate struct {
	dir           hierarchy.Directory
	servicePrefix string
}

func NewGate(dir hierarchy.Directory, servicePrefix string) *Gate {
	return &Gate{dir: dir, servicePrefix: servicePrefix}
}

func (g *Gate) trusted(actor model.Actor) bool {
	return actor.IsSystem() || actor.IsPrivileged() || actor.IsServiceUser(g.servicePrefix)
}

// RequirePrivileged guards operations only trusted principals may call.
func (g *Gate) RequirePrivileged(actor model.Actor) error {
	if g.trusted(actor) {
		return nil
	}
	return fmt.Errorf("%w: %s is not a privileged principal", model.ErrForbidden, actor.Username)
}

func (g *Gate) RequireRead(ctx context.Context, actor model.Actor, accountID string, typ model.OwnerType) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown account type %q", model.ErrBadRequest, typ)
	}
	if g.trusted(actor) {
		return nil
	}

	switch typ {
	case model.OwnerUser:
		if accountID == actor.Username {
			return nil
		}
	case model.OwnerProject:
		ok, err := g.adminOf(ctx, actor, accountID, true)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not read wallets of %s %s", model.ErrForbidden, actor.Username, typ, accountID)
}

// RequireWrite is RequireRead without the personal wallet and own project
// shortcuts: nobody may credit themselves.
func (g *Gate) RequireWrite(ctx context.Context, actor model.Actor, accountID string, typ model.OwnerType) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown account type %q", model.ErrBadRequest, typ)
	}
	if g.trusted(actor) {
		return nil
	}

	if typ == model.OwnerProject {
		ok, err := g.adminOf(ctx, actor, accountID, false)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not write wallets of %s %s", model.ErrForbidden, actor.Username, typ, accountID)
}

// adminOf reports whether the actor is an admin or PI of the project's direct
// parent, or of the project itself when includeSelf is set.
func (g *Gate) adminOf(ctx context.Context, actor model.Actor, projectID string, includeSelf bool) (bool, error) {
	if includeSelf {
		role, err := g.dir.MemberRole(ctx, projectID, actor.Username)
		if err != nil {
			return false, directoryError(err, "membership in "+projectID)
		}
		if role.IsAdmin() {
			return true, nil
		}
	}

	ancestors, err := g.dir.Ancestors(ctx, projectID)
	if err != nil {
		return false, directoryError(err, "ancestors of "+projectID)
	}
	if len(ancestors) < 2 {
		return false, nil
	}

	parent := ancestors[len(ancestors)-2]
	role, err := g.dir.MemberRole(ctx, parent, actor.Username)
	if err != nil {
		return false, directoryError(err, "membership in "+parent)
	}
	return role.IsAdmin(), nil
}
