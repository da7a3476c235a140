package engine

import (
	"context"
	"errors"
	"fmt"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/events"
	"teamline/internal/repo"
)

// AddMember resolves the username to a registered user and appends a member
// entry. Adding as owner is rejected; ownership only moves via
// TransferOwnership.
func (e Engine) AddMember(ctx context.Context, actor domain.Identity, projectID, username string, role domain.ProjectRole) (domain.Member, error) {
	p, actingRole, err := e.projectForActor(ctx, projectID, actor)
	if err != nil {
		return domain.Member{}, err
	}
	if err := authz.Require(actingRole, authz.OpAddMember); err != nil {
		return domain.Member{}, err
	}
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Member{}, fmt.Errorf("%s: %w", username, ErrUserNotFound)
		}
		return domain.Member{}, err
	}
	m := domain.Member{
		UserID:   u.ID,
		Username: u.Username,
		Role:     role,
		AddedBy:  actor.UserID,
		AddedAt:  e.nowString(),
	}
	if err := p.AddMember(m); err != nil {
		return domain.Member{}, err
	}
	_, err = e.saveProject(ctx, p, actor, events.MemberAdded, events.EventPayload{
		"username":          u.Username,
		"role":              string(role),
		"affected_user_ids": []string{u.ID},
	})
	if err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// RemoveMember drops a member. Admins may remove plain members; only the
// owner may remove admins; the owner entry itself is never removable.
func (e Engine) RemoveMember(ctx context.Context, actor domain.Identity, projectID, username string) error {
	p, actingRole, err := e.projectForActor(ctx, projectID, actor)
	if err != nil {
		return err
	}
	target, ok := p.MemberByUsername(username)
	if !ok {
		return domain.ErrNotMember
	}
	if target.Role == domain.RoleOwner {
		// Surface the protocol error, not a generic denial.
		return domain.ErrCannotRemoveOwner
	}
	if err := authz.RequireRemove(actingRole, target.Role); err != nil {
		return err
	}
	removed, err := p.RemoveMember(username)
	if err != nil {
		return err
	}
	_, err = e.saveProject(ctx, p, actor, events.MemberRemoved, events.EventPayload{
		"username":          removed.Username,
		"role":              string(removed.Role),
		"affected_user_ids": []string{removed.UserID},
	})
	return err
}

// ChangeMemberRole switches a member between admin and member. Calling with
// the current role is a NoOp; touching the owner entry is rejected.
func (e Engine) ChangeMemberRole(ctx context.Context, actor domain.Identity, projectID, username string, role domain.ProjectRole) (domain.Member, error) {
	p, actingRole, err := e.projectForActor(ctx, projectID, actor)
	if err != nil {
		return domain.Member{}, err
	}
	if err := authz.Require(actingRole, authz.OpChangeRole); err != nil {
		return domain.Member{}, err
	}
	m, err := p.ChangeRole(username, role)
	if err != nil {
		return domain.Member{}, err
	}
	_, err = e.saveProject(ctx, p, actor, events.MemberRoleChanged, events.EventPayload{
		"username":          m.Username,
		"role":              string(m.Role),
		"affected_user_ids": []string{m.UserID},
	})
	if err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// TransferOwnership demotes the current owner to admin, promotes the target
// to owner and rewrites created_by, all in one persisted transaction. No
// observer ever sees zero or two owners.
func (e Engine) TransferOwnership(ctx context.Context, actor domain.Identity, projectID, targetUsername string) (domain.Project, error) {
	p, actingRole, err := e.projectForActor(ctx, projectID, actor)
	if err != nil {
		return domain.Project{}, err
	}
	if err := authz.Require(actingRole, authz.OpTransferOwnership); err != nil {
		return domain.Project{}, err
	}
	previous, _ := p.Owner()
	newOwner, err := p.TransferOwnership(actor, targetUsername)
	if err != nil {
		return domain.Project{}, err
	}
	return e.saveProject(ctx, p, actor, events.OwnershipTransferred, events.EventPayload{
		"from":              previous.Username,
		"to":                newOwner.Username,
		"affected_user_ids": []string{previous.UserID, newOwner.UserID},
	})
}

// LeaveProject removes the acting member. The owner cannot leave; they must
// transfer ownership or delete the project first.
func (e Engine) LeaveProject(ctx context.Context, actor domain.Identity, projectID string) error {
	p, actingRole, err := e.projectForActor(ctx, projectID, actor)
	if err != nil {
		return err
	}
	if actingRole == "" {
		return domain.ErrNotMember
	}
	if err := authz.Require(actingRole, authz.OpLeaveProject); err != nil {
		return err
	}
	self, ok := p.MemberByUsername(actor.Username)
	if !ok {
		// The actor resolved by user id; find the entry that matched.
		for _, m := range p.Members {
			if actor.Matches(m) {
				self = m
				ok = true
				break
			}
		}
	}
	if !ok {
		return domain.ErrNotMember
	}
	removed, err := p.RemoveMember(self.Username)
	if err != nil {
		return err
	}
	_, err = e.saveProject(ctx, p, actor, events.MemberRemoved, events.EventPayload{
		"username":          removed.Username,
		"role":              string(removed.Role),
		"left":              true,
		"affected_user_ids": []string{removed.UserID},
	})
	return err
}
