// Package authz is the single source of truth for project-level permissions.
// Call sites never compare role strings directly; they ask the table.
package authz

import (
	"fmt"

	"teamline/internal/domain"
)

// Op names a guarded operation.
type Op string

const (
	OpViewProject       Op = "project.view"
	OpUpdateProject     Op = "project.update"
	OpArchiveProject    Op = "project.archive"
	OpDeleteProject     Op = "project.delete"
	OpAddMember         Op = "member.add"
	OpRemoveMember      Op = "member.remove"
	OpChangeRole        Op = "member.change_role"
	OpTransferOwnership Op = "ownership.transfer"
	OpLeaveProject      Op = "member.leave"
	OpCreateTask        Op = "task.create"
	OpEditTask          Op = "task.edit"
	OpReassignTask      Op = "task.reassign"
	OpDeleteTask        Op = "task.delete"
)

// ForbiddenError indicates the policy table denies the operation.
type ForbiddenError struct {
	Op   Op
	Role domain.ProjectRole
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("operation %s forbidden: not a project member", e.Op)
	}
	return fmt.Sprintf("operation %s forbidden for role %s", e.Op, e.Role)
}

var table = map[Op]map[domain.ProjectRole]bool{
	OpViewProject:       {domain.RoleOwner: true, domain.RoleAdmin: true, domain.RoleMember: true},
	OpUpdateProject:     {domain.RoleOwner: true, domain.RoleAdmin: true},
	OpArchiveProject:    {domain.RoleOwner: true},
	OpDeleteProject:     {domain.RoleOwner: true},
	OpAddMember:         {domain.RoleOwner: true, domain.RoleAdmin: true},
	OpChangeRole:        {domain.RoleOwner: true},
	OpTransferOwnership: {domain.RoleOwner: true},
	OpLeaveProject:      {domain.RoleAdmin: true, domain.RoleMember: true},
	OpCreateTask:        {domain.RoleOwner: true, domain.RoleAdmin: true},
	OpEditTask:          {domain.RoleOwner: true, domain.RoleAdmin: true},
	OpReassignTask:      {domain.RoleOwner: true, domain.RoleAdmin: true},
	OpDeleteTask:        {domain.RoleOwner: true, domain.RoleAdmin: true},
}

// Allows reports whether role may perform op.
func Allows(role domain.ProjectRole, op Op) bool {
	return table[op][role]
}

// AllowsRemove reports whether role may remove a member holding targetRole.
// Admins may remove plain members; only the owner may remove admins; the
// owner entry is never removable.
func AllowsRemove(role, targetRole domain.ProjectRole) bool {
	switch targetRole {
	case domain.RoleMember:
		return role == domain.RoleOwner || role == domain.RoleAdmin
	case domain.RoleAdmin:
		return role == domain.RoleOwner
	default:
		return false
	}
}

// CanViewTask reports task read visibility: owners and admins see every
// task, plain members only the ones assigned to them.
func CanViewTask(role domain.ProjectRole, isAssignee bool) bool {
	switch role {
	case domain.RoleOwner, domain.RoleAdmin:
		return true
	case domain.RoleMember:
		return isAssignee
	default:
		return false
	}
}

// Require returns a ForbiddenError unless the table allows the operation.
func Require(role domain.ProjectRole, op Op) error {
	if Allows(role, op) {
		return nil
	}
	return ForbiddenError{Op: op, Role: role}
}

// RequireRemove guards member removal against the target's role.
func RequireRemove(role, targetRole domain.ProjectRole) error {
	if AllowsRemove(role, targetRole) {
		return nil
	}
	return ForbiddenError{Op: OpRemoveMember, Role: role}
}
