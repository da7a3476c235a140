package authz_test

import (
	"errors"
	"testing"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
)

func TestPolicyTable(t *testing.T) {
	cases := []struct {
		op     authz.Op
		owner  bool
		admin  bool
		member bool
	}{
		{authz.OpViewProject, true, true, true},
		{authz.OpUpdateProject, true, true, false},
		{authz.OpArchiveProject, true, false, false},
		{authz.OpDeleteProject, true, false, false},
		{authz.OpAddMember, true, true, false},
		{authz.OpChangeRole, true, false, false},
		{authz.OpTransferOwnership, true, false, false},
		{authz.OpLeaveProject, false, true, true},
		{authz.OpCreateTask, true, true, false},
		{authz.OpEditTask, true, true, false},
		{authz.OpReassignTask, true, true, false},
		{authz.OpDeleteTask, true, true, false},
	}
	for _, tc := range cases {
		if got := authz.Allows(domain.RoleOwner, tc.op); got != tc.owner {
			t.Errorf("%s owner: got %v want %v", tc.op, got, tc.owner)
		}
		if got := authz.Allows(domain.RoleAdmin, tc.op); got != tc.admin {
			t.Errorf("%s admin: got %v want %v", tc.op, got, tc.admin)
		}
		if got := authz.Allows(domain.RoleMember, tc.op); got != tc.member {
			t.Errorf("%s member: got %v want %v", tc.op, got, tc.member)
		}
		// a non-member role never passes
		if authz.Allows("", tc.op) {
			t.Errorf("%s: empty role allowed", tc.op)
		}
	}
}

// Privileges must grow with role rank. Leaving is the one deliberate
// exception: the owner is barred from it until ownership is transferred.
func TestRoleMonotonicity(t *testing.T) {
	ops := []authz.Op{
		authz.OpViewProject,
		authz.OpUpdateProject,
		authz.OpArchiveProject,
		authz.OpDeleteProject,
		authz.OpAddMember,
		authz.OpChangeRole,
		authz.OpTransferOwnership,
		authz.OpCreateTask,
		authz.OpEditTask,
		authz.OpReassignTask,
		authz.OpDeleteTask,
	}
	for _, op := range ops {
		if authz.Allows(domain.RoleMember, op) && !authz.Allows(domain.RoleAdmin, op) {
			t.Errorf("%s: member allowed but admin denied", op)
		}
		if authz.Allows(domain.RoleAdmin, op) && !authz.Allows(domain.RoleOwner, op) {
			t.Errorf("%s: admin allowed but owner denied", op)
		}
	}
}

func TestAllowsRemove(t *testing.T) {
	cases := []struct {
		actor  domain.ProjectRole
		target domain.ProjectRole
		want   bool
	}{
		{domain.RoleOwner, domain.RoleMember, true},
		{domain.RoleOwner, domain.RoleAdmin, true},
		{domain.RoleOwner, domain.RoleOwner, false},
		{domain.RoleAdmin, domain.RoleMember, true},
		{domain.RoleAdmin, domain.RoleAdmin, false},
		{domain.RoleAdmin, domain.RoleOwner, false},
		{domain.RoleMember, domain.RoleMember, false},
		{domain.RoleMember, domain.RoleAdmin, false},
		{domain.RoleMember, domain.RoleOwner, false},
	}
	for _, tc := range cases {
		if got := authz.AllowsRemove(tc.actor, tc.target); got != tc.want {
			t.Errorf("remove %s by %s: got %v want %v", tc.target, tc.actor, got, tc.want)
		}
	}
}

func TestCanViewTask(t *testing.T) {
	if !authz.CanViewTask(domain.RoleOwner, false) || !authz.CanViewTask(domain.RoleAdmin, false) {
		t.Fatalf("owner and admin see every task")
	}
	if authz.CanViewTask(domain.RoleMember, false) {
		t.Fatalf("member must not see unassigned tasks")
	}
	if !authz.CanViewTask(domain.RoleMember, true) {
		t.Fatalf("member sees own assigned task")
	}
	if authz.CanViewTask("", true) {
		t.Fatalf("non-member never sees tasks")
	}
}

func TestRequireReturnsForbiddenError(t *testing.T) {
	err := authz.Require(domain.RoleMember, authz.OpDeleteProject)
	var fe authz.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if fe.Op != authz.OpDeleteProject || fe.Role != domain.RoleMember {
		t.Fatalf("unexpected fields: %+v", fe)
	}
	if err := authz.Require(domain.RoleOwner, authz.OpDeleteProject); err != nil {
		t.Fatalf("owner delete should pass: %v", err)
	}
}
