package domain_test

import (
	"errors"
	"reflect"
	"testing"

	"teamline/internal/domain"
)

func newProject() domain.Project {
	return domain.Project{
		ID:        "p1",
		Name:      "demo",
		CreatedBy: "u-alice",
		Status:    domain.ProjectPending,
		Members: []domain.Member{
			{UserID: "u-alice", Username: "alice", Role: domain.RoleOwner, AddedBy: "u-alice", AddedAt: "2024-01-01T00:00:00Z"},
		},
	}
}

func TestResolveRoleDualKey(t *testing.T) {
	p := newProject()
	if err := p.AddMember(domain.Member{UserID: "u-bob", Username: "Bob", Role: domain.RoleMember, AddedBy: "u-alice", AddedAt: "2024-01-02T00:00:00Z"}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	// match by user id alone
	role, ok := p.ResolveRole(domain.Identity{UserID: "u-bob"})
	if !ok || role != domain.RoleMember {
		t.Fatalf("resolve by id: role=%s ok=%v", role, ok)
	}
	// match by username, case-insensitive
	role, ok = p.ResolveRole(domain.Identity{Username: "BOB"})
	if !ok || role != domain.RoleMember {
		t.Fatalf("resolve by username: role=%s ok=%v", role, ok)
	}
	// non-member
	if _, ok := p.ResolveRole(domain.Identity{UserID: "u-carol", Username: "carol"}); ok {
		t.Fatalf("carol should not resolve")
	}
}

func TestAddMemberRejectsDuplicatesAndOwner(t *testing.T) {
	p := newProject()
	bob := domain.Member{UserID: "u-bob", Username: "bob", Role: domain.RoleMember, AddedBy: "u-alice", AddedAt: "2024-01-02T00:00:00Z"}
	if err := p.AddMember(bob); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	if err := p.AddMember(bob); !errors.Is(err, domain.ErrAlreadyMember) {
		t.Fatalf("duplicate add: %v", err)
	}
	// different case, same username
	dup := bob
	dup.Username = "BOB"
	dup.UserID = "u-bob2"
	if err := p.AddMember(dup); !errors.Is(err, domain.ErrAlreadyMember) {
		t.Fatalf("case-insensitive duplicate: %v", err)
	}
	owner := domain.Member{UserID: "u-eve", Username: "eve", Role: domain.RoleOwner, AddedBy: "u-alice", AddedAt: "2024-01-02T00:00:00Z"}
	if err := p.AddMember(owner); !errors.Is(err, domain.ErrCannotRetargetOwner) {
		t.Fatalf("add as owner: %v", err)
	}
}

func TestRemoveMemberNeverDropsOwner(t *testing.T) {
	p := newProject()
	if _, err := p.RemoveMember("alice"); !errors.Is(err, domain.ErrCannotRemoveOwner) {
		t.Fatalf("remove owner: %v", err)
	}
	if _, err := p.RemoveMember("ghost"); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("remove stranger: %v", err)
	}
}

func TestChangeRoleGuardsOwnership(t *testing.T) {
	p := newProject()
	_ = p.AddMember(domain.Member{UserID: "u-bob", Username: "bob", Role: domain.RoleMember, AddedBy: "u-alice", AddedAt: "2024-01-02T00:00:00Z"})

	if _, err := p.ChangeRole("alice", domain.RoleMember); !errors.Is(err, domain.ErrCannotRetargetOwner) {
		t.Fatalf("demote owner via ChangeRole: %v", err)
	}
	if _, err := p.ChangeRole("bob", domain.RoleOwner); !errors.Is(err, domain.ErrCannotRetargetOwner) {
		t.Fatalf("promote to owner via ChangeRole: %v", err)
	}
	if _, err := p.ChangeRole("bob", domain.RoleMember); !errors.Is(err, domain.ErrNoOp) {
		t.Fatalf("same-role change: %v", err)
	}
	m, err := p.ChangeRole("bob", domain.RoleAdmin)
	if err != nil || m.Role != domain.RoleAdmin {
		t.Fatalf("promote to admin: %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	p := newProject()
	_ = p.AddMember(domain.Member{UserID: "u-bob", Username: "bob", Role: domain.RoleMember, AddedBy: "u-alice", AddedAt: "2024-01-02T00:00:00Z"})

	alice := domain.Identity{UserID: "u-alice", Username: "alice"}
	bob := domain.Identity{UserID: "u-bob", Username: "bob"}

	if _, err := p.TransferOwnership(bob, "alice"); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("non-owner transfer: %v", err)
	}
	if _, err := p.TransferOwnership(alice, "alice"); !errors.Is(err, domain.ErrAlreadyOwner) {
		t.Fatalf("self transfer: %v", err)
	}
	if _, err := p.TransferOwnership(alice, "ghost"); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("transfer to stranger: %v", err)
	}

	newOwner, err := p.TransferOwnership(alice, "bob")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if newOwner.Role != domain.RoleOwner || newOwner.Username != "bob" {
		t.Fatalf("unexpected new owner %+v", newOwner)
	}
	if p.CreatedBy != "u-bob" {
		t.Fatalf("created_by not rewritten: %s", p.CreatedBy)
	}
	if old, _ := p.MemberByUsername("alice"); old.Role != domain.RoleAdmin {
		t.Fatalf("previous owner should be admin, got %s", old.Role)
	}
	owner, ok := p.Owner()
	if !ok || owner.Username != "bob" {
		t.Fatalf("owner lookup after transfer: %+v ok=%v", owner, ok)
	}
	// the old owner can no longer transfer
	if _, err := p.TransferOwnership(alice, "alice"); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("stale owner transfer: %v", err)
	}
}

func TestTransferOwnershipRoundTrip(t *testing.T) {
	p := newProject()
	_ = p.AddMember(domain.Member{UserID: "u-bob", Username: "bob", Role: domain.RoleAdmin, AddedBy: "u-alice", AddedAt: "2024-01-02T00:00:00Z"})

	original := append([]domain.Member(nil), p.Members...)
	createdBy := p.CreatedBy

	alice := domain.Identity{UserID: "u-alice", Username: "alice"}
	bob := domain.Identity{UserID: "u-bob", Username: "bob"}

	if _, err := p.TransferOwnership(alice, "bob"); err != nil {
		t.Fatalf("transfer to bob: %v", err)
	}
	if _, err := p.TransferOwnership(bob, "alice"); err != nil {
		t.Fatalf("transfer back: %v", err)
	}
	// Transferring there and back leaves the member list exactly as it was.
	if !reflect.DeepEqual(p.Members, original) {
		t.Fatalf("member list not restored:\n got %+v\nwant %+v", p.Members, original)
	}
	if p.CreatedBy != createdBy {
		t.Fatalf("created_by not restored: %s", p.CreatedBy)
	}
}

func TestNormalizeAndValidate(t *testing.T) {
	t.Run("lowercases and trims usernames", func(t *testing.T) {
		p := newProject()
		p.Members[0].Username = "  Alice "
		if err := p.NormalizeAndValidate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if p.Members[0].Username != "alice" {
			t.Fatalf("username not normalized: %q", p.Members[0].Username)
		}
	})

	var ie domain.InvariantError

	t.Run("zero owners", func(t *testing.T) {
		p := newProject()
		p.Members[0].Role = domain.RoleAdmin
		if err := p.NormalizeAndValidate(); !errors.As(err, &ie) {
			t.Fatalf("expected invariant error, got %v", err)
		}
	})

	t.Run("two owners", func(t *testing.T) {
		p := newProject()
		p.Members = append(p.Members, domain.Member{UserID: "u-bob", Username: "bob", Role: domain.RoleOwner, AddedBy: "u-alice", AddedAt: "2024-01-02T00:00:00Z"})
		if err := p.NormalizeAndValidate(); !errors.As(err, &ie) {
			t.Fatalf("expected invariant error, got %v", err)
		}
	})

	t.Run("unresolved user id", func(t *testing.T) {
		p := newProject()
		p.Members = append(p.Members, domain.Member{Username: "bob", Role: domain.RoleMember})
		if err := p.NormalizeAndValidate(); !errors.As(err, &ie) {
			t.Fatalf("expected invariant error, got %v", err)
		}
	})

	t.Run("created_by must point at owner", func(t *testing.T) {
		p := newProject()
		p.CreatedBy = "u-someone-else"
		if err := p.NormalizeAndValidate(); !errors.As(err, &ie) {
			t.Fatalf("expected invariant error, got %v", err)
		}
	})
}
