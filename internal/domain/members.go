package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Membership protocol errors. Callers classify them with errors.Is.
var (
	ErrAlreadyMember       = errors.New("user is already a member")
	ErrNotMember           = errors.New("not a member of this project")
	ErrCannotRemoveOwner   = errors.New("owner cannot be removed; transfer ownership first")
	ErrCannotRetargetOwner = errors.New("role changes may not touch ownership")
	ErrNotOwner            = errors.New("acting user is not the owner")
	ErrAlreadyOwner        = errors.New("target is already the owner")
	ErrNoOp                = errors.New("nothing to do")
)

// InvariantError reports a membership post-condition violation. It means a
// mutation slipped past validation and the aggregate must not be persisted.
type InvariantError struct {
	Reason string
}

func (e InvariantError) Error() string {
	return "membership invariant violated: " + e.Reason
}

// ResolveRole returns the identity's role in the project, if it is a member.
// Matching is dual-key (user id or case-insensitive username) so that a
// member added by username before their id was known still resolves.
func (p *Project) ResolveRole(id Identity) (ProjectRole, bool) {
	for _, m := range p.Members {
		if id.Matches(m) {
			return m.Role, true
		}
	}
	return "", false
}

// Owner returns the project's owner entry. The aggregate guarantees exactly
// one exists after every mutation.
func (p *Project) Owner() (Member, bool) {
	for _, m := range p.Members {
		if m.Role == RoleOwner {
			return m, true
		}
	}
	return Member{}, false
}

// MemberByUsername looks up a member entry case-insensitively.
func (p *Project) MemberByUsername(username string) (Member, bool) {
	if i := p.findMember(username); i >= 0 {
		return p.Members[i], true
	}
	return Member{}, false
}

func (p *Project) findMember(username string) int {
	for i, m := range p.Members {
		if strings.EqualFold(m.Username, username) {
			return i
		}
	}
	return -1
}

// AddMember appends a member entry. The user id must already be resolved;
// adding as owner is not permitted through this path.
func (p *Project) AddMember(m Member) error {
	if m.Role == RoleOwner {
		return ErrCannotRetargetOwner
	}
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if p.findMember(m.Username) >= 0 {
		return ErrAlreadyMember
	}
	m.Username = strings.ToLower(m.Username)
	p.Members = append(p.Members, m)
	return p.NormalizeAndValidate()
}

// RemoveMember drops the entry for username. The owner can never be removed.
func (p *Project) RemoveMember(username string) (Member, error) {
	i := p.findMember(username)
	if i < 0 {
		return Member{}, ErrNotMember
	}
	removed := p.Members[i]
	if removed.Role == RoleOwner {
		return Member{}, ErrCannotRemoveOwner
	}
	p.Members = append(p.Members[:i], p.Members[i+1:]...)
	if err := p.NormalizeAndValidate(); err != nil {
		return Member{}, err
	}
	return removed, nil
}

// ChangeRole sets a member's role. Ownership is never granted or revoked
// here; only TransferOwnership may touch the owner entry.
func (p *Project) ChangeRole(username string, role ProjectRole) (Member, error) {
	if !role.Valid() {
		return Member{}, fmt.Errorf("invalid role %q", role)
	}
	i := p.findMember(username)
	if i < 0 {
		return Member{}, ErrNotMember
	}
	if p.Members[i].Role == RoleOwner || role == RoleOwner {
		return Member{}, ErrCannotRetargetOwner
	}
	if p.Members[i].Role == role {
		return Member{}, ErrNoOp
	}
	p.Members[i].Role = role
	if err := p.NormalizeAndValidate(); err != nil {
		return Member{}, err
	}
	return p.Members[i], nil
}

// TransferOwnership demotes the current owner to admin, promotes the target
// to owner and rewrites CreatedBy to the new owner's user id. The caller
// persists the whole aggregate in one transaction; the intermediate states
// never escape this method.
func (p *Project) TransferOwnership(acting Identity, targetUsername string) (Member, error) {
	role, ok := p.ResolveRole(acting)
	if !ok || role != RoleOwner {
		return Member{}, ErrNotOwner
	}
	ti := p.findMember(targetUsername)
	if ti < 0 {
		return Member{}, ErrNotMember
	}
	if p.Members[ti].Role == RoleOwner {
		return Member{}, ErrAlreadyOwner
	}
	for i := range p.Members {
		if p.Members[i].Role == RoleOwner {
			p.Members[i].Role = RoleAdmin
		}
	}
	p.Members[ti].Role = RoleOwner
	p.CreatedBy = p.Members[ti].UserID
	if err := p.NormalizeAndValidate(); err != nil {
		return Member{}, err
	}
	return p.Members[ti], nil
}

// NormalizeAndValidate lowercases usernames and checks the aggregate
// invariants: exactly one owner, pairwise-distinct usernames, resolved user
// ids, and CreatedBy pointing at the owner. It runs as a post-condition on
// every membership mutation before the aggregate is committed.
func (p *Project) NormalizeAndValidate() error {
	owners := 0
	seen := make(map[string]struct{}, len(p.Members))
	for i := range p.Members {
		m := &p.Members[i]
		m.Username = strings.ToLower(strings.TrimSpace(m.Username))
		if m.Username == "" {
			return InvariantError{Reason: "member with empty username"}
		}
		if m.UserID == "" {
			return InvariantError{Reason: "member " + m.Username + " has unresolved user id"}
		}
		if !m.Role.Valid() {
			return InvariantError{Reason: "member " + m.Username + " has invalid role " + string(m.Role)}
		}
		if _, dup := seen[m.Username]; dup {
			return InvariantError{Reason: "duplicate username " + m.Username}
		}
		seen[m.Username] = struct{}{}
		if m.Role == RoleOwner {
			owners++
		}
	}
	if owners != 1 {
		return InvariantError{Reason: fmt.Sprintf("expected exactly one owner, found %d", owners)}
	}
	owner, _ := p.Owner()
	if p.CreatedBy != owner.UserID {
		return InvariantError{Reason: "created_by does not match owner"}
	}
	return nil
}
