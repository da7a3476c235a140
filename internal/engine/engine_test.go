package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/engine/authz"
	"teamline/internal/migrate"
	"teamline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) user(t *testing.T, username string) domain.Identity {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, username, domain.AppRoleMember)
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return domain.Identity{UserID: u.ID, Username: u.Username, AppRole: u.Role}
}

func (env testEnv) project(t *testing.T, owner domain.Identity, name string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, owner, engine.ProjectCreateOptions{Name: name})
	if err != nil {
		t.Fatalf("create project %s: %v", name, err)
	}
	return p
}

func TestCreateProjectAutoOwner(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	p := env.project(t, alice, "demo")
	if len(p.Members) != 1 {
		t.Fatalf("expected one member, got %d", len(p.Members))
	}
	owner, ok := p.Owner()
	if !ok || owner.UserID != alice.UserID || owner.Role != domain.RoleOwner {
		t.Fatalf("owner entry wrong: %+v", owner)
	}
	if p.CreatedBy != alice.UserID {
		t.Fatalf("created_by should be the owner, got %s", p.CreatedBy)
	}

	// bob is not a member and must not see the project
	_, err := env.Engine.GetProject(env.Ctx, bob, p.ID)
	var fe authz.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for non-member, got %v", err)
	}

	// and only alice's listing contains it
	mine, err := env.Engine.ListProjects(env.Ctx, alice)
	if err != nil || len(mine) != 1 {
		t.Fatalf("alice list: %v (%d)", err, len(mine))
	}
	theirs, err := env.Engine.ListProjects(env.Ctx, bob)
	if err != nil || len(theirs) != 0 {
		t.Fatalf("bob list: %v (%d)", err, len(theirs))
	}
}

func TestMembershipScenario(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	env.user(t, "carol")

	p := env.project(t, alice, "demo")

	// plain members cannot manage membership
	if _, err := env.Engine.AddMember(env.Ctx, alice, p.ID, "bob", domain.RoleMember); err != nil {
		t.Fatalf("alice adds bob: %v", err)
	}
	var fe authz.ForbiddenError
	if _, err := env.Engine.AddMember(env.Ctx, bob, p.ID, "carol", domain.RoleMember); !errors.As(err, &fe) {
		t.Fatalf("bob (member) adding carol should be forbidden: %v", err)
	}

	// promote bob, then he can add carol
	if _, err := env.Engine.ChangeMemberRole(env.Ctx, alice, p.ID, "bob", domain.RoleAdmin); err != nil {
		t.Fatalf("promote bob: %v", err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, bob, p.ID, "carol", domain.RoleMember); err != nil {
		t.Fatalf("bob (admin) adds carol: %v", err)
	}

	// adding an unregistered username fails cleanly
	if _, err := env.Engine.AddMember(env.Ctx, alice, p.ID, "ghost", domain.RoleMember); !errors.Is(err, engine.ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}

	// admin removes member, but never an admin or the owner
	if err := env.Engine.RemoveMember(env.Ctx, bob, p.ID, "carol"); err != nil {
		t.Fatalf("bob removes carol: %v", err)
	}
	if err := env.Engine.RemoveMember(env.Ctx, bob, p.ID, "alice"); !errors.Is(err, domain.ErrCannotRemoveOwner) {
		t.Fatalf("removing owner: %v", err)
	}

	// only the owner demotes admins
	if _, err := env.Engine.ChangeMemberRole(env.Ctx, bob, p.ID, "bob", domain.RoleMember); !errors.As(err, &fe) {
		t.Fatalf("admin changing roles should be forbidden: %v", err)
	}
	if _, err := env.Engine.ChangeMemberRole(env.Ctx, alice, p.ID, "bob", domain.RoleAdmin); !errors.Is(err, domain.ErrNoOp) {
		t.Fatalf("same-role change should be a noop: %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	p := env.project(t, alice, "demo")
	if _, err := env.Engine.AddMember(env.Ctx, alice, p.ID, "bob", domain.RoleMember); err != nil {
		t.Fatalf("add bob: %v", err)
	}

	got, err := env.Engine.TransferOwnership(env.Ctx, alice, p.ID, "bob")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	owner, _ := got.Owner()
	if owner.UserID != bob.UserID {
		t.Fatalf("owner after transfer: %+v", owner)
	}
	if got.CreatedBy != bob.UserID {
		t.Fatalf("created_by after transfer: %s", got.CreatedBy)
	}
	if prev, _ := got.MemberByUsername("alice"); prev.Role != domain.RoleAdmin {
		t.Fatalf("previous owner should be admin: %+v", prev)
	}

	// the new owner cannot be removed, the old one has lost owner powers
	if err := env.Engine.RemoveMember(env.Ctx, bob, p.ID, "bob"); !errors.Is(err, domain.ErrCannotRemoveOwner) {
		t.Fatalf("removing new owner: %v", err)
	}
	var fe authz.ForbiddenError
	if err := env.Engine.DeleteProject(env.Ctx, alice, p.ID); !errors.As(err, &fe) {
		t.Fatalf("old owner deleting project: %v", err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, bob, p.ID); err != nil {
		t.Fatalf("new owner deleting project: %v", err)
	}
}

func TestLeaveProject(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	carol := env.user(t, "carol")

	p := env.project(t, alice, "demo")
	_, _ = env.Engine.AddMember(env.Ctx, alice, p.ID, "bob", domain.RoleMember)

	// the owner cannot leave
	var fe authz.ForbiddenError
	if err := env.Engine.LeaveProject(env.Ctx, alice, p.ID); !errors.As(err, &fe) {
		t.Fatalf("owner leave should be forbidden: %v", err)
	}
	// a stranger gets not-member
	if err := env.Engine.LeaveProject(env.Ctx, carol, p.ID); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("stranger leave: %v", err)
	}
	if err := env.Engine.LeaveProject(env.Ctx, bob, p.ID); err != nil {
		t.Fatalf("bob leave: %v", err)
	}
	got, err := env.Engine.GetProject(env.Ctx, alice, p.ID)
	if err != nil || len(got.Members) != 1 {
		t.Fatalf("after leave: %v members=%d", err, len(got.Members))
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	env.user(t, "carol")

	p := env.project(t, alice, "demo")
	_, _ = env.Engine.AddMember(env.Ctx, alice, p.ID, "bob", domain.RoleMember)

	// assignee must be a current member
	if _, err := env.Engine.CreateTask(env.Ctx, alice, engine.TaskCreateOptions{
		ProjectID:        p.ID,
		Title:            "Ship it",
		AssigneeUsername: "carol",
	}); !errors.Is(err, engine.ErrNotProjectMember) {
		t.Fatalf("carol is not a member: %v", err)
	}

	task, err := env.Engine.CreateTask(env.Ctx, alice, engine.TaskCreateOptions{
		ProjectID:        p.ID,
		Title:            "Ship it",
		AssigneeUsername: "bob",
		Labels:           []string{"backend", "backend", "urgent"},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != domain.TaskTodo || task.Priority != domain.PriorityMedium {
		t.Fatalf("defaults: status=%s priority=%s", task.Status, task.Priority)
	}
	if len(task.Labels) != 2 {
		t.Fatalf("labels not deduplicated: %v", task.Labels)
	}

	// any-to-any transitions, each appending exactly one history entry
	task, err = env.Engine.ChangeStatus(env.Ctx, alice, task.ID, domain.TaskDone)
	if err != nil || task.Status != domain.TaskDone {
		t.Fatalf("todo -> done: %v", err)
	}
	task, err = env.Engine.ChangeStatus(env.Ctx, alice, task.ID, domain.TaskInProgress)
	if err != nil || task.Status != domain.TaskInProgress {
		t.Fatalf("done -> in_progress: %v", err)
	}

	// re-applying the current status is a noop and leaves history alone
	if _, err := env.Engine.ChangeStatus(env.Ctx, alice, task.ID, domain.TaskInProgress); !errors.Is(err, domain.ErrNoOp) {
		t.Fatalf("same-status change: %v", err)
	}

	history, err := env.Engine.TaskHistory(env.Ctx, alice, task.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].From != domain.TaskTodo || history[0].To != domain.TaskDone {
		t.Fatalf("first entry: %+v", history[0])
	}
	if history[1].From != domain.TaskDone || history[1].To != domain.TaskInProgress {
		t.Fatalf("second entry: %+v", history[1])
	}
	for _, c := range history {
		if c.By != alice.UserID {
			t.Fatalf("entry not attributed to actor: %+v", c)
		}
	}

	// bob (plain member) sees his assigned task but cannot edit it
	if _, err := env.Engine.GetTask(env.Ctx, bob, task.ID); err != nil {
		t.Fatalf("assignee get: %v", err)
	}
	var fe authz.ForbiddenError
	if _, err := env.Engine.ChangeStatus(env.Ctx, bob, task.ID, domain.TaskDone); !errors.As(err, &fe) {
		t.Fatalf("member edit should be forbidden: %v", err)
	}
}

func TestTaskVisibilityForMembers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	p := env.project(t, alice, "demo")
	_, _ = env.Engine.AddMember(env.Ctx, alice, p.ID, "bob", domain.RoleMember)

	mine, err := env.Engine.CreateTask(env.Ctx, alice, engine.TaskCreateOptions{ProjectID: p.ID, Title: "bob's", AssigneeUsername: "bob"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	other, err := env.Engine.CreateTask(env.Ctx, alice, engine.TaskCreateOptions{ProjectID: p.ID, Title: "unassigned"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var fe authz.ForbiddenError
	if _, err := env.Engine.GetTask(env.Ctx, bob, other.ID); !errors.As(err, &fe) {
		t.Fatalf("bob reading unassigned task: %v", err)
	}

	items, err := env.Engine.ListTasks(env.Ctx, bob, repo.TaskFilters{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != mine.ID {
		t.Fatalf("member listing should be scoped to own tasks: %+v", items)
	}
}

func TestReassignRevalidatesMembership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	env.user(t, "bob")
	env.user(t, "carol")

	p := env.project(t, alice, "demo")
	_, _ = env.Engine.AddMember(env.Ctx, alice, p.ID, "bob", domain.RoleMember)

	task, err := env.Engine.CreateTask(env.Ctx, alice, engine.TaskCreateOptions{ProjectID: p.ID, Title: "work"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Reassign(env.Ctx, alice, task.ID, "carol"); !errors.Is(err, engine.ErrNotProjectMember) {
		t.Fatalf("reassign to non-member: %v", err)
	}
	task, err = env.Engine.Reassign(env.Ctx, alice, task.ID, "bob")
	if err != nil || task.AssigneeUsername == nil || *task.AssigneeUsername != "bob" {
		t.Fatalf("reassign to bob: %v %+v", err, task.AssigneeUsername)
	}
	if _, err := env.Engine.Reassign(env.Ctx, alice, task.ID, "bob"); !errors.Is(err, domain.ErrNoOp) {
		t.Fatalf("same assignee: %v", err)
	}
	task, err = env.Engine.Reassign(env.Ctx, alice, task.ID, "")
	if err != nil || task.AssigneeUsername != nil {
		t.Fatalf("unassign: %v", err)
	}

	// removing the assignee does not retroactively clear existing tasks
	task, _ = env.Engine.Reassign(env.Ctx, alice, task.ID, "bob")
	if err := env.Engine.RemoveMember(env.Ctx, alice, p.ID, "bob"); err != nil {
		t.Fatalf("remove bob: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, alice, task.ID)
	if err != nil || got.AssigneeUsername == nil || *got.AssigneeUsername != "bob" {
		t.Fatalf("assignment should survive removal: %v %+v", err, got.AssigneeUsername)
	}
}

func TestVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	p := env.project(t, alice, "demo")

	loaded, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	stale := loaded
	stale.Version = loaded.Version + 1
	if err := env.Engine.Repo.SaveProjectTx(env.Ctx, tx, stale, loaded.Version-1); !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestEventLog(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	env.user(t, "bob")

	p := env.project(t, alice, "demo")
	_, _ = env.Engine.AddMember(env.Ctx, alice, p.ID, "bob", domain.RoleMember)
	task, _ := env.Engine.CreateTask(env.Ctx, alice, engine.TaskCreateOptions{ProjectID: p.ID, Title: "work"})
	_, _ = env.Engine.ChangeStatus(env.Ctx, alice, task.ID, domain.TaskDone)

	events, err := env.Engine.ListEvents(env.Ctx, alice, p.ID, 10, 0, "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	// newest first
	if events[0].Type != "task.status_changed" || events[len(events)-1].Type != "project.created" {
		t.Fatalf("unexpected order: first=%s last=%s", events[0].Type, events[len(events)-1].Type)
	}
}
