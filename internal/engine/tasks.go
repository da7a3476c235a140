package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/events"
	"teamline/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID               string
	ProjectID        string
	Title            string
	Description      string
	Priority         domain.TaskPriority
	DueDate          string
	AssigneeUsername string
	Labels           []string
}

func (e Engine) CreateTask(ctx context.Context, actor domain.Identity, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	p, role, err := e.projectForActor(ctx, opts.ProjectID, actor)
	if err != nil {
		return domain.Task{}, err
	}
	if err := authz.Require(role, authz.OpCreateTask); err != nil {
		return domain.Task{}, err
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return domain.Task{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	due, err := parseDueDate(opts.DueDate)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProjectID+"|"+opts.Title+"|"+now)).String()
	}
	t := domain.Task{
		ID:          id,
		ProjectID:   opts.ProjectID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.TaskTodo,
		Priority:    opts.Priority,
		DueDate:     due,
		Labels:      normalizeLabels(opts.Labels),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.AssigneeUsername != "" {
		member, ok := p.MemberByUsername(opts.AssigneeUsername)
		if !ok {
			return domain.Task{}, fmt.Errorf("%s: %w", opts.AssigneeUsername, ErrNotProjectMember)
		}
		t.AssigneeUsername = &member.Username
		t.AssigneeID = &member.UserID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, t.ProjectID, "task", t.ID, actor.UserID, events.EventPayload{
		"title":    t.Title,
		"priority": string(t.Priority),
	}); err != nil {
		return domain.Task{}, err
	}
	if t.AssigneeID != nil {
		if err := e.Events.Append(ctx, tx, events.TaskAssigned, t.ProjectID, "task", t.ID, actor.UserID, events.EventPayload{
			"assignee":          *t.AssigneeUsername,
			"affected_user_ids": []string{*t.AssigneeID},
		}); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// taskForActor loads the task, its project and the actor's role, and applies
// the visibility rule: plain members only see their own assigned tasks.
func (e Engine) taskForActor(ctx context.Context, taskID string, actor domain.Identity) (domain.Task, domain.ProjectRole, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, "", err
	}
	_, role, err := e.projectForActor(ctx, t.ProjectID, actor)
	if err != nil {
		return domain.Task{}, "", err
	}
	if !authz.CanViewTask(role, t.AssignedTo(actor)) {
		return domain.Task{}, "", authz.ForbiddenError{Op: authz.OpViewProject, Role: role}
	}
	return t, role, nil
}

func (e Engine) GetTask(ctx context.Context, actor domain.Identity, taskID string) (domain.Task, error) {
	t, _, err := e.taskForActor(ctx, taskID, actor)
	return t, err
}

// TaskHistory returns the append-only status audit trail.
func (e Engine) TaskHistory(ctx context.Context, actor domain.Identity, taskID string) ([]domain.StatusChange, error) {
	t, _, err := e.taskForActor(ctx, taskID, actor)
	if err != nil {
		return nil, err
	}
	return t.StatusHistory, nil
}

// ListTasks lists project tasks for the actor. Plain members get only the
// tasks assigned to them regardless of the requested filters.
func (e Engine) ListTasks(ctx context.Context, actor domain.Identity, f repo.TaskFilters) ([]domain.Task, error) {
	if f.ProjectID == "" {
		return nil, errors.New("project is required")
	}
	_, role, err := e.projectForActor(ctx, f.ProjectID, actor)
	if err != nil {
		return nil, err
	}
	if err := authz.Require(role, authz.OpViewProject); err != nil {
		return nil, err
	}
	if role == domain.RoleMember {
		f.AssigneeUsername = actor.Username
	}
	return e.Repo.ListTasks(ctx, f)
}

// ChangeStatus moves the task to a new status and appends an audit entry in
// the same transaction. Re-applying the current status is a NoOp and leaves
// the history untouched.
func (e Engine) ChangeStatus(ctx context.Context, actor domain.Identity, taskID string, status domain.TaskStatus) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, fmt.Errorf("invalid task status %q", status)
	}
	t, role, err := e.taskForActor(ctx, taskID, actor)
	if err != nil {
		return domain.Task{}, err
	}
	if err := authz.Require(role, authz.OpEditTask); err != nil {
		return domain.Task{}, err
	}
	if t.Status == status {
		return t, domain.ErrNoOp
	}
	now := e.nowString()
	change := domain.StatusChange{From: t.Status, To: status, At: now, By: actor.UserID}
	t.Status = status
	t.LastStatusChangedAt = &now
	return e.saveTask(ctx, t, actor, func(ctx context.Context, tx *sql.Tx) error {
		if err := e.Repo.AppendStatusHistoryTx(ctx, tx, t.ID, change); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskStatusChanged, t.ProjectID, "task", t.ID, actor.UserID, events.EventPayload{
			"from":              string(change.From),
			"to":                string(change.To),
			"affected_user_ids": affectedAssignee(t),
		})
	}, &change)
}

// SetPriority is a plain field mutation with no history requirement.
func (e Engine) SetPriority(ctx context.Context, actor domain.Identity, taskID string, priority domain.TaskPriority) (domain.Task, error) {
	if !priority.Valid() {
		return domain.Task{}, fmt.Errorf("invalid priority %q", priority)
	}
	t, role, err := e.taskForActor(ctx, taskID, actor)
	if err != nil {
		return domain.Task{}, err
	}
	if err := authz.Require(role, authz.OpEditTask); err != nil {
		return domain.Task{}, err
	}
	if t.Priority == priority {
		return t, domain.ErrNoOp
	}
	t.Priority = priority
	return e.saveTask(ctx, t, actor, nil, nil)
}

// SetDueDate sets or clears the due date; an empty string clears it.
func (e Engine) SetDueDate(ctx context.Context, actor domain.Identity, taskID, dueDate string) (domain.Task, error) {
	due, err := parseDueDate(dueDate)
	if err != nil {
		return domain.Task{}, err
	}
	t, role, err := e.taskForActor(ctx, taskID, actor)
	if err != nil {
		return domain.Task{}, err
	}
	if err := authz.Require(role, authz.OpEditTask); err != nil {
		return domain.Task{}, err
	}
	t.DueDate = due
	return e.saveTask(ctx, t, actor, nil, nil)
}

// SetLabels replaces the label set. Labels are deduplicated and sorted.
func (e Engine) SetLabels(ctx context.Context, actor domain.Identity, taskID string, labels []string) (domain.Task, error) {
	t, role, err := e.taskForActor(ctx, taskID, actor)
	if err != nil {
		return domain.Task{}, err
	}
	if err := authz.Require(role, authz.OpEditTask); err != nil {
		return domain.Task{}, err
	}
	t.Labels = normalizeLabels(labels)
	return e.saveTask(ctx, t, actor, nil, nil)
}

// Reassign validates the new assignee against the project's current member
// list; membership is not re-validated retroactively if the assignee is
// later removed. An empty username clears the assignment.
func (e Engine) Reassign(ctx context.Context, actor domain.Identity, taskID, username string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	p, role, err := e.projectForActor(ctx, t.ProjectID, actor)
	if err != nil {
		return domain.Task{}, err
	}
	if err := authz.Require(role, authz.OpReassignTask); err != nil {
		return domain.Task{}, err
	}
	if username == "" {
		if t.AssigneeUsername == nil {
			return t, domain.ErrNoOp
		}
		t.AssigneeUsername = nil
		t.AssigneeID = nil
		return e.saveTask(ctx, t, actor, func(ctx context.Context, tx *sql.Tx) error {
			return e.Events.Append(ctx, tx, events.TaskAssigned, t.ProjectID, "task", t.ID, actor.UserID, events.EventPayload{
				"assignee": "",
			})
		}, nil)
	}
	member, ok := p.MemberByUsername(username)
	if !ok {
		return domain.Task{}, fmt.Errorf("%s: %w", username, ErrNotProjectMember)
	}
	if t.AssigneeUsername != nil && strings.EqualFold(*t.AssigneeUsername, member.Username) {
		return t, domain.ErrNoOp
	}
	t.AssigneeUsername = &member.Username
	t.AssigneeID = &member.UserID
	return e.saveTask(ctx, t, actor, func(ctx context.Context, tx *sql.Tx) error {
		return e.Events.Append(ctx, tx, events.TaskAssigned, t.ProjectID, "task", t.ID, actor.UserID, events.EventPayload{
			"assignee":          member.Username,
			"affected_user_ids": []string{member.UserID},
		})
	}, nil)
}

func (e Engine) DeleteTask(ctx context.Context, actor domain.Identity, taskID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	_, role, err := e.projectForActor(ctx, t.ProjectID, actor)
	if err != nil {
		return err
	}
	if err := authz.Require(role, authz.OpDeleteTask); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTaskTx(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TaskDeleted, t.ProjectID, "task", t.ID, actor.UserID, events.EventPayload{
		"title": t.Title,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// saveTask persists the mutated task under the version it was loaded at and
// runs the optional extra step (history append, event) in the same
// transaction.
func (e Engine) saveTask(ctx context.Context, t domain.Task, actor domain.Identity, extra func(context.Context, *sql.Tx) error, appended *domain.StatusChange) (domain.Task, error) {
	loaded := t.Version
	t.Version = loaded + 1
	t.UpdatedAt = e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveTaskTx(ctx, tx, t, loaded); err != nil {
		return domain.Task{}, err
	}
	if extra != nil {
		if err := extra(ctx, tx); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if appended != nil {
		t.StatusHistory = append(t.StatusHistory, *appended)
	}
	return t, nil
}

func affectedAssignee(t domain.Task) []string {
	if t.AssigneeID == nil {
		return nil
	}
	return []string{*t.AssigneeID}
}

func parseDueDate(s string) (*string, error) {
	if s == "" {
		return nil, nil
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		if _, err2 := time.Parse("2006-01-02", s); err2 != nil {
			return nil, fmt.Errorf("invalid due date %q: %w", s, err)
		}
	}
	return &s, nil
}

func normalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(labels))
	var out []string
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
