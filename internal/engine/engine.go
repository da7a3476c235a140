package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"teamline/internal/domain"
	"teamline/internal/engine/authz"
	"teamline/internal/events"
	"teamline/internal/repo"
)

// Engine owns all business operations. Every mutation runs as a single
// read-modify-write transaction against the latest persisted version of the
// aggregate; a stale write surfaces repo.ErrVersionConflict instead of
// silently overwriting a concurrent change.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ErrUserNotFound means a username could not be resolved to a registered
// user. Members are resolved synchronously at write time; there is no
// pending-member state.
var ErrUserNotFound = errors.New("user not found")

// ErrNotProjectMember means a task assignee is not currently a member of the
// task's project.
var ErrNotProjectMember = errors.New("assignee is not a project member")

// --- users ---

func (e Engine) CreateUser(ctx context.Context, username string, role domain.AppRole) (domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return domain.User{}, errors.New("username is required")
	}
	if role == "" {
		role = domain.AppRoleMember
	}
	if !role.Valid() {
		return domain.User{}, fmt.Errorf("invalid app role %q", role)
	}
	if _, err := e.Repo.GetUserByUsername(ctx, username); err == nil {
		return domain.User{}, fmt.Errorf("username %s already taken", username)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	u := domain.User{
		ID:        uuid.New().String(),
		Username:  username,
		Role:      role,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// ResolveIdentity fills in the user id and app role for a username-only
// identity. Used by the CLI where the actor is named by username.
func (e Engine) ResolveIdentity(ctx context.Context, username string) (domain.Identity, error) {
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Identity{}, fmt.Errorf("%s: %w", username, ErrUserNotFound)
		}
		return domain.Identity{}, err
	}
	return domain.Identity{UserID: u.ID, Username: u.Username, AppRole: u.Role}, nil
}

// --- projects ---

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID          string
	Name        string
	Description string
	StartDate   string
	EndDate     string
}

// CreateProject creates the project with the acting user auto-inserted as
// owner; created_by always tracks the owner entry.
func (e Engine) CreateProject(ctx context.Context, actor domain.Identity, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	creator, err := e.Repo.GetUser(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, fmt.Errorf("creator: %w", ErrUserNotFound)
		}
		return domain.Project{}, err
	}
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	p := domain.Project{
		ID:          id,
		Name:        opts.Name,
		Description: opts.Description,
		CreatedBy:   creator.ID,
		StartDate:   optionalString(opts.StartDate),
		EndDate:     optionalString(opts.EndDate),
		Status:      domain.ProjectPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		Members: []domain.Member{{
			UserID:   creator.ID,
			Username: creator.Username,
			Role:     domain.RoleOwner,
			AddedBy:  creator.ID,
			AddedAt:  now,
		}},
	}
	if err := p.NormalizeAndValidate(); err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actor.UserID, events.EventPayload{
		"name":  p.Name,
		"owner": creator.Username,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// projectForActor loads the aggregate and resolves the actor's role in it.
func (e Engine) projectForActor(ctx context.Context, projectID string, actor domain.Identity) (domain.Project, domain.ProjectRole, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, "", err
	}
	role, ok := p.ResolveRole(actor)
	if !ok {
		return p, "", nil
	}
	return p, role, nil
}

// GetProject returns the project for a member of it.
func (e Engine) GetProject(ctx context.Context, actor domain.Identity, projectID string) (domain.Project, error) {
	p, role, err := e.projectForActor(ctx, projectID, actor)
	if err != nil {
		return domain.Project{}, err
	}
	if err := authz.Require(role, authz.OpViewProject); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ListProjects returns the projects the actor belongs to.
func (e Engine) ListProjects(ctx context.Context, actor domain.Identity) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, actor)
}

// ProjectUpdateOptions carries optional metadata changes. Nil fields are
// left untouched; empty strings clear the optional dates.
type ProjectUpdateOptions struct {
	Name        *string
	Description *string
	Status      *string
	StartDate   *string
	EndDate     *string
}

func (e Engine) UpdateProject(ctx context.Context, actor domain.Identity, projectID string, opts ProjectUpdateOptions) (domain.Project, error) {
	p, role, err := e.projectForActor(ctx, projectID, actor)
	if err != nil {
		return domain.Project{}, err
	}
	if err := authz.Require(role, authz.OpUpdateProject); err != nil {
		return domain.Project{}, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.Project{}, errors.New("name is required")
		}
		p.Name = *opts.Name
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.Status != nil {
		status := domain.ProjectStatus(*opts.Status)
		if !status.Valid() {
			return domain.Project{}, fmt.Errorf("invalid project status %q", *opts.Status)
		}
		p.Status = status
	}
	if opts.StartDate != nil {
		p.StartDate = optionalString(*opts.StartDate)
	}
	if opts.EndDate != nil {
		p.EndDate = optionalString(*opts.EndDate)
	}
	return e.saveProject(ctx, p, actor, events.ProjectUpdated, events.EventPayload{"status": string(p.Status)})
}

// SetArchived flips the archive flag. Archival is metadata, not a lifecycle
// state; only the owner may change it.
func (e Engine) SetArchived(ctx context.Context, actor domain.Identity, projectID string, archived bool) (domain.Project, error) {
	p, role, err := e.projectForActor(ctx, projectID, actor)
	if err != nil {
		return domain.Project{}, err
	}
	if err := authz.Require(role, authz.OpArchiveProject); err != nil {
		return domain.Project{}, err
	}
	if p.Archived == archived {
		return p, domain.ErrNoOp
	}
	p.Archived = archived
	return e.saveProject(ctx, p, actor, events.ProjectArchived, events.EventPayload{"archived": archived})
}

func (e Engine) DeleteProject(ctx context.Context, actor domain.Identity, projectID string) error {
	_, role, err := e.projectForActor(ctx, projectID, actor)
	if err != nil {
		return err
	}
	if err := authz.Require(role, authz.OpDeleteProject); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProjectTx(ctx, tx, projectID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectDeleted, projectID, "project", projectID, actor.UserID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// saveProject persists the mutated aggregate under the version it was
// loaded at and appends the given event in the same transaction.
func (e Engine) saveProject(ctx context.Context, p domain.Project, actor domain.Identity, evtType string, payload events.EventPayload) (domain.Project, error) {
	if err := p.NormalizeAndValidate(); err != nil {
		return domain.Project{}, err
	}
	loaded := p.Version
	p.Version = loaded + 1
	p.UpdatedAt = e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveProjectTx(ctx, tx, p, loaded); err != nil {
		return domain.Project{}, err
	}
	if evtType != "" {
		if err := e.Events.Append(ctx, tx, evtType, p.ID, "project", p.ID, actor.UserID, payload); err != nil {
			return domain.Project{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ListEvents returns the project's event log, newest first, for members.
func (e Engine) ListEvents(ctx context.Context, actor domain.Identity, projectID string, limit int, cursor int64, evtType string) ([]domain.Event, error) {
	_, role, err := e.projectForActor(ctx, projectID, actor)
	if err != nil {
		return nil, err
	}
	if err := authz.Require(role, authz.OpViewProject); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.Repo.LatestEvents(ctx, limit, cursor, projectID, evtType)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
