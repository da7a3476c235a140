package domain

import "strings"

// AppRole is the application-level role of a user. It is orthogonal to
// project membership roles.
type AppRole string

const (
	AppRoleAdmin  AppRole = "admin"
	AppRoleMember AppRole = "member"
)

func (r AppRole) Valid() bool {
	return r == AppRoleAdmin || r == AppRoleMember
}

// ProjectRole is a member's role within a single project.
type ProjectRole string

const (
	RoleOwner  ProjectRole = "owner"
	RoleAdmin  ProjectRole = "admin"
	RoleMember ProjectRole = "member"
)

func (r ProjectRole) Valid() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleMember
}

type ProjectStatus string

const (
	ProjectPending ProjectStatus = "pending"
	ProjectDone    ProjectStatus = "done"
	ProjectFailed  ProjectStatus = "failed"
)

func (s ProjectStatus) Valid() bool {
	return s == ProjectPending || s == ProjectDone || s == ProjectFailed
}

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	return s == TaskTodo || s == TaskInProgress || s == TaskDone
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

func (p TaskPriority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

type User struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	Role      AppRole `json:"role" enum:"admin,member"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Identity is the acting principal of a request, as resolved by the
// authentication layer. Member lookups match on either key: a member may
// have been added by username before the caller learned their user id, so
// every role resolution must check both.
type Identity struct {
	UserID   string
	Username string
	AppRole  AppRole
}

// Matches reports whether the member entry refers to this identity, by user
// id or by case-insensitive username.
func (id Identity) Matches(m Member) bool {
	if id.UserID != "" && m.UserID == id.UserID {
		return true
	}
	return id.Username != "" && strings.EqualFold(m.Username, id.Username)
}

type Member struct {
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	Role     ProjectRole `json:"role" enum:"owner,admin,member"`
	AddedBy  string      `json:"added_by"`
	AddedAt  string      `json:"added_at" format:"date-time"`
}

type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	CreatedBy   string        `json:"created_by"`
	StartDate   *string       `json:"start_date,omitempty" format:"date-time"`
	EndDate     *string       `json:"end_date,omitempty" format:"date-time"`
	Status      ProjectStatus `json:"status" enum:"pending,done,failed"`
	Archived    bool          `json:"archived"`
	Members     []Member      `json:"members"`
	Version     int64         `json:"-"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

// StatusChange is one entry of a task's append-only audit trail.
type StatusChange struct {
	From TaskStatus `json:"from" enum:"todo,in_progress,done"`
	To   TaskStatus `json:"to" enum:"todo,in_progress,done"`
	At   string     `json:"at" format:"date-time"`
	By   string     `json:"by"`
}

type Task struct {
	ID                  string         `json:"id"`
	ProjectID           string         `json:"project_id"`
	Title               string         `json:"title"`
	Description         string         `json:"description,omitempty"`
	Status              TaskStatus     `json:"status" enum:"todo,in_progress,done"`
	Priority            TaskPriority   `json:"priority" enum:"low,medium,high"`
	DueDate             *string        `json:"due_date,omitempty" format:"date-time"`
	AssigneeID          *string        `json:"assignee_id,omitempty"`
	AssigneeUsername    *string        `json:"assignee_username,omitempty"`
	Labels              []string       `json:"labels,omitempty"`
	StatusHistory       []StatusChange `json:"status_history,omitempty"`
	LastStatusChangedAt *string        `json:"last_status_changed_at,omitempty" format:"date-time"`
	Version             int64          `json:"-"`
	CreatedAt           string         `json:"created_at" format:"date-time"`
	UpdatedAt           string         `json:"updated_at" format:"date-time"`
}

// AssignedTo reports whether the task is currently assigned to the identity.
func (t Task) AssignedTo(id Identity) bool {
	if t.AssigneeID != nil && id.UserID != "" && *t.AssigneeID == id.UserID {
		return true
	}
	return t.AssigneeUsername != nil && id.Username != "" && strings.EqualFold(*t.AssigneeUsername, id.Username)
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
