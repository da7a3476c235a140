package server

import (
	"teamline/internal/domain"
)

// Request payloads

type CreateUserRequest struct {
	Username string `json:"username"`
	Role     string `json:"role,omitempty" enum:"admin,member"`
}

type CreateProjectRequest struct {
	ID          *string `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	StartDate   *string `json:"start_date,omitempty" format:"date-time"`
	EndDate     *string `json:"end_date,omitempty" format:"date-time"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"pending,done,failed"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
}

type ArchiveProjectRequest struct {
	Archived bool `json:"archived"`
}

type AddMemberRequest struct {
	Username string `json:"username"`
	Role     string `json:"role" enum:"admin,member"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" enum:"admin,member"`
}

type TransferOwnershipRequest struct {
	Username string `json:"username"`
}

type CreateTaskRequest struct {
	ID          *string  `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Priority    *string  `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate     *string  `json:"due_date,omitempty"`
	Assignee    *string  `json:"assignee,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"todo,in_progress,done"`
}

type SetPriorityRequest struct {
	Priority string `json:"priority" enum:"low,medium,high"`
}

type SetDueDateRequest struct {
	DueDate string `json:"due_date"`
}

type AssignTaskRequest struct {
	Username string `json:"username"`
}

type SetLabelsRequest struct {
	Labels []string `json:"labels"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	Username string `json:"username"`
}

// Response payloads

type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role" enum:"admin,member"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type MemberResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role" enum:"owner,admin,member"`
	AddedBy  string `json:"added_by"`
	AddedAt  string `json:"added_at" format:"date-time"`
}

type ProjectResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	CreatedBy   string           `json:"created_by"`
	StartDate   *string          `json:"start_date,omitempty" format:"date-time"`
	EndDate     *string          `json:"end_date,omitempty" format:"date-time"`
	Status      string           `json:"status" enum:"pending,done,failed"`
	Archived    bool             `json:"archived"`
	Members     []MemberResponse `json:"members"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	UpdatedAt   string           `json:"updated_at" format:"date-time"`
}

type StatusChangeResponse struct {
	From string `json:"from" enum:"todo,in_progress,done"`
	To   string `json:"to" enum:"todo,in_progress,done"`
	At   string `json:"at" format:"date-time"`
	By   string `json:"by"`
}

type TaskResponse struct {
	ID                  string                 `json:"id"`
	ProjectID           string                 `json:"project_id"`
	Title               string                 `json:"title"`
	Description         string                 `json:"description,omitempty"`
	Status              string                 `json:"status" enum:"todo,in_progress,done"`
	Priority            string                 `json:"priority" enum:"low,medium,high"`
	DueDate             *string                `json:"due_date,omitempty"`
	AssigneeID          *string                `json:"assignee_id,omitempty"`
	AssigneeUsername    *string                `json:"assignee_username,omitempty"`
	Labels              []string               `json:"labels,omitempty"`
	StatusHistory       []StatusChangeResponse `json:"status_history,omitempty"`
	LastStatusChangedAt *string                `json:"last_status_changed_at,omitempty" format:"date-time"`
	CreatedAt           string                 `json:"created_at" format:"date-time"`
	UpdatedAt           string                 `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// Converters

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Role: string(u.Role), CreatedAt: u.CreatedAt}
}

func mapUsers(users []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(users))
	for _, u := range users {
		res = append(res, userResponse(u))
	}
	return res
}

func memberResponse(m domain.Member) MemberResponse {
	return MemberResponse{
		UserID:   m.UserID,
		Username: m.Username,
		Role:     string(m.Role),
		AddedBy:  m.AddedBy,
		AddedAt:  m.AddedAt,
	}
}

func projectResponse(p domain.Project) ProjectResponse {
	members := make([]MemberResponse, 0, len(p.Members))
	for _, m := range p.Members {
		members = append(members, memberResponse(m))
	}
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedBy:   p.CreatedBy,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		Status:      string(p.Status),
		Archived:    p.Archived,
		Members:     members,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func statusChangeResponse(c domain.StatusChange) StatusChangeResponse {
	return StatusChangeResponse{From: string(c.From), To: string(c.To), At: c.At, By: c.By}
}

func mapStatusHistory(history []domain.StatusChange) []StatusChangeResponse {
	res := make([]StatusChangeResponse, 0, len(history))
	for _, c := range history {
		res = append(res, statusChangeResponse(c))
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:                  t.ID,
		ProjectID:           t.ProjectID,
		Title:               t.Title,
		Description:         t.Description,
		Status:              string(t.Status),
		Priority:            string(t.Priority),
		DueDate:             t.DueDate,
		AssigneeID:          t.AssigneeID,
		AssigneeUsername:    t.AssigneeUsername,
		Labels:              t.Labels,
		StatusHistory:       mapStatusHistory(t.StatusHistory),
		LastStatusChangedAt: t.LastStatusChangedAt,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
