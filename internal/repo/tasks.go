package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"teamline/internal/domain"
)

const taskSelect = `SELECT id,project_id,title,description,status,priority,due_date,assignee_id,assignee_username,labels_json,last_status_changed_at,version,created_at,updated_at FROM tasks`

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	labels, err := marshalLabels(t.Labels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,status,priority,due_date,assignee_id,assignee_username,labels_json,last_status_changed_at,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), string(t.Status), string(t.Priority),
		nullableStringPtr(t.DueDate), nullableStringPtr(t.AssigneeID), nullableStringPtr(t.AssigneeUsername),
		labels, nullableStringPtr(t.LastStatusChangedAt), t.Version, t.CreatedAt, t.UpdatedAt)
	return err
}

// SaveTaskTx updates the task row under an optimistic version check.
func (r Repo) SaveTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task, expectedVersion int64) error {
	labels, err := marshalLabels(t.Labels)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?, due_date=?, assignee_id=?, assignee_username=?, labels_json=?, last_status_changed_at=?, version=?, updated_at=?
WHERE id=? AND version=?`,
		t.Title, nullable(t.Description), string(t.Status), string(t.Priority),
		nullableStringPtr(t.DueDate), nullableStringPtr(t.AssigneeID), nullableStringPtr(t.AssigneeUsername),
		labels, nullableStringPtr(t.LastStatusChangedAt), t.Version, t.UpdatedAt, t.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id=?`, t.ID).Scan(&exists); err == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTaskRow(r.DB.QueryRowContext(ctx, taskSelect+` WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	t.StatusHistory, err = r.ListStatusHistory(ctx, id)
	return t, err
}

func scanTaskRow(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	var desc, due, assigneeID, assigneeUsername, labels, lastChanged sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &desc, &t.Status, &t.Priority, &due,
		&assigneeID, &assigneeUsername, &labels, &lastChanged, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	applyTaskNulls(&t, desc, due, assigneeID, assigneeUsername, labels, lastChanged)
	return t, nil
}

func applyTaskNulls(t *domain.Task, desc, due, assigneeID, assigneeUsername, labels, lastChanged sql.NullString) {
	if desc.Valid {
		t.Description = desc.String
	}
	if due.Valid {
		t.DueDate = &due.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if assigneeUsername.Valid {
		t.AssigneeUsername = &assigneeUsername.String
	}
	if labels.Valid && labels.String != "" {
		_ = json.Unmarshal([]byte(labels.String), &t.Labels)
	}
	if lastChanged.Valid {
		t.LastStatusChangedAt = &lastChanged.String
	}
}

type TaskFilters struct {
	ProjectID        string
	Status           string
	Priority         string
	AssigneeUsername string
	Label            string
	Limit            int
	CursorCreatedAt  string
	CursorID         string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.AssigneeUsername != "" {
		clauses = append(clauses, "assignee_username=?")
		args = append(args, strings.ToLower(f.AssigneeUsername))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := taskSelect + ` ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var desc, due, assigneeID, assigneeUsername, labels, lastChanged sql.NullString
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &desc, &t.Status, &t.Priority, &due,
			&assigneeID, &assigneeUsername, &labels, &lastChanged, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		applyTaskNulls(&t, desc, due, assigneeID, assigneeUsername, labels, lastChanged)
		if f.Label != "" && !containsLabel(t.Labels, f.Label) {
			continue
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM task_status_history WHERE task_id=?`, id)
	return err
}

// AppendStatusHistoryTx writes one audit entry. The table is insert-only;
// nothing in the codebase updates or deletes rows except whole-task removal.
func (r Repo) AppendStatusHistoryTx(ctx context.Context, tx *sql.Tx, taskID string, c domain.StatusChange) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_status_history(task_id,from_status,to_status,changed_at,changed_by) VALUES (?,?,?,?,?)`,
		taskID, string(c.From), string(c.To), c.At, c.By)
	return err
}

func (r Repo) ListStatusHistory(ctx context.Context, taskID string) ([]domain.StatusChange, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT from_status,to_status,changed_at,changed_by FROM task_status_history WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusChange
	for rows.Next() {
		var c domain.StatusChange
		if err := rows.Scan(&c.From, &c.To, &c.At, &c.By); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func marshalLabels(labels []string) (any, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
