package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"teamline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict signals that the aggregate changed between read and
// write. The caller should reload and retry.
var ErrVersionConflict = errors.New("aggregate version conflict")

// --- users ---

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,username,role,created_at) VALUES (?,?,?,?)`,
		u.ID, strings.ToLower(u.Username), string(u.Role), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,username,role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,username,role,created_at FROM users WHERE username=?`, strings.ToLower(username)).
		Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,username,role,created_at FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// --- projects (aggregate root with embedded member list) ---

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,created_by,start_date,end_date,status,archived,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.CreatedBy, nullableStringPtr(p.StartDate), nullableStringPtr(p.EndDate),
		string(p.Status), boolInt(p.Archived), p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	return r.writeMembersTx(ctx, tx, p.ID, p.Members)
}

// SaveProjectTx persists the whole aggregate under an optimistic version
// check. expectedVersion is the version the caller loaded; a zero-row update
// means a concurrent writer got there first.
func (r Repo) SaveProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, description=?, created_by=?, start_date=?, end_date=?, status=?, archived=?, version=?, updated_at=?
WHERE id=? AND version=?`,
		p.Name, nullable(p.Description), p.CreatedBy, nullableStringPtr(p.StartDate), nullableStringPtr(p.EndDate),
		string(p.Status), boolInt(p.Archived), p.Version, p.UpdatedAt, p.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.getProjectRowTx(ctx, tx, p.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=?`, p.ID); err != nil {
		return err
	}
	return r.writeMembersTx(ctx, tx, p.ID, p.Members)
}

func (r Repo) writeMembersTx(ctx context.Context, tx *sql.Tx, projectID string, members []domain.Member) error {
	for i, m := range members {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_members(project_id,position,user_id,username,role,added_by,added_at) VALUES (?,?,?,?,?,?,?)`,
			projectID, i, m.UserID, m.Username, string(m.Role), m.AddedBy, m.AddedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) getProjectRowTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, projectSelect+` WHERE id=?`, id))
}

const projectSelect = `SELECT id,name,description,created_by,start_date,end_date,status,archived,version,created_at,updated_at FROM projects`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var desc, start, end sql.NullString
	var archived int
	err := row.Scan(&p.ID, &p.Name, &desc, &p.CreatedBy, &start, &end, &p.Status, &archived, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	if start.Valid {
		p.StartDate = &start.String
	}
	if end.Valid {
		p.EndDate = &end.String
	}
	p.Archived = archived != 0
	return p, nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProject(r.DB.QueryRowContext(ctx, projectSelect+` WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	p.Members, err = r.listMembers(ctx, id)
	return p, err
}

func (r Repo) listMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,username,role,added_by,added_at FROM project_members WHERE project_id=? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.Role, &m.AddedBy, &m.AddedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ListProjects returns projects the identity is a member of, newest first.
// An empty identity lists everything (admin/CLI use).
func (r Repo) ListProjects(ctx context.Context, id domain.Identity) ([]domain.Project, error) {
	query := projectSelect + ` ORDER BY created_at DESC, id DESC`
	var args []any
	if id.UserID != "" || id.Username != "" {
		query = projectSelect + ` WHERE id IN (SELECT project_id FROM project_members WHERE user_id=? OR username=?) ORDER BY created_at DESC, id DESC`
		args = []any{id.UserID, strings.ToLower(id.Username)}
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var desc, start, end sql.NullString
		var archived int
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.CreatedBy, &start, &end, &p.Status, &archived, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			p.Description = desc.String
		}
		if start.Valid {
			p.StartDate = &start.String
		}
		if end.Valid {
			p.EndDate = &end.String
		}
		p.Archived = archived != 0
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		members, err := r.listMembers(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Members = members
	}
	return res, nil
}

func (r Repo) DeleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=?`, id)
	return err
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, projectID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := `SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order. Used by the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := `SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the highest event id for a project, or 0 when the
// log is empty.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if projectID.Valid {
			e.ProjectID = projectID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
