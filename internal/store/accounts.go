package store

import (
	"database/sql"

	"github.com/coderunner/controlplane/internal/domain"
)

// CreateUser inserts a new user record.
func (d *DB) CreateUser(u domain.User) error {
	_, err := d.db.Exec(
		`INSERT INTO users (id, email, plan_type, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PlanType, unixMillis(u.CreatedAt),
	)
	return err
}

// EnsureUser inserts a placeholder row for id if none exists, so records
// created through the core satisfy referential integrity even when the
// owning user was provisioned upstream of this process.
func (d *DB) EnsureUser(id string, createdAtMillis int64) error {
	_, err := d.db.Exec(
		`INSERT INTO users (id, email, plan_type, created_at) VALUES (?, ?, 'free', ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, id+"@local", createdAtMillis,
	)
	return err
}

// GetUser retrieves a user by id.
func (d *DB) GetUser(id string) (*domain.User, error) {
	row := d.db.QueryRow(`SELECT id, email, plan_type, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(s scanner) (*domain.User, error) {
	var u domain.User
	var createdAt int64
	if err := s.Scan(&u.ID, &u.Email, &u.PlanType, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// CreateProject inserts a new project record.
func (d *DB) CreateProject(p domain.Project) error {
	_, err := d.db.Exec(
		`INSERT INTO projects (id, user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, unixMillis(p.CreatedAt), unixMillis(p.UpdatedAt),
	)
	return err
}

// GetProject retrieves a project by id.
func (d *DB) GetProject(id string) (*domain.Project, error) {
	row := d.db.QueryRow(`SELECT id, user_id, name, created_at, updated_at FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjectsByUser returns every project owned by userID, newest first.
func (d *DB) ListProjectsByUser(userID string) ([]domain.Project, error) {
	rows, err := d.db.Query(
		`SELECT id, user_id, name, created_at, updated_at FROM projects WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProject(s scanner) (*domain.Project, error) {
	var p domain.Project
	var createdAt, updatedAt int64
	if err := s.Scan(&p.ID, &p.UserID, &p.Name, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrProjectNotFound
		}
		return nil, err
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
