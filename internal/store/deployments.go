package store

import (
	"database/sql"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
)

// CreateDeployment inserts a new deployment record.
func (d *DB) CreateDeployment(dep domain.Deployment) error {
	_, err := d.db.Exec(
		`INSERT INTO deployments
			(id, project_id, user_id, status, runtime_kind, sandbox_handle, public_url, instances,
			 created_at, updated_at, last_activity_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dep.ID, dep.ProjectID, dep.UserID, string(dep.Status), string(dep.RuntimeKind),
		dep.SandboxHandle, dep.PublicURL, dep.Instances,
		unixMillis(dep.CreatedAt), unixMillis(dep.UpdatedAt), unixMillis(dep.LastActivityAt),
	)
	return err
}

// UpdateDeployment overwrites every mutable field of an existing deployment.
func (d *DB) UpdateDeployment(dep domain.Deployment) error {
	res, err := d.db.Exec(
		`UPDATE deployments SET
			status = ?, runtime_kind = ?, sandbox_handle = ?, public_url = ?, instances = ?,
			updated_at = ?, last_activity_at = ?
		 WHERE id = ?`,
		string(dep.Status), string(dep.RuntimeKind), dep.SandboxHandle, dep.PublicURL, dep.Instances,
		unixMillis(dep.UpdatedAt), unixMillis(dep.LastActivityAt), dep.ID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrDeploymentNotFound
	}
	return nil
}

// TouchDeployment advances a deployment's last_activity_at, recording that
// a log flowed or a client looked at it.
func (d *DB) TouchDeployment(id string, at time.Time) error {
	_, err := d.db.Exec(`UPDATE deployments SET last_activity_at = ? WHERE id = ?`, unixMillis(at), id)
	return err
}

// GetDeployment retrieves a deployment by id.
func (d *DB) GetDeployment(id string) (*domain.Deployment, error) {
	row := d.db.QueryRow(deploymentSelect+` WHERE id = ?`, id)
	return scanDeployment(row)
}

// DeleteDeployment removes a deployment row entirely (used once a destroyed
// deployment ages out of retention; cascades to events and usage rows).
func (d *DB) DeleteDeployment(id string) error {
	_, err := d.db.Exec(`DELETE FROM deployments WHERE id = ?`, id)
	return err
}

// ListDeploymentsByUser returns every non-deleted deployment owned by userID,
// oldest first, matching the orchestrator's oldest-first eviction order.
func (d *DB) ListDeploymentsByUser(userID string) ([]domain.Deployment, error) {
	rows, err := d.db.Query(deploymentSelect+` WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeploymentRows(rows)
}

// OwnerOf returns the user id owning a deployment, for the Gateway's
// subscribe access-control check.
func (d *DB) OwnerOf(deploymentID string) (string, error) {
	dep, err := d.GetDeployment(deploymentID)
	if err != nil {
		return "", err
	}
	return dep.UserID, nil
}

// ListActiveDeploymentIDs returns the ids of every non-terminal deployment,
// for the Autoscaler's evaluation tick and the Resource Optimizer's
// usage-sampling loop.
func (d *DB) ListActiveDeploymentIDs() ([]string, error) {
	rows, err := d.db.Query(
		`SELECT id FROM deployments WHERE status NOT IN (?, ?)`,
		string(domain.StatusFailed), string(domain.StatusDestroyed),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDeployments returns a page of deployments ordered by created_at.
func (d *DB) ListDeployments(limit, offset int) ([]domain.Deployment, error) {
	rows, err := d.db.Query(deploymentSelect+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeploymentRows(rows)
}

const deploymentSelect = `SELECT id, project_id, user_id, status, runtime_kind, sandbox_handle, public_url,
	instances, created_at, updated_at, last_activity_at FROM deployments`

func scanDeployment(s scanner) (*domain.Deployment, error) {
	var dep domain.Deployment
	var status, kind string
	var createdAt, updatedAt, lastActivity int64
	err := s.Scan(&dep.ID, &dep.ProjectID, &dep.UserID, &status, &kind, &dep.SandboxHandle, &dep.PublicURL,
		&dep.Instances, &createdAt, &updatedAt, &lastActivity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrDeploymentNotFound
		}
		return nil, err
	}
	dep.Status = domain.DeploymentStatus(status)
	dep.RuntimeKind = domain.RuntimeKind(kind)
	dep.CreatedAt = fromMillis(createdAt)
	dep.UpdatedAt = fromMillis(updatedAt)
	dep.LastActivityAt = fromMillis(lastActivity)
	return &dep, nil
}

func scanDeploymentRows(rows *sql.Rows) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for rows.Next() {
		dep, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *dep)
	}
	return out, rows.Err()
}
