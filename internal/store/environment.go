package store

import (
	"database/sql"
	"strconv"

	"github.com/coderunner/controlplane/internal/domain"
)

// CreateEnvironmentConfig inserts a new named environment under a project.
func (d *DB) CreateEnvironmentConfig(e domain.EnvironmentConfig) error {
	_, err := d.db.Exec(
		`INSERT INTO environment_configs (id, project_id, name, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.Name, unixMillis(e.CreatedAt),
	)
	return err
}

// SetEnvironmentVariable inserts or updates one key within an environment and
// appends the matching audit row in the same transaction, per the datastore's
// transactional closure contract.
func (d *DB) SetEnvironmentVariable(v domain.EnvironmentVariable, userID string, action domain.ConfigAuditAction) error {
	return d.Tx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO environment_variables (id, env_config_id, key, value, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(env_config_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			v.ID, v.EnvConfigID, v.Key, v.Value, unixMillis(v.UpdatedAt),
		); err != nil {
			return err
		}
		_, err := tx.Exec(
			`INSERT INTO config_audit_logs (env_config_id, user_id, action, key, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			v.EnvConfigID, userID, string(action), v.Key, unixMillis(v.UpdatedAt),
		)
		return err
	})
}

// DeleteEnvironmentVariable removes a key and appends a delete audit row.
func (d *DB) DeleteEnvironmentVariable(envConfigID, key, userID string, deletedAtMillis int64) error {
	return d.Tx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`DELETE FROM environment_variables WHERE env_config_id = ? AND key = ?`, envConfigID, key,
		); err != nil {
			return err
		}
		_, err := tx.Exec(
			`INSERT INTO config_audit_logs (env_config_id, user_id, action, key, created_at) VALUES (?, ?, ?, ?, ?)`,
			envConfigID, userID, string(domain.ConfigAuditDelete), key, deletedAtMillis,
		)
		return err
	})
}

// ListEnvironmentVariables returns every key/value pair for an environment.
func (d *DB) ListEnvironmentVariables(envConfigID string) ([]domain.EnvironmentVariable, error) {
	rows, err := d.db.Query(
		`SELECT id, env_config_id, key, value, updated_at FROM environment_variables WHERE env_config_id = ? ORDER BY key`,
		envConfigID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EnvironmentVariable
	for rows.Next() {
		var v domain.EnvironmentVariable
		var updatedAt int64
		if err := rows.Scan(&v.ID, &v.EnvConfigID, &v.Key, &v.Value, &updatedAt); err != nil {
			return nil, err
		}
		v.UpdatedAt = fromMillis(updatedAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListConfigAuditLogs returns an environment's audit trail, newest first.
func (d *DB) ListConfigAuditLogs(envConfigID string, limit int) ([]domain.ConfigAuditLog, error) {
	rows, err := d.db.Query(
		`SELECT id, env_config_id, user_id, action, key, created_at FROM config_audit_logs
		 WHERE env_config_id = ? ORDER BY created_at DESC LIMIT ?`,
		envConfigID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ConfigAuditLog
	for rows.Next() {
		var a domain.ConfigAuditLog
		var id int64
		var action string
		var createdAt int64
		if err := rows.Scan(&id, &a.EnvConfigID, &a.UserID, &action, &a.Key, &createdAt); err != nil {
			return nil, err
		}
		a.ID = strconv.FormatInt(id, 10)
		a.Action = domain.ConfigAuditAction(action)
		a.CreatedAt = fromMillis(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
