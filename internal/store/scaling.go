package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coderunner/controlplane/internal/domain"
)

// CreatePolicy inserts a new scaling policy.
func (d *DB) CreatePolicy(p domain.ScalingPolicy) error {
	thresholds, err := json.Marshal(p.Thresholds)
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO scaling_policies
			(id, deployment_id, thresholds_json, scale_up_threshold, scale_down_threshold,
			 cooldown_ms, min_instances, max_instances, enabled, last_cooldown_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DeploymentID, string(thresholds), p.ScaleUpThreshold, p.ScaleDownThreshold,
		p.Cooldown.Milliseconds(), p.MinInstances, p.MaxInstances, p.Enabled, nullMillis(p.LastCooldownAt),
	)
	return err
}

// UpdatePolicy overwrites an existing policy's mutable fields.
func (d *DB) UpdatePolicy(p domain.ScalingPolicy) error {
	thresholds, err := json.Marshal(p.Thresholds)
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}
	res, err := d.db.Exec(
		`UPDATE scaling_policies SET
			thresholds_json = ?, scale_up_threshold = ?, scale_down_threshold = ?,
			cooldown_ms = ?, min_instances = ?, max_instances = ?, enabled = ?, last_cooldown_at = ?
		 WHERE id = ?`,
		string(thresholds), p.ScaleUpThreshold, p.ScaleDownThreshold, p.Cooldown.Milliseconds(),
		p.MinInstances, p.MaxInstances, p.Enabled, nullMillis(p.LastCooldownAt), p.ID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrPolicyNotFound
	}
	return nil
}

// GetPolicyByDeployment returns the (at most one) policy bound to a deployment.
func (d *DB) GetPolicyByDeployment(deploymentID string) (*domain.ScalingPolicy, error) {
	row := d.db.QueryRow(policySelect+` WHERE deployment_id = ?`, deploymentID)
	return scanPolicy(row)
}

const policySelect = `SELECT id, deployment_id, thresholds_json, scale_up_threshold, scale_down_threshold,
	cooldown_ms, min_instances, max_instances, enabled, last_cooldown_at FROM scaling_policies`

func scanPolicy(s scanner) (*domain.ScalingPolicy, error) {
	var p domain.ScalingPolicy
	var thresholdsJSON string
	var cooldownMS int64
	var lastCooldown sql.NullInt64
	err := s.Scan(&p.ID, &p.DeploymentID, &thresholdsJSON, &p.ScaleUpThreshold, &p.ScaleDownThreshold,
		&cooldownMS, &p.MinInstances, &p.MaxInstances, &p.Enabled, &lastCooldown)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrPolicyNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(thresholdsJSON), &p.Thresholds); err != nil {
		return nil, fmt.Errorf("unmarshal thresholds: %w", err)
	}
	p.Cooldown = durationFromMillis(cooldownMS)
	if lastCooldown.Valid {
		p.LastCooldownAt = fromMillis(lastCooldown.Int64)
	}
	return &p, nil
}

// AppendScalingEvent inserts an append-only scaling audit record.
func (d *DB) AppendScalingEvent(e domain.ScalingEvent) error {
	metrics, err := json.Marshal(e.MetricsSnapshot)
	if err != nil {
		return fmt.Errorf("marshal metrics snapshot: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO scaling_events
			(id, deployment_id, policy_id, kind, from_instances, to_instances, reason, metrics_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeploymentID, e.PolicyID, string(e.Kind), e.FromInstances, e.ToInstances, e.Reason,
		string(metrics), unixMillis(e.CreatedAt),
	)
	return err
}

// ListScalingEvents returns a deployment's events, newest first, paged by
// (limit, offset).
func (d *DB) ListScalingEvents(deploymentID string, limit, offset int) ([]domain.ScalingEvent, error) {
	rows, err := d.db.Query(
		`SELECT id, deployment_id, policy_id, kind, from_instances, to_instances, reason, metrics_json, created_at
		 FROM scaling_events WHERE deployment_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		deploymentID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScalingEvent
	for rows.Next() {
		var e domain.ScalingEvent
		var kind, metricsJSON string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.PolicyID, &kind, &e.FromInstances, &e.ToInstances,
			&e.Reason, &metricsJSON, &createdAt); err != nil {
			return nil, err
		}
		e.Kind = domain.ScalingEventKind(kind)
		e.CreatedAt = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(metricsJSON), &e.MetricsSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal metrics snapshot: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func durationFromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
