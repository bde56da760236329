package store

import (
	"github.com/coderunner/controlplane/internal/domain"
)

// AppendResourceSample inserts one resource usage sample for a deployment
// and trims the ring to the newest MaxResourceSamples rows.
func (d *DB) AppendResourceSample(deploymentID string, s domain.ResourceSample) error {
	_, err := d.db.Exec(
		`INSERT INTO resource_usage (deployment_id, timestamp, cpu_percent, mem_percent, network_io, disk_io, cost_per_hour)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		deploymentID, unixMillis(s.Timestamp), s.CPUPercent, s.MemPercent, s.NetworkIO, s.DiskIO, s.CostPerHour,
	)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(
		`DELETE FROM resource_usage WHERE deployment_id = ? AND id NOT IN (
			SELECT id FROM resource_usage WHERE deployment_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?)`,
		deploymentID, deploymentID, domain.MaxResourceSamples,
	)
	return err
}

// ListResourceSamples returns a deployment's samples ordered oldest-first
// within [start, end], for Optimizer.CostAnalytics.
func (d *DB) ListResourceSamples(deploymentID string, start, end int64) ([]domain.ResourceSample, error) {
	rows, err := d.db.Query(
		`SELECT timestamp, cpu_percent, mem_percent, network_io, disk_io, cost_per_hour
		 FROM resource_usage WHERE deployment_id = ? AND timestamp BETWEEN ? AND ?
		 ORDER BY timestamp ASC`,
		deploymentID, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResourceSample
	for rows.Next() {
		var s domain.ResourceSample
		var ts int64
		if err := rows.Scan(&ts, &s.CPUPercent, &s.MemPercent, &s.NetworkIO, &s.DiskIO, &s.CostPerHour); err != nil {
			return nil, err
		}
		s.Timestamp = fromMillis(ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertRecommendation persists one right-sizing recommendation.
func (d *DB) InsertRecommendation(deploymentID string, r domain.Recommendation, createdAtMillis int64) error {
	_, err := d.db.Exec(
		`INSERT INTO optimization_recommendations (deployment_id, kind, description, savings_pct, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		deploymentID, string(r.Kind), r.Description, r.EstimatedSavingsPct, createdAtMillis,
	)
	return err
}

// ListRecommendations returns a deployment's recommendations, newest first.
func (d *DB) ListRecommendations(deploymentID string, limit int) ([]domain.Recommendation, error) {
	rows, err := d.db.Query(
		`SELECT kind, description, savings_pct FROM optimization_recommendations
		 WHERE deployment_id = ? ORDER BY created_at DESC LIMIT ?`,
		deploymentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recommendation
	for rows.Next() {
		var r domain.Recommendation
		var kind string
		if err := rows.Scan(&kind, &r.Description, &r.EstimatedSavingsPct); err != nil {
			return nil, err
		}
		r.Kind = domain.RecommendationKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}
