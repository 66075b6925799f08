// Package archive persists violations and alerts to Postgres for
// retention beyond the in-memory rings. All writes go through a
// circuit breaker so a database outage degrades to in-memory only.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/airspacelab/vectorsim/internal/reports"
	"github.com/airspacelab/vectorsim/internal/safety"
	"github.com/airspacelab/vectorsim/pkg/circuit"
)

const schema = `
CREATE TABLE IF NOT EXISTS violations (
	violation_id        TEXT PRIMARY KEY,
	occurred_at         TIMESTAMPTZ NOT NULL,
	violation_type      TEXT NOT NULL,
	severity            TEXT NOT NULL,
	aircraft_involved   TEXT[] NOT NULL,
	separation_distance DOUBLE PRECISION NOT NULL,
	minimum_separation  DOUBLE PRECISION NOT NULL,
	altitude_separation DOUBLE PRECISION NOT NULL,
	episode_id          TEXT,
	step_number         INTEGER,
	analysis            JSONB
);

CREATE TABLE IF NOT EXISTS alerts (
	alert_id     TEXT PRIMARY KEY,
	created_at   TIMESTAMPTZ NOT NULL,
	alert_level  TEXT NOT NULL,
	title        TEXT NOT NULL,
	category     TEXT NOT NULL,
	acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
	resolved     BOOLEAN NOT NULL DEFAULT FALSE,
	payload      JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_violations_occurred_at ON violations (occurred_at);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at);
`

// Archive is the Postgres persistence layer.
type Archive struct {
	db      *sql.DB
	breaker *circuit.Breaker
}

// Open connects to Postgres, applies the schema, and returns the
// archive.
func Open(databaseURL string) (*Archive, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Archive{
		db: db,
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        "archive",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 2,
		}),
	}, nil
}

// StoreViolation persists a violation with its analysis.
func (a *Archive) StoreViolation(ctx context.Context, vr safety.ViolationReport) error {
	var analysisJSON []byte
	if vr.Analysis != nil {
		var err error
		analysisJSON, err = json.Marshal(vr.Analysis)
		if err != nil {
			return fmt.Errorf("failed to marshal analysis: %w", err)
		}
	}

	return a.breaker.Execute(ctx, func() error {
		_, err := a.db.ExecContext(ctx, `
			INSERT INTO violations (
				violation_id, occurred_at, violation_type, severity,
				aircraft_involved, separation_distance, minimum_separation,
				altitude_separation, episode_id, step_number, analysis
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (violation_id) DO UPDATE SET analysis = EXCLUDED.analysis`,
			vr.ViolationID, vr.Timestamp, vr.ViolationType, vr.Severity,
			pq.Array(vr.AircraftInvolved), vr.SeparationDistance,
			vr.MinimumSeparation, vr.AltitudeSeparation,
			nullString(vr.EpisodeID), vr.StepNumber, analysisJSON)
		if err != nil {
			return fmt.Errorf("failed to store violation: %w", err)
		}
		return nil
	})
}

// StoreAlert persists an alert, updating status flags on conflict.
func (a *Archive) StoreAlert(ctx context.Context, alert reports.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	return a.breaker.Execute(ctx, func() error {
		_, err := a.db.ExecContext(ctx, `
			INSERT INTO alerts (
				alert_id, created_at, alert_level, title, category,
				acknowledged, resolved, payload
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (alert_id) DO UPDATE SET
				acknowledged = EXCLUDED.acknowledged,
				resolved = EXCLUDED.resolved,
				payload = EXCLUDED.payload`,
			alert.AlertID, alert.Timestamp, alert.AlertLevel, alert.Title,
			alert.Category, alert.Acknowledged, alert.Resolved, payload)
		if err != nil {
			return fmt.Errorf("failed to store alert: %w", err)
		}
		return nil
	})
}

// ViolationsSince loads violation reports recorded after the cutoff,
// most recent first.
func (a *Archive) ViolationsSince(ctx context.Context, cutoff time.Time, limit int) ([]safety.ViolationReport, error) {
	if limit <= 0 {
		limit = 100
	}

	var out []safety.ViolationReport
	err := a.breaker.Execute(ctx, func() error {
		rows, err := a.db.QueryContext(ctx, `
			SELECT violation_id, occurred_at, violation_type, severity,
			       aircraft_involved, separation_distance, minimum_separation,
			       altitude_separation, COALESCE(episode_id, ''), step_number, analysis
			FROM violations
			WHERE occurred_at >= $1
			ORDER BY occurred_at DESC
			LIMIT $2`, cutoff, limit)
		if err != nil {
			return fmt.Errorf("failed to query violations: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var vr safety.ViolationReport
			var aircraft pq.StringArray
			var analysisJSON []byte
			if err := rows.Scan(&vr.ViolationID, &vr.Timestamp, &vr.ViolationType,
				&vr.Severity, &aircraft, &vr.SeparationDistance, &vr.MinimumSeparation,
				&vr.AltitudeSeparation, &vr.EpisodeID, &vr.StepNumber, &analysisJSON); err != nil {
				return fmt.Errorf("failed to scan violation: %w", err)
			}
			vr.AircraftInvolved = []string(aircraft)
			if len(analysisJSON) > 0 {
				var analysis safety.Analysis
				if err := json.Unmarshal(analysisJSON, &analysis); err == nil {
					vr.Analysis = &analysis
				}
			}
			out = append(out, vr)
		}
		return rows.Err()
	})
	return out, err
}

// BreakerState reports the current circuit state for health checks.
func (a *Archive) BreakerState() circuit.State {
	return a.breaker.State()
}

// Ping verifies database connectivity.
func (a *Archive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close releases the connection pool.
func (a *Archive) Close() error {
	return a.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
