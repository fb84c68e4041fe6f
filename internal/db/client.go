package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/saviobatista/mavrelay/internal/types"
)

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing connection pool (useful for testing)
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// UpsertFlight stores a flight summary, replacing the previous snapshot of the
// same session
func (c *Client) UpsertFlight(summary *types.FlightSummary) error {
	query := `
		INSERT INTO flights (
			session_id, vehicle_id, sys_id, vehicle_type, autopilot, mode,
			build_name, build_version, build_git, flight_duration,
			max_altitude, max_air_speed, max_ground_speed, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id) DO UPDATE SET
			sys_id = EXCLUDED.sys_id,
			vehicle_type = EXCLUDED.vehicle_type,
			autopilot = EXCLUDED.autopilot,
			mode = EXCLUDED.mode,
			build_name = EXCLUDED.build_name,
			build_version = EXCLUDED.build_version,
			build_git = EXCLUDED.build_git,
			flight_duration = EXCLUDED.flight_duration,
			max_altitude = EXCLUDED.max_altitude,
			max_air_speed = EXCLUDED.max_air_speed,
			max_ground_speed = EXCLUDED.max_ground_speed,
			updated_at = EXCLUDED.updated_at
	`
	var duration sql.NullFloat64
	if summary.FlightDuration != nil {
		duration = sql.NullFloat64{Float64: *summary.FlightDuration, Valid: true}
	}

	_, err := c.db.Exec(query,
		summary.SessionID, summary.VehicleID, summary.SysID,
		summary.VehicleType, summary.Autopilot, summary.Mode,
		summary.BuildName, summary.BuildVersion, summary.BuildGit, duration,
		summary.MaxAltitude, summary.MaxAirSpeed, summary.MaxGroundSpeed,
		summary.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert flight: %w", err)
	}
	return nil
}

const flightColumns = `
	session_id, vehicle_id, sys_id, vehicle_type, autopilot, mode,
	build_name, build_version, build_git, flight_duration,
	max_altitude, max_air_speed, max_ground_speed, updated_at
`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFlight(row scanner) (*types.FlightSummary, error) {
	var (
		f        types.FlightSummary
		duration sql.NullFloat64
	)
	if err := row.Scan(
		&f.SessionID, &f.VehicleID, &f.SysID, &f.VehicleType, &f.Autopilot, &f.Mode,
		&f.BuildName, &f.BuildVersion, &f.BuildGit, &duration,
		&f.MaxAltitude, &f.MaxAirSpeed, &f.MaxGroundSpeed, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if duration.Valid {
		d := duration.Float64
		f.FlightDuration = &d
	}
	return &f, nil
}

// GetFlight retrieves a flight by session ID. It returns nil when the session
// is unknown.
func (c *Client) GetFlight(sessionID string) (*types.FlightSummary, error) {
	query := `SELECT ` + flightColumns + ` FROM flights WHERE session_id = $1`

	flight, err := scanFlight(c.db.QueryRow(query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}
	return flight, nil
}

// GetFlights retrieves all flights of a vehicle, most recent first
func (c *Client) GetFlights(vehicleID string) ([]*types.FlightSummary, error) {
	query := `SELECT ` + flightColumns + `
		FROM flights
		WHERE vehicle_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := c.db.Query(query, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flights []*types.FlightSummary
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, err
		}
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

// StoreSystemStats stores gateway statistics
func (c *Client) StoreSystemStats(stats map[string]interface{}) error {
	query := `
		INSERT INTO system_stats (
			time, total_frames, decoded_frames, failed_frames,
			unattributed_frames, relayed_frames, relay_errors,
			stored_summaries, bound_vehicles, message_kinds, uptime_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	kinds, _ := stats["message_kinds"].([]uint64)
	kindsArray := make([]int64, len(kinds))
	for i, v := range kinds {
		kindsArray[i] = int64(v)
	}

	uptime, _ := stats["uptime"].(time.Duration)

	_, err := c.db.Exec(query,
		time.Now(),
		stats["total_frames"],
		stats["decoded_frames"],
		stats["failed_frames"],
		stats["unattributed_frames"],
		stats["relayed_frames"],
		stats["relay_errors"],
		stats["stored_summaries"],
		stats["bound_vehicles"],
		pq.Array(kindsArray),
		int64(uptime.Seconds()),
	)

	return err
}

// GetSystemStats retrieves gateway statistics for a time range
func (c *Client) GetSystemStats(start, end time.Time) ([]map[string]interface{}, error) {
	query := `
		SELECT
			time, total_frames, decoded_frames, failed_frames,
			unattributed_frames, relayed_frames, relay_errors,
			stored_summaries, bound_vehicles, message_kinds, uptime_seconds
		FROM system_stats
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`

	rows, err := c.db.Query(query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []map[string]interface{}
	for rows.Next() {
		var (
			timestamp          time.Time
			totalFrames        int64
			decodedFrames      int64
			failedFrames       int64
			unattributedFrames int64
			relayedFrames      int64
			relayErrors        int64
			storedSummaries    int64
			boundVehicles      int64
			messageKinds       []int64
			uptimeSeconds      int64
		)

		if err := rows.Scan(
			&timestamp,
			&totalFrames,
			&decodedFrames,
			&failedFrames,
			&unattributedFrames,
			&relayedFrames,
			&relayErrors,
			&storedSummaries,
			&boundVehicles,
			pq.Array(&messageKinds),
			&uptimeSeconds,
		); err != nil {
			return nil, err
		}

		stat := map[string]interface{}{
			"time":                timestamp,
			"total_frames":        totalFrames,
			"decoded_frames":      decodedFrames,
			"failed_frames":       failedFrames,
			"unattributed_frames": unattributedFrames,
			"relayed_frames":      relayedFrames,
			"relay_errors":        relayErrors,
			"stored_summaries":    storedSummaries,
			"bound_vehicles":      boundVehicles,
			"message_kinds":       messageKinds,
			"uptime_seconds":      uptimeSeconds,
		}

		stats = append(stats, stat)
	}

	return stats, rows.Err()
}
