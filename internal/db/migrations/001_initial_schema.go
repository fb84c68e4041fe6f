package migrations

// InitialSchema creates the flight summary and gateway statistics tables
var InitialSchema = &Migration{
	ID:   "001_initial_schema",
	Name: "001_initial_schema",
	UpSQL: `
		CREATE EXTENSION IF NOT EXISTS timescaledb;

		-- One row per telemetry session, overwritten by each snapshot
		CREATE TABLE IF NOT EXISTS flights (
			session_id TEXT PRIMARY KEY,
			vehicle_id TEXT NOT NULL,
			sys_id INTEGER NOT NULL,
			vehicle_type TEXT NOT NULL,
			autopilot TEXT NOT NULL,
			mode TEXT NOT NULL,
			build_name TEXT NOT NULL DEFAULT '',
			build_version TEXT NOT NULL DEFAULT '',
			build_git TEXT NOT NULL DEFAULT '',
			flight_duration DOUBLE PRECISION,
			max_altitude DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_air_speed DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_ground_speed DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_flights_vehicle_id ON flights (vehicle_id);
		CREATE INDEX IF NOT EXISTS idx_flights_updated_at ON flights (updated_at);

		CREATE TABLE IF NOT EXISTS system_stats (
			time TIMESTAMPTZ NOT NULL,
			total_frames BIGINT NOT NULL,
			decoded_frames BIGINT NOT NULL,
			failed_frames BIGINT NOT NULL,
			unattributed_frames BIGINT NOT NULL,
			relayed_frames BIGINT NOT NULL,
			relay_errors BIGINT NOT NULL,
			stored_summaries BIGINT NOT NULL,
			bound_vehicles BIGINT NOT NULL,
			message_kinds BIGINT[] NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		SELECT create_hypertable('system_stats', 'time');

		CREATE INDEX IF NOT EXISTS idx_system_stats_time ON system_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS system_stats;
		DROP TABLE IF EXISTS flights;
	`,
}
