package migrations

var RetentionPolicies = &Migration{
	ID:   "002_retention_policies",
	Name: "002_retention_policies",
	UpSQL: `
	SELECT add_retention_policy('system_stats', INTERVAL '90 days');

	CREATE MATERIALIZED VIEW IF NOT EXISTS system_stats_daily
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 day', time) AS day,
		MAX(total_frames) AS total_frames,
		MAX(decoded_frames) AS decoded_frames,
		MAX(failed_frames) AS failed_frames,
		MAX(unattributed_frames) AS unattributed_frames,
		MAX(relayed_frames) AS relayed_frames,
		MAX(relay_errors) AS relay_errors,
		MAX(bound_vehicles) AS bound_vehicles
	FROM system_stats
	GROUP BY day
	WITH NO DATA;
	`,
	DownSQL: `
	DROP MATERIALIZED VIEW IF EXISTS system_stats_daily;
	SELECT remove_retention_policy('system_stats');
	`,
}
