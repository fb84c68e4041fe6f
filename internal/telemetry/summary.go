package telemetry

import (
	"time"

	"github.com/saviobatista/mavrelay/internal/types"
)

// Summary copies the aggregated state into a FlightSummary. customMode is the
// last reported custom mode, or nil when no heartbeat was seen. Identity fields
// are left for the caller.
func (m *Model) Summary(customMode *int) types.FlightSummary {
	summary := types.FlightSummary{
		VehicleType:    m.VehicleTypeName(),
		Autopilot:      m.AutopilotName(),
		Mode:           UnknownName,
		MaxAltitude:    m.maxAltitude,
		MaxAirSpeed:    m.maxAirSpeed,
		MaxGroundSpeed: m.maxGroundSpeed,
		UpdatedAt:      time.Now().UTC(),
	}

	if customMode != nil {
		summary.Mode = m.ModeToString(*customMode)
	}

	if build, ok := m.Build(); ok {
		summary.BuildName = build.Name
		summary.BuildVersion = build.Version
		summary.BuildGit = build.Git
	}

	if duration, ok := m.FlightDuration(); ok {
		summary.FlightDuration = &duration
	}

	return summary
}
