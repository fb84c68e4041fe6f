package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GCSVehicleID identifies data generated by the ground station itself
const GCSVehicleID = "gcs"

// GCSInterface is the interface number reserved for self-generated frames
const GCSInterface = -1

// ValidateVehicleID accepts a UUID or GCSVehicleID. Vehicle IDs end up in
// file names and subjects, so nothing else is allowed through.
func ValidateVehicleID(vehicleID string) error {
	if vehicleID == GCSVehicleID {
		return nil
	}
	if _, err := uuid.Parse(vehicleID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidVehicleID, vehicleID)
	}
	return nil
}

// VehicleIdentity binds a vehicle interface and MAVLink system ID to a vehicle
type VehicleIdentity struct {
	VehicleID string `json:"vehicle_id"`
	Interface int    `json:"interface"`
	SysID     int    `json:"sys_id"`
}

// Frame represents a raw MAVLink frame read from a vehicle interface
type Frame struct {
	Interface int       `json:"interface"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// FrameMessage is the relay envelope published to the remote service
type FrameMessage struct {
	VehicleID string    `json:"vehicle_id"`
	Interface int       `json:"interface"`
	SysID     int       `json:"sys_id"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// FlightSummary is a point-in-time copy of a vehicle's aggregated telemetry
type FlightSummary struct {
	SessionID      string    `json:"session_id"`
	VehicleID      string    `json:"vehicle_id"`
	SysID          int       `json:"sys_id"`
	VehicleType    string    `json:"vehicle_type"`
	Autopilot      string    `json:"autopilot"`
	Mode           string    `json:"mode"`
	BuildName      string    `json:"build_name,omitempty"`
	BuildVersion   string    `json:"build_version,omitempty"`
	BuildGit       string    `json:"build_git,omitempty"`
	FlightDuration *float64  `json:"flight_duration,omitempty"`
	MaxAltitude    float64   `json:"max_altitude"`
	MaxAirSpeed    float64   `json:"max_air_speed"`
	MaxGroundSpeed float64   `json:"max_ground_speed"`
	UpdatedAt      time.Time `json:"updated_at"`
}
