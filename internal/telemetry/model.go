package telemetry

import (
	"regexp"
	"strings"
)

// BuildPolicy decides what happens when a second firmware banner is seen
type BuildPolicy int

const (
	// FirstMatchWins keeps the first build identity of the session
	FirstMatchWins BuildPolicy = iota
	// LatestWins replaces the build identity on every match
	LatestWins
)

// ParseBuildPolicy maps "first" and "latest" to a policy
func ParseBuildPolicy(s string) (BuildPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return FirstMatchWins, true
	case "latest":
		return LatestWins, true
	default:
		return FirstMatchWins, false
	}
}

// <name> V<version> [...] <git hash>
var buildPattern = regexp.MustCompile(`^(\S+)\s+(V\S+)(?:\s+.*)?\s+(\S+)$`)

// Build is the firmware identity reported by the autopilot
type Build struct {
	Name    string
	Version string
	Git     string
}

// Model aggregates flight telemetry from a message sequence. It is owned by a
// single writer: Update must not be called concurrently and messages must
// arrive in non-decreasing timestamp order.
type Model struct {
	info   VehicleInfo
	tables *Tables
	policy BuildPolicy

	startTime         *int64
	currentTime       *int64
	startOfFlightTime *int64
	endOfFlightTime   *int64

	maxAltitude    float64
	hasAltitude    bool
	maxAirSpeed    float64
	maxGroundSpeed float64

	build *Build
}

// Option configures a Model
type Option func(*Model)

// WithTables replaces the default lookup tables
func WithTables(tables *Tables) Option {
	return func(m *Model) {
		m.tables = tables
	}
}

// WithBuildPolicy sets the build identity re-matching policy
func WithBuildPolicy(policy BuildPolicy) Option {
	return func(m *Model) {
		m.policy = policy
	}
}

// NewModel creates an empty model for the vehicle described by info
func NewModel(info VehicleInfo, options ...Option) *Model {
	m := &Model{
		info:   info,
		tables: DefaultTables(),
		policy: FirstMatchWins,
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Update folds one message into the model. Unhandled variants are ignored.
func (m *Model) Update(msg Message) {
	switch msg := msg.(type) {
	case Airspeed:
		m.updateAirspeed(msg)
	case StatusText:
		m.updateStatusText(msg)
	case Timestamped:
		t := msg.TimeUSec
		if m.startTime == nil {
			start := t
			m.startTime = &start
		}
		m.currentTime = &t
		if msg.Message != nil {
			m.Update(msg.Message)
		}
	case Other:
	default:
	}
}

func (m *Model) updateAirspeed(msg Airspeed) {
	if msg.AirSpeed > m.maxAirSpeed {
		m.maxAirSpeed = msg.AirSpeed
	}
	if msg.GroundSpeed > m.maxGroundSpeed {
		m.maxGroundSpeed = msg.GroundSpeed
	}
	// Altitude is above mean sea level and may be negative
	if !m.hasAltitude || msg.Altitude > m.maxAltitude {
		m.maxAltitude = msg.Altitude
		m.hasAltitude = true
	}

	if msg.Throttle > 0 {
		if m.startOfFlightTime == nil {
			m.startOfFlightTime = copyTime(m.startTime)
		}
		m.endOfFlightTime = copyTime(m.currentTime)
	}
}

func (m *Model) updateStatusText(msg StatusText) {
	if m.build != nil && m.policy == FirstMatchWins {
		return
	}
	build, ok := ParseBuild(msg.Text)
	if !ok {
		return
	}
	m.build = &build
}

// ParseBuild extracts the firmware identity from a status text banner
func ParseBuild(text string) (Build, bool) {
	match := buildPattern.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return Build{}, false
	}
	return Build{
		Name:    match[1],
		Version: match[2],
		Git:     strings.Trim(match[3], "()"),
	}, true
}

func copyTime(t *int64) *int64 {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IsPlane reports whether the vehicle is a fixed wing aircraft
func (m *Model) IsPlane() bool {
	vehicleType, ok := m.info.VehicleType()
	return ok && m.tables.Classify(vehicleType) == ClassPlane
}

// IsCopter reports whether the vehicle is a multirotor or helicopter. An
// unknown vehicle type counts as a copter.
func (m *Model) IsCopter() bool {
	vehicleType, ok := m.info.VehicleType()
	return !ok || m.tables.Classify(vehicleType) == ClassCopter
}

// IsRover reports whether the vehicle is a ground or surface vehicle
func (m *Model) IsRover() bool {
	vehicleType, ok := m.info.VehicleType()
	return ok && m.tables.Classify(vehicleType) == ClassRover
}

// Class returns the classification selecting the mode table
func (m *Model) Class() Class {
	switch {
	case m.IsPlane():
		return ClassPlane
	case m.IsCopter():
		return ClassCopter
	case m.IsRover():
		return ClassRover
	default:
		return ClassUnknown
	}
}

// ModeToString names a custom mode code for this vehicle's class
func (m *Model) ModeToString(code int) string {
	return m.tables.ModeName(m.Class(), code)
}

// ModeCode returns the custom mode code for a mode name
func (m *Model) ModeCode(name string) (int, bool) {
	return m.tables.ModeCode(m.Class(), name)
}

// VehicleTypeName names the source's vehicle type
func (m *Model) VehicleTypeName() string {
	vehicleType, ok := m.info.VehicleType()
	if !ok {
		return UnknownName
	}
	return m.tables.VehicleTypeName(vehicleType)
}

// AutopilotName names the source's autopilot type
func (m *Model) AutopilotName() string {
	autopilotType, ok := m.info.AutopilotType()
	if !ok {
		return UnknownName
	}
	return m.tables.AutopilotName(autopilotType)
}

// FlightDuration returns the seconds between the first and the latest
// throttle-positive sample
func (m *Model) FlightDuration() (float64, bool) {
	if m.startOfFlightTime == nil || m.endOfFlightTime == nil {
		return 0, false
	}
	return float64(*m.endOfFlightTime-*m.startOfFlightTime) / 1e6, true
}

// StartTime returns the timestamp of the first timestamped message
func (m *Model) StartTime() (int64, bool) {
	return derefTime(m.startTime)
}

// CurrentTime returns the timestamp of the latest timestamped message
func (m *Model) CurrentTime() (int64, bool) {
	return derefTime(m.currentTime)
}

func derefTime(t *int64) (int64, bool) {
	if t == nil {
		return 0, false
	}
	return *t, true
}

// MaxAltitude returns the highest altitude seen, in meters
func (m *Model) MaxAltitude() float64 {
	return m.maxAltitude
}

// MaxAirSpeed returns the highest airspeed seen, in m/s
func (m *Model) MaxAirSpeed() float64 {
	return m.maxAirSpeed
}

// MaxGroundSpeed returns the highest ground speed seen, in m/s
func (m *Model) MaxGroundSpeed() float64 {
	return m.maxGroundSpeed
}

// Build returns the firmware identity, if one has been reported
func (m *Model) Build() (Build, bool) {
	if m.build == nil {
		return Build{}, false
	}
	return *m.build, true
}
