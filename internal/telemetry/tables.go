package telemetry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Class is the vehicle classification that selects a mode table
type Class string

const (
	ClassPlane   Class = "plane"
	ClassCopter  Class = "copter"
	ClassRover   Class = "rover"
	ClassUnknown Class = "unknown"
)

// UnknownName is returned for codes missing from a table
const UnknownName = "unknown"

// MAV_TYPE codes used for classification
const (
	TypeFixedWing   = 1
	TypeQuadrotor   = 2
	TypeCoaxial     = 3
	TypeHelicopter  = 4
	TypeGroundRover = 10
	TypeSurfaceBoat = 11
	TypeHexarotor   = 13
	TypeOctorotor   = 14
	TypeTricopter   = 15
)

// Tables holds the read-only code/name lookups. A Tables value must not be
// modified once handed to a Model.
type Tables struct {
	VehicleTypes map[int]string           `yaml:"vehicle_types"`
	Autopilots   map[int]string           `yaml:"autopilots"`
	Modes        map[Class]map[int]string `yaml:"modes"`

	PlaneTypes  []int `yaml:"plane_types"`
	CopterTypes []int `yaml:"copter_types"`
	RoverTypes  []int `yaml:"rover_types"`
}

// DefaultTables returns the built-in MAVLink and ArduPilot tables
func DefaultTables() *Tables {
	return &Tables{
		VehicleTypes: map[int]string{
			0:  "Generic micro air vehicle",
			1:  "Fixed wing aircraft",
			2:  "Quadrotor",
			3:  "Coaxial helicopter",
			4:  "Normal helicopter with tail rotor",
			5:  "Ground installation",
			6:  "Operator control unit / ground control station",
			7:  "Airship, controlled",
			8:  "Free balloon, uncontrolled",
			9:  "Rocket",
			10: "Ground rover",
			11: "Surface vessel, boat, ship",
			12: "Submarine",
			13: "Hexarotor",
			14: "Octorotor",
			15: "Tricopter",
			16: "Flapping wing",
			17: "Kite",
		},
		Autopilots: map[int]string{
			0:  "Generic autopilot, full support for everything",
			1:  "PIXHAWK autopilot",
			2:  "SLUGS autopilot",
			3:  "ArduPilotMega / ArduCopter",
			4:  "OpenPilot",
			5:  "Generic autopilot only supporting simple waypoints",
			6:  "Generic autopilot supporting waypoints and other simple navigation commands",
			7:  "Generic autopilot supporting the full mission command set",
			8:  "No valid autopilot",
			9:  "PPZ UAV",
			10: "UAV Dev Board",
			11: "FlexiPilot",
			12: "PX4 Autopilot",
			13: "SMACCMPilot",
			14: "AutoQuad",
			15: "Armazila",
			16: "Aerob",
			17: "ASLUAV autopilot",
			18: "SmartAP Autopilot",
		},
		Modes: map[Class]map[int]string{
			ClassPlane: {
				0:  "MANUAL",
				1:  "CIRCLE",
				2:  "STABILIZE",
				3:  "TRAINING",
				4:  "ACRO",
				5:  "FBWA",
				6:  "FBWB",
				7:  "CRUISE",
				8:  "AUTOTUNE",
				10: "AUTO",
				11: "RTL",
				12: "LOITER",
				15: "GUIDED",
				16: "INITIALISING",
			},
			ClassCopter: {
				0:  "STABILIZE",
				1:  "ACRO",
				2:  "ALT_HOLD",
				3:  "AUTO",
				4:  "GUIDED",
				5:  "LOITER",
				6:  "RTL",
				7:  "CIRCLE",
				9:  "LAND",
				10: "OF_LOITER",
				11: "DRIFT",
				13: "SPORT",
				14: "FLIP",
				15: "AUTOTUNE",
			},
			ClassRover: {
				0:  "MANUAL",
				2:  "LEARNING",
				3:  "STEERING",
				4:  "HOLD",
				10: "AUTO",
				11: "RTL",
				15: "GUIDED",
				16: "INITIALISING",
			},
		},
		PlaneTypes:  []int{TypeFixedWing},
		CopterTypes: []int{TypeQuadrotor, TypeHelicopter, TypeTricopter, TypeCoaxial, TypeHexarotor, TypeOctorotor},
		RoverTypes:  []int{TypeGroundRover, TypeSurfaceBoat},
	}
}

// LoadTables returns the default tables merged with the entries described in
// the YAML file at path. An empty path yields the defaults.
func LoadTables(path string) (*Tables, error) {
	tables := DefaultTables()
	if path == "" {
		return tables, nil
	}

	//nolint:gosec // path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mode tables: %w", err)
	}

	var extra Tables
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("failed to parse mode tables: %w", err)
	}

	tables.merge(&extra)
	return tables, nil
}

// merge copies entries from other, overriding existing codes
func (t *Tables) merge(other *Tables) {
	for code, name := range other.VehicleTypes {
		t.VehicleTypes[code] = name
	}
	for code, name := range other.Autopilots {
		t.Autopilots[code] = name
	}
	for class, modes := range other.Modes {
		if t.Modes[class] == nil {
			t.Modes[class] = make(map[int]string)
		}
		for code, name := range modes {
			t.Modes[class][code] = name
		}
	}
	t.PlaneTypes = appendMissing(t.PlaneTypes, other.PlaneTypes)
	t.CopterTypes = appendMissing(t.CopterTypes, other.CopterTypes)
	t.RoverTypes = appendMissing(t.RoverTypes, other.RoverTypes)
}

func appendMissing(dst, src []int) []int {
	for _, code := range src {
		if !contains(dst, code) {
			dst = append(dst, code)
		}
	}
	return dst
}

func contains(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// Classify maps a vehicle type code to its class
func (t *Tables) Classify(vehicleType int) Class {
	switch {
	case contains(t.PlaneTypes, vehicleType):
		return ClassPlane
	case contains(t.CopterTypes, vehicleType):
		return ClassCopter
	case contains(t.RoverTypes, vehicleType):
		return ClassRover
	default:
		return ClassUnknown
	}
}

// ModeName looks up a mode code in the table for class
func (t *Tables) ModeName(class Class, code int) string {
	if name, ok := t.Modes[class][code]; ok {
		return name
	}
	return UnknownName
}

// ModeCode looks up the code of a mode name in the table for class
func (t *Tables) ModeCode(class Class, name string) (int, bool) {
	for code, n := range t.Modes[class] {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// VehicleTypeName returns the name of a MAV_TYPE code
func (t *Tables) VehicleTypeName(code int) string {
	if name, ok := t.VehicleTypes[code]; ok {
		return name
	}
	return UnknownName
}

// AutopilotName returns the name of a MAV_AUTOPILOT code
func (t *Tables) AutopilotName(code int) string {
	if name, ok := t.Autopilots[code]; ok {
		return name
	}
	return UnknownName
}
