package telemetry

import "sync"

// VehicleInfo supplies the vehicle and autopilot type codes of the data
// source feeding a Model. Either code may be unknown.
type VehicleInfo interface {
	VehicleType() (int, bool)
	AutopilotType() (int, bool)
}

// LiveSource describes a vehicle connected through the gateway. Its codes are
// learned from heartbeats as they arrive.
type LiveSource struct {
	mu            sync.RWMutex
	vehicleType   *int
	autopilotType *int
	customMode    *int
}

// NewLiveSource creates a live source with no heartbeat observed yet
func NewLiveSource() *LiveSource {
	return &LiveSource{}
}

// ObserveHeartbeat records the codes carried by a heartbeat
func (s *LiveSource) ObserveHeartbeat(vehicleType, autopilotType, customMode int) {
	s.mu.Lock()
	s.vehicleType = &vehicleType
	s.autopilotType = &autopilotType
	s.customMode = &customMode
	s.mu.Unlock()
}

// VehicleType returns the last heartbeat's MAV_TYPE
func (s *LiveSource) VehicleType() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deref(s.vehicleType)
}

// AutopilotType returns the last heartbeat's MAV_AUTOPILOT
func (s *LiveSource) AutopilotType() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deref(s.autopilotType)
}

// CustomMode returns the last heartbeat's custom mode code
func (s *LiveSource) CustomMode() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deref(s.customMode)
}

// PlaybackSource describes a vehicle whose messages come from a recorded
// log. Its codes are fixed before replay starts.
type PlaybackSource struct {
	vehicleType   *int
	autopilotType *int
}

// NewPlaybackSource creates a playback source. Nil codes are unknown.
func NewPlaybackSource(vehicleType, autopilotType *int) *PlaybackSource {
	return &PlaybackSource{vehicleType: vehicleType, autopilotType: autopilotType}
}

// VehicleType returns the recorded MAV_TYPE
func (s *PlaybackSource) VehicleType() (int, bool) {
	return deref(s.vehicleType)
}

// AutopilotType returns the recorded MAV_AUTOPILOT
func (s *PlaybackSource) AutopilotType() (int, bool) {
	return deref(s.autopilotType)
}

func deref(v *int) (int, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}
