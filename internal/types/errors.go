package types

import "errors"

var (
	// ErrAuthentication is returned when the remote service rejects the credentials
	ErrAuthentication = errors.New("authentication failed")
	// ErrConnectivity is returned when the remote service cannot be reached
	ErrConnectivity = errors.New("remote service unreachable")
	// ErrNotAuthenticated is returned for operations that need a logged-in session
	ErrNotAuthenticated = errors.New("session not authenticated")
	// ErrInterfaceNotBound is returned for frames on an interface without a vehicle
	ErrInterfaceNotBound = errors.New("interface not bound to a vehicle")
	// ErrInvalidVehicleID is returned when a vehicle ID is neither a UUID nor "gcs"
	ErrInvalidVehicleID = errors.New("invalid vehicle id")
	// ErrClosed is returned for operations on a closed session
	ErrClosed = errors.New("session closed")
)
