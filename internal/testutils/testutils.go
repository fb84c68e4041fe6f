package testutils

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v2/pkg/dialect"
	"github.com/bluenviron/gomavlib/v2/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v2/pkg/frame"
	"github.com/bluenviron/gomavlib/v2/pkg/message"
)

// TestVehicleID is a valid vehicle UUID for tests
const TestVehicleID = "0b6e7d3c-52a4-4f0e-9b8a-1c2d3e4f5a6b"

// EncodeFrame encodes msg as a MAVLink v2 frame sent by the autopilot of sysID
func EncodeFrame(sysID byte, msg message.Message) ([]byte, error) {
	return EncodeComponentFrame(sysID, 1, msg)
}

// EncodeComponentFrame encodes msg as a MAVLink v2 frame sent by sysID/compID
func EncodeComponentFrame(sysID, compID byte, msg message.Message) ([]byte, error) {
	rw, err := dialect.NewReadWriter(common.Dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dialect: %w", err)
	}

	var buf bytes.Buffer
	w, err := frame.NewWriter(frame.WriterConf{
		Writer:         &buf,
		DialectRW:      rw,
		OutVersion:     frame.V2,
		OutSystemID:    sysID,
		OutComponentID: compID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create frame writer: %w", err)
	}

	if err := w.WriteMessage(msg); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// MustEncodeFrame is EncodeFrame that panics on error
func MustEncodeFrame(sysID byte, msg message.Message) []byte {
	data, err := EncodeFrame(sysID, msg)
	if err != nil {
		panic(err)
	}
	return data
}

// MockHeartbeat creates a HEARTBEAT frame
func MockHeartbeat(sysID byte, vehicleType, autopilot int, customMode uint32) []byte {
	return MustEncodeFrame(sysID, &common.MessageHeartbeat{
		Type:           common.MAV_TYPE(vehicleType),
		Autopilot:      common.MAV_AUTOPILOT(autopilot),
		CustomMode:     customMode,
		MavlinkVersion: 3,
	})
}

// MockComponentHeartbeat creates a HEARTBEAT frame from a component that is
// not an autopilot, such as a gimbal or a ground station
func MockComponentHeartbeat(sysID, compID byte, vehicleType int) []byte {
	data, err := EncodeComponentFrame(sysID, compID, &common.MessageHeartbeat{
		Type:           common.MAV_TYPE(vehicleType),
		Autopilot:      common.MAV_AUTOPILOT_INVALID,
		MavlinkVersion: 3,
	})
	if err != nil {
		panic(err)
	}
	return data
}

// MockVfrHud creates a VFR_HUD frame
func MockVfrHud(sysID byte, airspeed, groundspeed, alt float32, throttle uint16) []byte {
	return MustEncodeFrame(sysID, &common.MessageVfrHud{
		Airspeed:    airspeed,
		Groundspeed: groundspeed,
		Alt:         alt,
		Throttle:    throttle,
	})
}

// MockStatusText creates a STATUSTEXT frame
func MockStatusText(sysID byte, text string) []byte {
	return MustEncodeFrame(sysID, &common.MessageStatustext{
		Severity: common.MAV_SEVERITY_INFO,
		Text:     text,
	})
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
