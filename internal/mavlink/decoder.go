package mavlink

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/bluenviron/gomavlib/v2/pkg/dialect"
	"github.com/bluenviron/gomavlib/v2/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v2/pkg/frame"
	"github.com/bluenviron/gomavlib/v2/pkg/message"

	"github.com/saviobatista/mavrelay/internal/telemetry"
)

// AutopilotInvalid is MAV_AUTOPILOT_INVALID, sent by components that are not
// flight controllers: ground stations, gimbals, cameras, companion computers.
const AutopilotInvalid = 8

// Heartbeat holds the HEARTBEAT fields that describe the vehicle
type Heartbeat struct {
	VehicleType   int
	AutopilotType int
	CustomMode    int
}

// FromAutopilot reports whether the heartbeat was sent by a flight controller
// and so describes the vehicle itself
func (h *Heartbeat) FromAutopilot() bool {
	return h.AutopilotType != AutopilotInvalid
}

// Packet is a decoded frame
type Packet struct {
	SysID     int
	CompID    int
	MessageID int
	Message   telemetry.Message
	Heartbeat *Heartbeat

	// message outside the dialect, checksum not verified
	raw bool
}

// Decoder turns raw MAVLink frames into telemetry messages
type Decoder struct {
	rw    *dialect.ReadWriter
	split bufio.SplitFunc
}

// NewDecoder creates a decoder for the common dialect
func NewDecoder() (*Decoder, error) {
	rw, err := dialect.NewReadWriter(common.Dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dialect: %w", err)
	}
	d := &Decoder{rw: rw}
	d.split = SplitFrames(d.Check)
	return d, nil
}

// Decode decodes exactly one frame from data
func (d *Decoder) Decode(data []byte) (*Packet, error) {
	r, err := frame.NewReader(frame.ReaderConf{
		Reader:    bytes.NewReader(data),
		DialectRW: d.rw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create frame reader: %w", err)
	}

	fr, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	msg := fr.GetMessage()
	packet := &Packet{
		SysID:     int(fr.GetSystemID()),
		CompID:    int(fr.GetComponentID()),
		MessageID: int(msg.GetID()),
	}

	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		packet.Heartbeat = &Heartbeat{
			VehicleType:   int(m.Type),
			AutopilotType: int(m.Autopilot),
			CustomMode:    int(m.CustomMode),
		}
		packet.Message = telemetry.Other{ID: packet.MessageID}
	case *common.MessageVfrHud:
		packet.Message = telemetry.Airspeed{
			AirSpeed:    float64(m.Airspeed),
			GroundSpeed: float64(m.Groundspeed),
			Altitude:    float64(m.Alt),
			Throttle:    int(m.Throttle),
		}
	case *common.MessageStatustext:
		packet.Message = telemetry.StatusText{
			Severity: int(m.Severity),
			Text:     strings.TrimRight(m.Text, "\x00"),
		}
	case *message.MessageRaw:
		packet.raw = true
		packet.Message = telemetry.Other{ID: packet.MessageID}
	default:
		packet.Message = telemetry.Other{ID: packet.MessageID}
	}

	return packet, nil
}

// Check decodes frame and reports whether it is well formed. verified is
// false for messages outside the dialect, whose checksum cannot be checked
// without their CRC extra.
func (d *Decoder) Check(frame []byte) (ok, verified bool) {
	packet, err := d.Decode(frame)
	if err != nil {
		return false, false
	}
	return true, !packet.raw
}

// ScanFrames is a bufio.SplitFunc yielding only frames that pass Check
func (d *Decoder) ScanFrames(data []byte, atEOF bool) (int, []byte, error) {
	return d.split(data, atEOF)
}
