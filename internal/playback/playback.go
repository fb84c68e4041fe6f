// Package playback replays recorded tlog files through a telemetry model and
// reports the resulting flight summary.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/saviobatista/mavrelay/internal/mavlink"
	"github.com/saviobatista/mavrelay/internal/storage"
	"github.com/saviobatista/mavrelay/internal/telemetry"
	"github.com/saviobatista/mavrelay/internal/types"
)

// Decoder decodes one raw MAVLink frame
type Decoder interface {
	Decode(data []byte) (*mavlink.Packet, error)
}

// Result is the outcome of a replay. OutOfOrder counts records older than one
// already replayed.
type Result struct {
	Summary    types.FlightSummary
	Path       string
	Bytes      int64
	Records    int
	Decoded    int
	Failed     int
	Skipped    int
	OutOfOrder int
	Truncated  bool
	FirstUSec  int64
	LastUSec   int64
}

// Span returns the time covered by the replayed records
func (r *Result) Span() time.Duration {
	return time.Duration(r.LastUSec-r.FirstUSec) * time.Microsecond
}

// Player replays tlog files
type Player struct {
	decoder   Decoder
	tables    *telemetry.Tables
	policy    telemetry.BuildPolicy
	sysID     int
	vehicleID string
}

// Option configures a Player
type Option func(*Player)

// WithSysID only feeds messages from sysID to the model. By default the
// system ID of the first heartbeat in the log is used.
func WithSysID(sysID int) Option {
	return func(p *Player) {
		p.sysID = sysID
	}
}

// WithVehicleID sets the vehicle ID reported in the summary. By default it is
// taken from the log file name.
func WithVehicleID(vehicleID string) Option {
	return func(p *Player) {
		p.vehicleID = vehicleID
	}
}

// WithTables sets the lookup tables of the telemetry model
func WithTables(tables *telemetry.Tables) Option {
	return func(p *Player) {
		p.tables = tables
	}
}

// WithBuildPolicy sets the build identity policy of the telemetry model
func WithBuildPolicy(policy telemetry.BuildPolicy) Option {
	return func(p *Player) {
		p.policy = policy
	}
}

// New creates a Player
func New(decoder Decoder, options ...Option) *Player {
	p := &Player{
		decoder: decoder,
		tables:  telemetry.DefaultTables(),
		policy:  telemetry.FirstMatchWins,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// vehicle is what the first pass learns about the recorded vehicle
type vehicle struct {
	sysID         int
	vehicleType   *int
	autopilotType *int
}

// Replay reads the log at path twice: once to identify the vehicle from its
// first autopilot heartbeat, then to feed every message from that vehicle to a
// model. Records older than the latest one replayed are dropped, since the
// model only moves forward in time.
func (p *Player) Replay(ctx context.Context, path string) (*Result, error) {
	v, err := p.identify(ctx, path)
	if err != nil {
		return nil, err
	}

	reader, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	source := telemetry.NewPlaybackSource(v.vehicleType, v.autopilotType)
	model := telemetry.NewModel(source, telemetry.WithTables(p.tables), telemetry.WithBuildPolicy(p.policy))

	result := &Result{Path: path, Bytes: reader.Size()}
	var lastMode *int

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				log.Printf("Warning: %s ends with a truncated record", path)
				result.Truncated = true
				break
			}
			return nil, fmt.Errorf("failed to read record %d: %w", result.Records+1, err)
		}

		result.Records++
		if result.Records > 1 && record.TimeUSec < result.LastUSec {
			result.OutOfOrder++
			continue
		}
		if result.Records == 1 {
			result.FirstUSec = record.TimeUSec
		}
		result.LastUSec = record.TimeUSec

		packet, err := p.decoder.Decode(record.Frame)
		if err != nil {
			result.Failed++
			continue
		}
		result.Decoded++

		if packet.SysID != v.sysID {
			result.Skipped++
			continue
		}

		if hb := packet.Heartbeat; hb != nil && hb.FromAutopilot() {
			mode := hb.CustomMode
			lastMode = &mode
		}
		model.Update(telemetry.Timestamped{TimeUSec: record.TimeUSec, Message: packet.Message})
	}

	summary := model.Summary(lastMode)
	summary.SessionID = uuid.NewString()
	summary.SysID = v.sysID
	summary.VehicleID = p.vehicleID
	if summary.VehicleID == "" {
		if id, _, ok := storage.ParseLogName(path); ok {
			summary.VehicleID = id
		}
	}
	result.Summary = summary

	return result, nil
}

// identify finds the vehicle's system ID and type. Without a heartbeat from
// the wanted system the vehicle type stays unknown; without any heartbeat and
// no configured system ID, the first decodable frame's system ID is used.
func (p *Player) identify(ctx context.Context, path string) (vehicle, error) {
	reader, err := storage.Open(path)
	if err != nil {
		return vehicle{}, err
	}
	defer reader.Close()

	v := vehicle{sysID: p.sysID}
	firstSysID := -1

	for {
		if err := ctx.Err(); err != nil {
			return vehicle{}, err
		}

		record, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return vehicle{}, fmt.Errorf("failed to scan log: %w", err)
		}

		packet, err := p.decoder.Decode(record.Frame)
		if err != nil {
			continue
		}
		if firstSysID < 0 {
			firstSysID = packet.SysID
		}

		hb := packet.Heartbeat
		if hb == nil || !hb.FromAutopilot() || (p.sysID != 0 && packet.SysID != p.sysID) {
			continue
		}

		vehicleType, autopilotType := hb.VehicleType, hb.AutopilotType
		v.sysID = packet.SysID
		v.vehicleType = &vehicleType
		v.autopilotType = &autopilotType
		return v, nil
	}

	if v.sysID == 0 && firstSysID >= 0 {
		v.sysID = firstSysID
	}
	return v, nil
}
