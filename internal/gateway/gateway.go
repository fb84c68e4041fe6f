// Package gateway implements the session contract a GCS integration follows
// when forwarding MAVLink frames to the remote service: log in, bind each
// vehicle interface to a vehicle identity, then filter every frame.
package gateway

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saviobatista/mavrelay/internal/mavlink"
	"github.com/saviobatista/mavrelay/internal/stats"
	"github.com/saviobatista/mavrelay/internal/telemetry"
	"github.com/saviobatista/mavrelay/internal/types"
)

// State is the gateway session state
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateVehicleBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateVehicleBound:
		return "vehicle-bound"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decoder decodes one raw MAVLink frame
type Decoder interface {
	Decode(data []byte) (*mavlink.Packet, error)
}

// Service is the remote service session. Relay must not retain the message
// after it returns.
type Service interface {
	Login(userName, password string) error
	Relay(msg *types.FrameMessage) error
	Flush() error
	Close() error
}

type binding struct {
	identity  types.VehicleIdentity
	sessionID string
	source    *telemetry.LiveSource
	model     *telemetry.Model
}

// Gateway relays frames for bound vehicles and feeds their telemetry models.
// All methods are safe for concurrent use.
type Gateway struct {
	service Service
	decoder Decoder
	stats   *stats.Stats
	tables  *telemetry.Tables
	policy  telemetry.BuildPolicy

	mu            sync.Mutex
	authenticated bool
	closed        bool
	bindings      map[int]*binding

	elapsed  func() time.Duration
	lastUSec int64
}

// Option configures a Gateway
type Option func(*Gateway)

// WithStats counts frames into s
func WithStats(s *stats.Stats) Option {
	return func(g *Gateway) {
		g.stats = s
	}
}

// WithTables sets the lookup tables used by new telemetry models
func WithTables(tables *telemetry.Tables) Option {
	return func(g *Gateway) {
		g.tables = tables
	}
}

// WithBuildPolicy sets the build identity policy of new telemetry models
func WithBuildPolicy(policy telemetry.BuildPolicy) Option {
	return func(g *Gateway) {
		g.policy = policy
	}
}

// WithClock replaces the monotonic clock. elapsed returns the time since the
// gateway was created.
func WithClock(elapsed func() time.Duration) Option {
	return func(g *Gateway) {
		g.elapsed = elapsed
	}
}

// New creates an unauthenticated gateway
func New(service Service, decoder Decoder, options ...Option) *Gateway {
	start := time.Now()
	g := &Gateway{
		service:  service,
		decoder:  decoder,
		stats:    stats.New(),
		tables:   telemetry.DefaultTables(),
		policy:   telemetry.FirstMatchWins,
		bindings: make(map[int]*binding),
		elapsed:  func() time.Duration { return time.Since(start) },
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// State returns the current session state
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case g.closed:
		return StateClosed
	case !g.authenticated:
		return StateUnauthenticated
	case len(g.bindings) > 0:
		return StateVehicleBound
	default:
		return StateAuthenticated
	}
}

// LoginUser authenticates against the remote service. A failed login leaves
// the gateway unauthenticated and may be retried.
func (g *Gateway) LoginUser(userName, password string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return types.ErrClosed
	}
	if g.authenticated {
		return nil
	}

	if err := g.service.Login(userName, password); err != nil {
		if errors.Is(err, types.ErrAuthentication) || errors.Is(err, types.ErrConnectivity) {
			return fmt.Errorf("failed to login: %w", err)
		}
		return fmt.Errorf("failed to login: %w: %v", types.ErrConnectivity, err)
	}

	g.authenticated = true
	log.Printf("Logged in as %s", userName)
	return nil
}

// SetVehicleID binds an interface to a vehicle. Rebinding an interface to
// another vehicle starts a new telemetry session; rebinding it to the same
// vehicle only updates the system ID.
func (g *Gateway) SetVehicleID(vehicleID string, fromInterface, sysID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return types.ErrClosed
	}
	if !g.authenticated {
		return types.ErrNotAuthenticated
	}
	if fromInterface == types.GCSInterface {
		return fmt.Errorf("interface %d is reserved for ground station frames: %w", fromInterface, types.ErrInvalidVehicleID)
	}
	if err := types.ValidateVehicleID(vehicleID); err != nil {
		return err
	}

	if b, ok := g.bindings[fromInterface]; ok && b.identity.VehicleID == vehicleID {
		b.identity.SysID = sysID
		return nil
	}

	source := telemetry.NewLiveSource()
	g.bindings[fromInterface] = &binding{
		identity: types.VehicleIdentity{
			VehicleID: vehicleID,
			Interface: fromInterface,
			SysID:     sysID,
		},
		sessionID: uuid.NewString(),
		source:    source,
		model:     telemetry.NewModel(source, telemetry.WithTables(g.tables), telemetry.WithBuildPolicy(g.policy)),
	}
	g.stats.SetBoundVehicles(uint64(len(g.bindings)))

	log.Printf("Bound interface %d to vehicle %s (sysid %d)", fromInterface, vehicleID, sysID)
	return nil
}

// FilterMavlink relays one frame and feeds its telemetry to the vehicle bound
// to fromInterface. Frames from interface -1 are the ground station's own and
// are relayed without feeding any model.
func (g *Gateway) FilterMavlink(fromInterface int, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return types.ErrClosed
	}
	if !g.authenticated {
		return types.ErrNotAuthenticated
	}

	g.stats.IncrementTotalFrames()
	now := time.Now().UTC()

	if fromInterface == types.GCSInterface {
		return g.relay(&types.FrameMessage{
			VehicleID: types.GCSVehicleID,
			Interface: fromInterface,
			Data:      data,
			Timestamp: now,
		})
	}

	b, ok := g.bindings[fromInterface]
	if !ok {
		g.stats.IncrementUnattributedFrames()
		return fmt.Errorf("interface %d: %w", fromInterface, types.ErrInterfaceNotBound)
	}

	packet, decodeErr := g.decoder.Decode(data)

	sysID := b.identity.SysID
	if decodeErr == nil {
		sysID = packet.SysID
	}
	if err := g.relay(&types.FrameMessage{
		VehicleID: b.identity.VehicleID,
		Interface: fromInterface,
		SysID:     sysID,
		Data:      data,
		Timestamp: now,
	}); err != nil {
		return err
	}

	if decodeErr != nil {
		g.stats.IncrementFailedFrames()
		return fmt.Errorf("failed to decode frame from interface %d: %w", fromInterface, decodeErr)
	}
	g.stats.IncrementDecodedFrames()
	g.stats.IncrementMessageKind(kindOf(packet))

	if packet.SysID != b.identity.SysID {
		return nil
	}

	if hb := packet.Heartbeat; hb != nil && hb.FromAutopilot() {
		b.source.ObserveHeartbeat(hb.VehicleType, hb.AutopilotType, hb.CustomMode)
	}
	b.model.Update(telemetry.Timestamped{TimeUSec: g.nowUSec(), Message: packet.Message})
	return nil
}

func (g *Gateway) relay(msg *types.FrameMessage) error {
	if err := g.service.Relay(msg); err != nil {
		g.stats.IncrementRelayErrors()
		if errors.Is(err, types.ErrConnectivity) {
			return fmt.Errorf("failed to relay frame: %w", err)
		}
		return fmt.Errorf("failed to relay frame: %w: %v", types.ErrConnectivity, err)
	}
	g.stats.IncrementRelayedFrames()
	return nil
}

// nowUSec reads the monotonic clock in microseconds, never going backwards
func (g *Gateway) nowUSec() int64 {
	t := g.elapsed().Microseconds()
	if t < g.lastUSec {
		t = g.lastUSec
	}
	g.lastUSec = t
	return t
}

func kindOf(packet *mavlink.Packet) int {
	if packet.Heartbeat != nil {
		return stats.KindHeartbeat
	}
	switch packet.Message.(type) {
	case telemetry.Airspeed:
		return stats.KindAirspeed
	case telemetry.StatusText:
		return stats.KindStatusText
	default:
		return stats.KindOther
	}
}

// Flush forces buffered frames out to the remote service
func (g *Gateway) Flush() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return types.ErrClosed
	}
	if !g.authenticated {
		return types.ErrNotAuthenticated
	}

	if err := g.service.Flush(); err != nil {
		if errors.Is(err, types.ErrConnectivity) {
			return fmt.Errorf("failed to flush: %w", err)
		}
		return fmt.Errorf("failed to flush: %w: %v", types.ErrConnectivity, err)
	}
	return nil
}

// Close ends the session and releases every binding. Calling Close again is a
// no-op.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.authenticated = false
	g.bindings = make(map[int]*binding)
	g.stats.SetBoundVehicles(0)

	if err := g.service.Close(); err != nil {
		return fmt.Errorf("failed to close remote session: %w", err)
	}
	return nil
}

// Binding returns the identity bound to an interface
func (g *Gateway) Binding(fromInterface int) (types.VehicleIdentity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.bindings[fromInterface]
	if !ok {
		return types.VehicleIdentity{}, false
	}
	return b.identity, true
}

// Snapshots returns a flight summary per bound interface, ordered by interface
func (g *Gateway) Snapshots() []types.FlightSummary {
	g.mu.Lock()
	defer g.mu.Unlock()

	interfaces := make([]int, 0, len(g.bindings))
	for iface := range g.bindings {
		interfaces = append(interfaces, iface)
	}
	sort.Ints(interfaces)

	summaries := make([]types.FlightSummary, 0, len(interfaces))
	for _, iface := range interfaces {
		b := g.bindings[iface]

		var mode *int
		if m, ok := b.source.CustomMode(); ok {
			mode = &m
		}

		summary := b.model.Summary(mode)
		summary.SessionID = b.sessionID
		summary.VehicleID = b.identity.VehicleID
		summary.SysID = b.identity.SysID
		summaries = append(summaries, summary)
	}
	return summaries
}
