package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/saviobatista/mavrelay/internal/mavlink"
	"github.com/saviobatista/mavrelay/internal/stats"
	"github.com/saviobatista/mavrelay/internal/telemetry"
	"github.com/saviobatista/mavrelay/internal/testutils"
	"github.com/saviobatista/mavrelay/internal/types"
)

type mockService struct {
	loginErr error
	relayErr error
	flushErr error
	closeErr error

	logins  int
	relayed []types.FrameMessage
	flushes int
	closes  int
}

func (m *mockService) Login(userName, password string) error {
	m.logins++
	return m.loginErr
}

func (m *mockService) Relay(msg *types.FrameMessage) error {
	if m.relayErr != nil {
		return m.relayErr
	}
	m.relayed = append(m.relayed, *msg)
	return nil
}

func (m *mockService) Flush() error {
	m.flushes++
	return m.flushErr
}

func (m *mockService) Close() error {
	m.closes++
	return m.closeErr
}

type mockDecoder struct {
	packet *mavlink.Packet
	err    error
}

func (m *mockDecoder) Decode(data []byte) (*mavlink.Packet, error) {
	return m.packet, m.err
}

// fakeClock advances one second per read
type fakeClock struct {
	now time.Duration
}

func (c *fakeClock) elapsed() time.Duration {
	c.now += time.Second
	return c.now
}

func newLoggedIn(t *testing.T, service *mockService, decoder Decoder, options ...Option) *Gateway {
	t.Helper()
	g := New(service, decoder, options...)
	if err := g.LoginUser("user", "secret"); err != nil {
		t.Fatalf("LoginUser() failed: %v", err)
	}
	return g
}

func newRealDecoder(t *testing.T) *mavlink.Decoder {
	t.Helper()
	decoder, err := mavlink.NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder() failed: %v", err)
	}
	return decoder
}

func TestLoginUser(t *testing.T) {
	tests := []struct {
		name      string
		loginErr  error
		wantErr   error
		wantState State
	}{
		{name: "success", wantState: StateAuthenticated},
		{name: "rejected", loginErr: types.ErrAuthentication, wantErr: types.ErrAuthentication, wantState: StateUnauthenticated},
		{name: "unreachable", loginErr: types.ErrConnectivity, wantErr: types.ErrConnectivity, wantState: StateUnauthenticated},
		{name: "other errors are connectivity", loginErr: errors.New("boom"), wantErr: types.ErrConnectivity, wantState: StateUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&mockService{loginErr: tt.loginErr}, &mockDecoder{})

			err := g.LoginUser("user", "secret")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got: %v", tt.wantErr, err)
			}
			if g.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", g.State(), tt.wantState)
			}
		})
	}
}

func TestLoginUser_RetryAndNoOp(t *testing.T) {
	service := &mockService{loginErr: types.ErrAuthentication}
	g := New(service, &mockDecoder{})

	if err := g.LoginUser("user", "wrong"); !errors.Is(err, types.ErrAuthentication) {
		t.Fatalf("Expected authentication error, got: %v", err)
	}

	service.loginErr = nil
	if err := g.LoginUser("user", "secret"); err != nil {
		t.Fatalf("Retry should succeed, got: %v", err)
	}
	if err := g.LoginUser("user", "secret"); err != nil {
		t.Fatalf("Login while authenticated should succeed, got: %v", err)
	}
	if service.logins != 2 {
		t.Errorf("Expected 2 calls to the service, got %d", service.logins)
	}
}

func TestSetVehicleID(t *testing.T) {
	t.Run("requires authentication", func(t *testing.T) {
		g := New(&mockService{}, &mockDecoder{})
		err := g.SetVehicleID(testutils.TestVehicleID, 0, 1)
		if !errors.Is(err, types.ErrNotAuthenticated) {
			t.Errorf("Expected ErrNotAuthenticated, got: %v", err)
		}
	})

	t.Run("validates vehicle id", func(t *testing.T) {
		g := newLoggedIn(t, &mockService{}, &mockDecoder{})

		for _, id := range []string{"", "vehicle-1", "GCS", "0b6e7d3c-52a4"} {
			if err := g.SetVehicleID(id, 0, 1); !errors.Is(err, types.ErrInvalidVehicleID) {
				t.Errorf("SetVehicleID(%q) = %v, want ErrInvalidVehicleID", id, err)
			}
		}
		for _, id := range []string{types.GCSVehicleID, testutils.TestVehicleID} {
			if err := g.SetVehicleID(id, 0, 1); err != nil {
				t.Errorf("SetVehicleID(%q) failed: %v", id, err)
			}
		}
	})

	t.Run("ground station interface cannot be bound", func(t *testing.T) {
		g := newLoggedIn(t, &mockService{}, &mockDecoder{})
		if err := g.SetVehicleID(testutils.TestVehicleID, types.GCSInterface, 1); err == nil {
			t.Error("Expected error binding interface -1")
		}
	})

	t.Run("binds interface", func(t *testing.T) {
		g := newLoggedIn(t, &mockService{}, &mockDecoder{})
		if err := g.SetVehicleID(testutils.TestVehicleID, 2, 7); err != nil {
			t.Fatalf("SetVehicleID() failed: %v", err)
		}

		identity, ok := g.Binding(2)
		if !ok {
			t.Fatal("Expected interface 2 to be bound")
		}
		want := types.VehicleIdentity{VehicleID: testutils.TestVehicleID, Interface: 2, SysID: 7}
		if identity != want {
			t.Errorf("Binding() = %+v, want %+v", identity, want)
		}
		if g.State() != StateVehicleBound {
			t.Errorf("State() = %v, want %v", g.State(), StateVehicleBound)
		}
	})
}

func TestSetVehicleID_Rebinding(t *testing.T) {
	const otherVehicle = "7f1c2d3e-4b5a-4c6d-8e9f-0a1b2c3d4e5f"

	g := newLoggedIn(t, &mockService{}, newRealDecoder(t))
	if err := g.SetVehicleID(testutils.TestVehicleID, 0, 1); err != nil {
		t.Fatalf("SetVehicleID() failed: %v", err)
	}
	if err := g.FilterMavlink(0, testutils.MockVfrHud(1, 20, 18, 100, 50)); err != nil {
		t.Fatalf("FilterMavlink() failed: %v", err)
	}
	first := g.Snapshots()[0]

	// Same vehicle: only the system id changes
	if err := g.SetVehicleID(testutils.TestVehicleID, 0, 2); err != nil {
		t.Fatalf("SetVehicleID() failed: %v", err)
	}
	same := g.Snapshots()[0]
	if same.SessionID != first.SessionID {
		t.Error("Rebinding the same vehicle should keep the session")
	}
	if same.SysID != 2 {
		t.Errorf("SysID = %d, want 2", same.SysID)
	}
	if same.MaxAirSpeed != 20 {
		t.Errorf("Rebinding the same vehicle should keep the model, MaxAirSpeed = %v", same.MaxAirSpeed)
	}

	// Different vehicle: last write wins with a fresh model
	if err := g.SetVehicleID(otherVehicle, 0, 2); err != nil {
		t.Fatalf("SetVehicleID() failed: %v", err)
	}
	other := g.Snapshots()[0]
	if other.VehicleID != otherVehicle {
		t.Errorf("VehicleID = %s, want %s", other.VehicleID, otherVehicle)
	}
	if other.SessionID == first.SessionID {
		t.Error("Rebinding to another vehicle should start a new session")
	}
	if other.MaxAirSpeed != 0 {
		t.Errorf("Expected a fresh model, MaxAirSpeed = %v", other.MaxAirSpeed)
	}
}

func TestFilterMavlink_UnboundInterface(t *testing.T) {
	service := &mockService{}
	s := stats.New()
	g := newLoggedIn(t, service, newRealDecoder(t), WithStats(s))

	err := g.FilterMavlink(3, testutils.MockHeartbeat(1, telemetry.TypeQuadrotor, 3, 0))
	if !errors.Is(err, types.ErrInterfaceNotBound) {
		t.Fatalf("Expected ErrInterfaceNotBound, got: %v", err)
	}
	if len(service.relayed) != 0 {
		t.Errorf("Expected nothing relayed, got %d frames", len(service.relayed))
	}
	if s.UnattributedFrames != 1 {
		t.Errorf("Expected 1 unattributed frame, got %d", s.UnattributedFrames)
	}
	if len(g.Snapshots()) != 0 {
		t.Error("Expected no telemetry sessions")
	}
}

func TestFilterMavlink_GroundStationFrames(t *testing.T) {
	service := &mockService{}
	g := newLoggedIn(t, service, &mockDecoder{err: errors.New("must not decode")})
	if err := g.SetVehicleID(testutils.TestVehicleID, 0, 1); err != nil {
		t.Fatalf("SetVehicleID() failed: %v", err)
	}

	frame := testutils.MockVfrHud(1, 30, 30, 30, 30)
	if err := g.FilterMavlink(types.GCSInterface, frame); err != nil {
		t.Fatalf("FilterMavlink() failed: %v", err)
	}

	if len(service.relayed) != 1 {
		t.Fatalf("Expected 1 relayed frame, got %d", len(service.relayed))
	}
	if service.relayed[0].VehicleID != types.GCSVehicleID || service.relayed[0].Interface != types.GCSInterface {
		t.Errorf("Unexpected relay envelope: %+v", service.relayed[0])
	}
	if g.Snapshots()[0].MaxAirSpeed != 0 {
		t.Error("Ground station frames must not feed a model")
	}
}

func TestFilterMavlink_FeedsModel(t *testing.T) {
	service := &mockService{}
	clock := &fakeClock{}
	s := stats.New()
	g := newLoggedIn(t, service, newRealDecoder(t), WithClock(clock.elapsed), WithStats(s))
	if err := g.SetVehicleID(testutils.TestVehicleID, 0, 1); err != nil {
		t.Fatalf("SetVehicleID() failed: %v", err)
	}

	frames := [][]byte{
		testutils.MockHeartbeat(1, telemetry.TypeQuadrotor, 3, 5),
		testutils.MockStatusText(1, "ArduCopter V3.4.0 abc123"),
		testutils.MockVfrHud(1, 12, 10, 80, 40),
		testutils.MockVfrHud(1, 9, 14, 60, 40),
		testutils.MockVfrHud(2, 99, 99, 999, 40), // another system on the same link
	}
	for i, frame := range frames {
		if err := g.FilterMavlink(0, frame); err != nil {
			t.Fatalf("FilterMavlink() frame %d failed: %v", i, err)
		}
	}

	if len(service.relayed) != len(frames) {
		t.Errorf("Expected %d relayed frames, got %d", len(frames), len(service.relayed))
	}
	if service.relayed[4].SysID != 2 {
		t.Errorf("Relay envelope should carry the frame's sysid, got %d", service.relayed[4].SysID)
	}

	snapshots := g.Snapshots()
	if len(snapshots) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(snapshots))
	}
	summary := snapshots[0]

	if summary.VehicleType != "Quadrotor" {
		t.Errorf("VehicleType = %q, want Quadrotor", summary.VehicleType)
	}
	if summary.Mode != "LOITER" {
		t.Errorf("Mode = %q, want LOITER", summary.Mode)
	}
	if summary.BuildName != "ArduCopter" || summary.BuildVersion != "V3.4.0" || summary.BuildGit != "abc123" {
		t.Errorf("Unexpected build identity: %+v", summary)
	}
	if summary.MaxAirSpeed != 12 || summary.MaxGroundSpeed != 14 || summary.MaxAltitude != 80 {
		t.Errorf("Frames from other systems must not feed the model: %+v", summary)
	}
	// The clock ticks once per fed message: the first throttle sample is the
	// third message, but the flight starts at the session's first timestamp.
	if summary.FlightDuration == nil || *summary.FlightDuration != 3 {
		t.Errorf("FlightDuration = %v, want 3", summary.FlightDuration)
	}

	if s.DecodedFrames != uint64(len(frames)) {
		t.Errorf("Expected %d decoded frames, got %d", len(frames), s.DecodedFrames)
	}
	if s.MessageKindCounts[stats.KindAirspeed] != 3 {
		t.Errorf("Expected 3 airspeed frames, got %d", s.MessageKindCounts[stats.KindAirspeed])
	}
}

func TestFilterMavlink_IgnoresComponentHeartbeats(t *testing.T) {
	service := &mockService{}
	g := newLoggedIn(t, service, newRealDecoder(t))
	if err := g.SetVehicleID(testutils.TestVehicleID, 0, 1); err != nil {
		t.Fatalf("SetVehicleID() failed: %v", err)
	}

	if err := g.FilterMavlink(0, testutils.MockHeartbeat(1, telemetry.TypeQuadrotor, 3, 5)); err != nil {
		t.Fatalf("FilterMavlink() autopilot heartbeat failed: %v", err)
	}
	before := g.Snapshots()[0]

	// Gimbal (MAV_TYPE_GIMBAL) and onboard controller on the same system
	for _, compID := range []byte{154, 191} {
		if err := g.FilterMavlink(0, testutils.MockComponentHeartbeat(1, compID, 26)); err != nil {
			t.Fatalf("FilterMavlink() component %d heartbeat failed: %v", compID, err)
		}
	}

	if len(service.relayed) != 3 {
		t.Errorf("Component heartbeats should still be relayed, got %d frames", len(service.relayed))
	}

	after := g.Snapshots()[0]
	if after.VehicleType != "Quadrotor" || after.Mode != "LOITER" {
		t.Errorf("Component heartbeat changed the vehicle: type=%q mode=%q", after.VehicleType, after.Mode)
	}
	if after.Autopilot != before.Autopilot {
		t.Errorf("Autopilot = %q, want %q", after.Autopilot, before.Autopilot)
	}
}

func TestFilterMavlink_DecodeErrorStillRelays(t *testing.T) {
	service := &mockService{}
	s := stats.New()
	g := newLoggedIn(t, service, newRealDecoder(t), WithStats(s))
	if err := g.SetVehicleID(testutils.TestVehicleID, 0, 1); err != nil {
		t.Fatalf("SetVehicleID() failed: %v", err)
	}

	corrupted := testutils.MockVfrHud(1, 10, 10, 10, 10)
	corrupted[len(corrupted)-1] ^= 0xFF

	if err := g.FilterMavlink(0, corrupted); err == nil {
		t.Fatal("Expected decode error")
	}
	if len(service.relayed) != 1 {
		t.Errorf("Expected the frame to be relayed, got %d", len(service.relayed))
	}
	if s.FailedFrames != 1 {
		t.Errorf("Expected 1 failed frame, got %d", s.FailedFrames)
	}
}

func TestFilterMavlink_RelayError(t *testing.T) {
	service := &mockService{relayErr: errors.New("connection lost")}
	g := newLoggedIn(t, service, newRealDecoder(t))
	if err := g.SetVehicleID(testutils.TestVehicleID, 0, 1); err != nil {
		t.Fatalf("SetVehicleID() failed: %v", err)
	}

	err := g.FilterMavlink(0, testutils.MockVfrHud(1, 10, 10, 10, 10))
	if !errors.Is(err, types.ErrConnectivity) {
		t.Errorf("Expected ErrConnectivity, got: %v", err)
	}
}

func TestFilterMavlink_RequiresAuthentication(t *testing.T) {
	g := New(&mockService{}, &mockDecoder{})
	if err := g.FilterMavlink(0, []byte{0xFD}); !errors.Is(err, types.ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, got: %v", err)
	}
}

func TestMonotonicClock(t *testing.T) {
	readings := []time.Duration{2 * time.Second, time.Second, 3 * time.Second}
	i := 0
	g := New(&mockService{}, &mockDecoder{}, WithClock(func() time.Duration {
		d := readings[i]
		i++
		return d
	}))

	want := []int64{2_000_000, 2_000_000, 3_000_000}
	for n, w := range want {
		if got := g.nowUSec(); got != w {
			t.Errorf("reading %d = %d, want %d", n, got, w)
		}
	}
}

func TestFlush(t *testing.T) {
	service := &mockService{}
	g := New(service, &mockDecoder{})

	if err := g.Flush(); !errors.Is(err, types.ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, got: %v", err)
	}

	if err := g.LoginUser("user", "secret"); err != nil {
		t.Fatalf("LoginUser() failed: %v", err)
	}
	if err := g.Flush(); err != nil {
		t.Errorf("Flush() failed: %v", err)
	}
	if service.flushes != 1 {
		t.Errorf("Expected 1 flush, got %d", service.flushes)
	}

	service.flushErr = errors.New("timeout")
	if err := g.Flush(); !errors.Is(err, types.ErrConnectivity) {
		t.Errorf("Expected ErrConnectivity, got: %v", err)
	}
}

func TestClose(t *testing.T) {
	service := &mockService{}
	g := newLoggedIn(t, service, &mockDecoder{})
	if err := g.SetVehicleID(testutils.TestVehicleID, 0, 1); err != nil {
		t.Fatalf("SetVehicleID() failed: %v", err)
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}
	if service.closes != 1 {
		t.Errorf("Expected the remote session to be closed once, got %d", service.closes)
	}

	if g.State() != StateClosed {
		t.Errorf("State() = %v, want %v", g.State(), StateClosed)
	}
	if _, ok := g.Binding(0); ok {
		t.Error("Close should release bindings")
	}
	if len(g.Snapshots()) != 0 {
		t.Error("Close should release telemetry sessions")
	}

	checks := map[string]error{
		"LoginUser":     g.LoginUser("user", "secret"),
		"SetVehicleID":  g.SetVehicleID(testutils.TestVehicleID, 0, 1),
		"FilterMavlink": g.FilterMavlink(0, []byte{0xFD}),
		"Flush":         g.Flush(),
	}
	for name, err := range checks {
		if !errors.Is(err, types.ErrClosed) {
			t.Errorf("%s after Close = %v, want ErrClosed", name, err)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateUnauthenticated: "unauthenticated",
		StateAuthenticated:   "authenticated",
		StateVehicleBound:    "vehicle-bound",
		StateClosed:          "closed",
		State(42):            "state(42)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
