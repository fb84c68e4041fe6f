package telemetry

// Message is a decoded telemetry message. The set of variants is closed:
// Airspeed, StatusText, Timestamped and Other.
type Message interface {
	isMessage()
}

// Airspeed carries the VFR_HUD telemetry fields the model aggregates
type Airspeed struct {
	AirSpeed    float64 // m/s
	GroundSpeed float64 // m/s
	Altitude    float64 // meters, MSL
	Throttle    int     // percent
}

// StatusText carries a STATUSTEXT message body
type StatusText struct {
	Severity int
	Text     string
}

// Timestamped wraps a message with its arrival time in microseconds. The
// clock must be non-decreasing but need not be related to wall-clock time.
type Timestamped struct {
	TimeUSec int64
	Message  Message
}

// Other is any message the model does not aggregate
type Other struct {
	ID int
}

func (Airspeed) isMessage()    {}
func (StatusText) isMessage()  {}
func (Timestamped) isMessage() {}
func (Other) isMessage()       {}
