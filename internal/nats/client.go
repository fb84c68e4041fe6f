package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/saviobatista/mavrelay/internal/types"
)

const (
	// StreamFrames is the JetStream stream retaining relayed frames
	StreamFrames = "MAVLINK_FRAMES"
	// SubjectFramesPrefix prefixes the per-vehicle frame subjects
	SubjectFramesPrefix = "mavlink.frames."
	// SubjectFramesAll matches every vehicle's frames
	SubjectFramesAll = SubjectFramesPrefix + ">"
)

// Subject returns the relay subject of a vehicle
func Subject(vehicleID string) string {
	return SubjectFramesPrefix + vehicleID
}

// Client is the remote service session
type Client struct {
	url string

	mu     sync.Mutex
	conn   *nats.Conn
	js     nats.JetStreamContext
	closed bool
}

// New creates a client for url. No connection is made until Login.
func New(url string) *Client {
	return &Client{url: url}
}

// Connect creates a client and connects with the given options, for
// consumers that do not log in through a gateway
func Connect(url string, options ...nats.Option) (*Client, error) {
	c := New(url)
	if err := c.connect(options...); err != nil {
		return nil, err
	}
	return c, nil
}

// Login connects to the server with the given credentials. Rejected
// credentials wrap types.ErrAuthentication; anything else wraps
// types.ErrConnectivity.
func (c *Client) Login(userName, password string) error {
	var options []nats.Option
	if userName != "" {
		options = append(options, nats.UserInfo(userName, password))
	}
	return c.connect(options...)
}

func (c *Client) connect(options ...nats.Option) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrClosed
	}
	if c.conn != nil {
		return nil
	}

	options = append(options, nats.Name("mavrelay"))
	nc, err := nats.Connect(c.url, options...)
	if err != nil {
		return classify("failed to connect to NATS", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to get JetStream context: %w: %v", types.ErrConnectivity, err)
	}

	// Create stream if it doesn't exist
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamFrames,
		Subjects: []string{SubjectFramesAll},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return fmt.Errorf("failed to create stream: %w: %v", types.ErrConnectivity, err)
	}

	c.conn = nc
	c.js = js
	return nil
}

func classify(op string, err error) error {
	if errors.Is(err, nats.ErrAuthorization) ||
		errors.Is(err, nats.ErrAuthExpired) ||
		errors.Is(err, nats.ErrAuthRevoked) ||
		strings.Contains(strings.ToLower(err.Error()), "authorization violation") {
		return fmt.Errorf("%s: %w: %v", op, types.ErrAuthentication, err)
	}
	return fmt.Errorf("%s: %w: %v", op, types.ErrConnectivity, err)
}

func (c *Client) connection() (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, types.ErrClosed
	}
	if c.conn == nil {
		return nil, types.ErrNotAuthenticated
	}
	return c.conn, nil
}

// Relay publishes a frame on its vehicle's subject
func (c *Client) Relay(msg *types.FrameMessage) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	if err := conn.Publish(Subject(msg.VehicleID), data); err != nil {
		return classify("failed to publish frame", err)
	}
	return nil
}

// Flush sends buffered frames and waits for the server to acknowledge them
func (c *Client) Flush() error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	if err := conn.Flush(); err != nil {
		return classify("failed to flush", err)
	}
	return nil
}

// SubscribeFrames delivers frames relayed after the first subscription. With a
// durable name the consumer outlives the connection, so a later subscription
// under the same name resumes after the last acknowledged frame instead of
// redelivering the stream.
func (c *Client) SubscribeFrames(durable string, handler func(*types.FrameMessage)) error {
	c.mu.Lock()
	js := c.js
	c.mu.Unlock()
	if js == nil {
		return types.ErrNotAuthenticated
	}

	options := []nats.SubOpt{nats.DeliverNew(), nats.AckExplicit()}
	if durable != "" {
		options = append(options, nats.Durable(durable))
	}

	_, err := js.Subscribe(SubjectFramesAll, func(msg *nats.Msg) {
		var frame types.FrameMessage
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			log.Printf("Error unmarshaling frame: %v", err)
			return
		}
		handler(&frame)
	}, options...)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.js = nil
	}
	return nil
}
