package capture

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/saviobatista/mavrelay/internal/mavlink"
	"github.com/saviobatista/mavrelay/internal/types"
)

const (
	defaultBaudRate = 57600
	// A link with no frame for this long is considered dead and redialed
	defaultIdleTimeout = 10 * time.Second
	maxFrameSize       = 512
)

// Source is a vehicle interface and the link it is read from. Supported URLs
// are tcp://host:port, udp://[host]:port (listen) and
// serial:///dev/ttyUSB0?baud=57600. TCP links with no traffic for 10s are
// redialed.
type Source struct {
	Interface int
	URL       string
}

// Capture reads MAVLink frames from vehicle links
type Capture struct {
	sources   []Source
	conns     map[int]io.Closer
	frameChan chan types.Frame
	wg        sync.WaitGroup
	stopChan  chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex
	split     bufio.SplitFunc

	reconnectDelay time.Duration
	idleTimeout    time.Duration
}

// New creates a new Capture instance
func New(sources []Source) *Capture {
	return &Capture{
		sources:        sources,
		conns:          make(map[int]io.Closer),
		frameChan:      make(chan types.Frame, 1000), // Buffer size of 1000 frames
		stopChan:       make(chan struct{}),
		reconnectDelay: 5 * time.Second,
		idleTimeout:    defaultIdleTimeout,
	}
}

// Start validates every link and begins reading from all of them
func (c *Capture) Start() error {
	parsed := make([]*url.URL, len(c.sources))
	for i, source := range c.sources {
		u, err := parseSource(source.URL)
		if err != nil {
			return fmt.Errorf("interface %d: %w", source.Interface, err)
		}
		parsed[i] = u
	}

	decoder, err := mavlink.NewDecoder()
	if err != nil {
		return err
	}
	c.split = decoder.ScanFrames

	for i, source := range c.sources {
		c.wg.Add(1)
		go c.connectToSource(source, parsed[i])
	}
	return nil
}

func parseSource(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid link %q: %w", raw, err)
	}
	switch u.Scheme {
	case "tcp", "udp":
		if u.Host == "" {
			return nil, fmt.Errorf("invalid link %q: missing address", raw)
		}
	case "serial":
		if serialPath(u) == "" {
			return nil, fmt.Errorf("invalid link %q: missing device", raw)
		}
		if _, err := baudRate(u); err != nil {
			return nil, fmt.Errorf("invalid link %q: %w", raw, err)
		}
	default:
		return nil, fmt.Errorf("invalid link %q: unsupported scheme %q", raw, u.Scheme)
	}
	return u, nil
}

func serialPath(u *url.URL) string {
	return u.Host + u.Path
}

func baudRate(u *url.URL) (int, error) {
	v := u.Query().Get("baud")
	if v == "" {
		return defaultBaudRate, nil
	}
	baud, err := strconv.Atoi(v)
	if err != nil || baud <= 0 {
		return 0, fmt.Errorf("invalid baud rate %q", v)
	}
	return baud, nil
}

// open dials or opens the link described by u
func (c *Capture) open(u *url.URL) (io.ReadCloser, error) {
	switch u.Scheme {
	case "tcp":
		conn, err := net.DialTimeout("tcp", u.Host, 5*time.Second)
		if err != nil {
			return nil, err
		}
		c.configureTCPKeepalive(conn, u.Host)
		return &idleConn{Conn: conn, timeout: c.idleTimeout}, nil
	case "udp":
		addr, err := net.ResolveUDPAddr("udp", u.Host)
		if err != nil {
			return nil, err
		}
		// Listeners stay open while the vehicle is silent
		return net.ListenUDP("udp", addr)
	case "serial":
		baud, err := baudRate(u)
		if err != nil {
			return nil, err
		}
		return serial.Open(serialPath(u), &serial.Mode{BaudRate: baud})
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// idleConn fails a read when nothing arrives within timeout
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// handleConnectionError handles connection errors and returns updated state
func (c *Capture) handleConnectionError(connected bool, disconnectTime time.Time) (bool, time.Time) {
	if connected && disconnectTime.IsZero() {
		disconnectTime = time.Now()
	}

	select {
	case <-time.After(c.reconnectDelay):
	case <-c.stopChan:
	}
	return false, disconnectTime
}

// configureTCPKeepalive configures TCP keepalive settings
func (c *Capture) configureTCPKeepalive(conn net.Conn, source string) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			log.Printf("Warning: failed to set keepalive for %s: %v", source, err)
		}
		if err := tcpConn.SetKeepAlivePeriod(2 * time.Second); err != nil {
			log.Printf("Warning: failed to set keepalive period for %s: %v", source, err)
		}
		if err := tcpConn.SetNoDelay(true); err != nil {
			log.Printf("Warning: failed to set no delay for %s: %v", source, err)
		}
	}
}

// handleSuccessfulConnection handles successful connection logic
func (c *Capture) handleSuccessfulConnection(connected bool, disconnectTime time.Time, source string) (bool, time.Time) {
	if !connected {
		if !disconnectTime.IsZero() {
			duration := time.Since(disconnectTime)
			if duration >= 10*time.Second {
				log.Printf("Link %s reestablished after %.1f minutes", source, duration.Minutes())
			} else {
				log.Printf("Link %s reestablished after %.1f seconds", source, duration.Seconds())
			}
			disconnectTime = time.Time{} // Reset disconnect time
		} else {
			log.Printf("Successfully connected to %s", source)
		}
		connected = true
	}
	return connected, disconnectTime
}

// Stop closes every link and the frame channel. It is safe to call more than
// once.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.mu.Lock()
		for _, conn := range c.conns {
			conn.Close()
		}
		c.mu.Unlock()
		c.wg.Wait()
		close(c.frameChan)
	})
}

// Frames returns the channel of captured frames
func (c *Capture) Frames() <-chan types.Frame {
	return c.frameChan
}

func (c *Capture) stopped() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

func (c *Capture) connectToSource(source Source, u *url.URL) {
	defer c.wg.Done()

	connected := false
	var disconnectTime time.Time

	log.Printf("Attempting to connect to %s (interface %d)...", source.URL, source.Interface)

	for !c.stopped() {
		conn, err := c.open(u)
		if err != nil {
			connected, disconnectTime = c.handleConnectionError(connected, disconnectTime)
			continue
		}

		connected, disconnectTime = c.handleSuccessfulConnection(connected, disconnectTime, source.URL)

		c.mu.Lock()
		if c.stopped() {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conns[source.Interface] = conn
		c.mu.Unlock()

		c.readFrames(source.Interface, conn)

		// If we get here, the link was closed
		c.mu.Lock()
		delete(c.conns, source.Interface)
		c.mu.Unlock()

		if !c.stopped() {
			connected, disconnectTime = c.handleConnectionError(connected, disconnectTime)
		}
	}
}

// readFrames splits the link's byte stream into frames until it fails
func (c *Capture) readFrames(iface int, conn io.ReadCloser) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 4*maxFrameSize)
	scanner.Split(c.split)

	for scanner.Scan() {
		// The scanner reuses its buffer
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())

		select {
		case c.frameChan <- types.Frame{
			Interface: iface,
			Data:      data,
			Timestamp: time.Now().UTC(),
		}:
		case <-c.stopChan:
			return
		}
	}

	if err := scanner.Err(); err != nil && !c.stopped() {
		log.Printf("Warning: link on interface %d failed: %v", iface, err)
	}
}
