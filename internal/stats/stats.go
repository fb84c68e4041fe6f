package stats

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/mavrelay/internal/db"
)

// Message kinds counted per decoded frame
const (
	KindHeartbeat = iota
	KindAirspeed
	KindStatusText
	KindOther
	kindCount
)

// Stats tracks gateway frame statistics
type Stats struct {
	// Frame counts
	TotalFrames        uint64
	DecodedFrames      uint64
	FailedFrames       uint64
	UnattributedFrames uint64
	RelayedFrames      uint64
	RelayErrors        uint64
	StoredSummaries    uint64

	// Decoded frame counts, indexed by Kind*
	MessageKindCounts [kindCount]uint64

	// Timing
	StartTime     time.Time
	LastFrameTime time.Time

	BoundVehicles uint64

	// Database client for persistence
	db *db.Client

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	now := time.Now()
	return &Stats{
		StartTime:     now,
		LastFrameTime: now,
	}
}

// SetDB sets the database client for persistence
func (s *Stats) SetDB(db *db.Client) {
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
}

// Persist stores the current statistics in the database
func (s *Stats) Persist() error {
	s.mu.RLock()
	client := s.db
	s.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("database client not set")
	}

	return client.StoreSystemStats(s.GetStats())
}

// IncrementTotalFrames counts a frame handed to the gateway
func (s *Stats) IncrementTotalFrames() {
	atomic.AddUint64(&s.TotalFrames, 1)
	s.mu.Lock()
	s.LastFrameTime = time.Now()
	s.mu.Unlock()
}

// IncrementDecodedFrames counts a frame the decoder accepted
func (s *Stats) IncrementDecodedFrames() {
	atomic.AddUint64(&s.DecodedFrames, 1)
}

// IncrementFailedFrames counts a frame the decoder rejected
func (s *Stats) IncrementFailedFrames() {
	atomic.AddUint64(&s.FailedFrames, 1)
}

// IncrementUnattributedFrames counts a frame on an unbound interface
func (s *Stats) IncrementUnattributedFrames() {
	atomic.AddUint64(&s.UnattributedFrames, 1)
}

// IncrementRelayedFrames counts a frame handed to the remote service
func (s *Stats) IncrementRelayedFrames() {
	atomic.AddUint64(&s.RelayedFrames, 1)
}

// IncrementRelayErrors counts a frame the remote service did not accept
func (s *Stats) IncrementRelayErrors() {
	atomic.AddUint64(&s.RelayErrors, 1)
}

// IncrementStoredSummaries counts a flight summary written to a snapshot store
func (s *Stats) IncrementStoredSummaries() {
	atomic.AddUint64(&s.StoredSummaries, 1)
}

// IncrementMessageKind increments the counter for a decoded message kind
func (s *Stats) IncrementMessageKind(kind int) {
	if kind >= 0 && kind < len(s.MessageKindCounts) {
		atomic.AddUint64(&s.MessageKindCounts[kind], 1)
	}
}

// SetBoundVehicles sets the number of bound vehicle interfaces
func (s *Stats) SetBoundVehicles(count uint64) {
	atomic.StoreUint64(&s.BoundVehicles, count)
}

// GetStats returns a copy of the current statistics
func (s *Stats) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var kinds [kindCount]uint64
	for i := range s.MessageKindCounts {
		kinds[i] = atomic.LoadUint64(&s.MessageKindCounts[i])
	}

	return map[string]interface{}{
		"total_frames":        atomic.LoadUint64(&s.TotalFrames),
		"decoded_frames":      atomic.LoadUint64(&s.DecodedFrames),
		"failed_frames":       atomic.LoadUint64(&s.FailedFrames),
		"unattributed_frames": atomic.LoadUint64(&s.UnattributedFrames),
		"relayed_frames":      atomic.LoadUint64(&s.RelayedFrames),
		"relay_errors":        atomic.LoadUint64(&s.RelayErrors),
		"stored_summaries":    atomic.LoadUint64(&s.StoredSummaries),
		"bound_vehicles":      atomic.LoadUint64(&s.BoundVehicles),
		"message_kinds":       kinds[:],
		"last_frame_time":     s.LastFrameTime,
		"uptime":              time.Since(s.StartTime),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	stats := s.GetStats()
	return fmt.Sprintf(
		"Total Frames: %d\n"+
			"Decoded Frames: %d\n"+
			"Failed Frames: %d\n"+
			"Unattributed Frames: %d\n"+
			"Relayed Frames: %d\n"+
			"Relay Errors: %d\n"+
			"Stored Summaries: %d\n"+
			"Bound Vehicles: %d\n"+
			"Last Frame Time: %s\n"+
			"Uptime: %s",
		stats["total_frames"],
		stats["decoded_frames"],
		stats["failed_frames"],
		stats["unattributed_frames"],
		stats["relayed_frames"],
		stats["relay_errors"],
		stats["stored_summaries"],
		stats["bound_vehicles"],
		stats["last_frame_time"],
		stats["uptime"],
	)
}

// StartPersistence starts periodic persistence of statistics
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			if err := s.Persist(); err != nil {
				log.Printf("Failed to persist final statistics: %v", err)
			}
			return
		case <-ticker.C:
			if err := s.Persist(); err != nil {
				log.Printf("Failed to persist statistics: %v", err)
			}
		}
	}
}
