package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/saviobatista/mavrelay/internal/config"
	"github.com/saviobatista/mavrelay/internal/nats"
	"github.com/saviobatista/mavrelay/internal/storage"
	"github.com/saviobatista/mavrelay/internal/types"
)

// FrameWriter interface for testability
type FrameWriter interface {
	WriteFrame(vehicleID string, timestamp time.Time, frame []byte) error
}

// FrameSubscriber interface for testability
type FrameSubscriber interface {
	SubscribeFrames(durable string, handler func(*types.FrameMessage)) error
}

// Recorder writes relayed frames to per-vehicle tlog files
type Recorder struct {
	writer  FrameWriter
	frames  atomic.Uint64
	bytes   atomic.Uint64
	failed  atomic.Uint64
	started time.Time
}

// NewRecorder creates a recorder writing to w
func NewRecorder(w FrameWriter) *Recorder {
	return &Recorder{writer: w, started: time.Now()}
}

// HandleFrame records one relayed frame
func (r *Recorder) HandleFrame(msg *types.FrameMessage) {
	if len(msg.Data) == 0 {
		r.failed.Add(1)
		log.Printf("Warning: skipping frame without data")
		return
	}
	if err := types.ValidateVehicleID(msg.VehicleID); err != nil {
		r.failed.Add(1)
		log.Printf("Warning: skipping frame: %v", err)
		return
	}

	if err := r.writer.WriteFrame(msg.VehicleID, msg.Timestamp, msg.Data); err != nil {
		r.failed.Add(1)
		log.Printf("Failed to write frame: %v", err)
		return
	}
	r.frames.Add(1)
	r.bytes.Add(uint64(len(msg.Data)))
}

// Subscribe starts recording frames from s through the durable consumer
// named consumer, resuming where an earlier recorder of that name stopped
func (r *Recorder) Subscribe(s FrameSubscriber, consumer string) error {
	if err := s.SubscribeFrames(consumer, r.HandleFrame); err != nil {
		return fmt.Errorf("failed to subscribe to frames: %w", err)
	}
	return nil
}

// String summarises what has been recorded
func (r *Recorder) String() string {
	return fmt.Sprintf("Recorded %s frames (%s), %s failed, up %s",
		humanize.Comma(int64(r.frames.Load())),
		humanize.Bytes(r.bytes.Load()),
		humanize.Comma(int64(r.failed.Load())),
		time.Since(r.started).Round(time.Second),
	)
}

// logStats periodically logs what has been recorded
func (r *Recorder) logStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Print(r)
		}
	}
}

// runRecorder contains the main application logic and can be tested
func runRecorder(ctx context.Context, cfg *config.Config) error {
	store := storage.New(cfg.OutputDir)
	if err := store.Start(); err != nil {
		return fmt.Errorf("failed to start storage: %w", err)
	}
	defer func() {
		if err := store.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "error stopping storage: %v\n", err)
		}
	}()

	client := nats.New(cfg.NATSURL)
	if err := client.Login(cfg.ServiceUser, cfg.ServicePassword); err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	// Close the client before storage so no frame is written after Stop
	defer client.Close()

	recorder := NewRecorder(store)
	if err := recorder.Subscribe(client, cfg.RecorderConsumer); err != nil {
		return err
	}
	go recorder.logStats(ctx, time.Minute)

	log.Printf("Recording frames to %s", cfg.OutputDir)
	<-ctx.Done()

	log.Println("Shutting down...")
	log.Print(recorder)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runRecorder(ctx, cfg); err != nil {
		log.Printf("Recorder failed: %v", err)
		stop()
		os.Exit(1)
	}
}
