package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saviobatista/mavrelay/internal/capture"
	"github.com/saviobatista/mavrelay/internal/config"
	"github.com/saviobatista/mavrelay/internal/db"
	"github.com/saviobatista/mavrelay/internal/feed"
	"github.com/saviobatista/mavrelay/internal/gateway"
	"github.com/saviobatista/mavrelay/internal/mavlink"
	"github.com/saviobatista/mavrelay/internal/nats"
	"github.com/saviobatista/mavrelay/internal/redis"
	"github.com/saviobatista/mavrelay/internal/stats"
	"github.com/saviobatista/mavrelay/internal/telemetry"
	"github.com/saviobatista/mavrelay/internal/types"
)

// Gateway interface for testability
type Gateway interface {
	FilterMavlink(fromInterface int, data []byte) error
	Flush() error
	Snapshots() []types.FlightSummary
}

// SummaryCache interface for testability
type SummaryCache interface {
	StoreSummary(ctx context.Context, summary *types.FlightSummary) error
}

// SummaryStore interface for testability
type SummaryStore interface {
	UpsertFlight(summary *types.FlightSummary) error
}

// Broadcaster interface for testability
type Broadcaster interface {
	Broadcast(summaries []types.FlightSummary)
}

// Relay moves frames from the vehicle links into the gateway and publishes
// flight summaries on every snapshot tick
type Relay struct {
	gateway Gateway
	cache   SummaryCache
	store   SummaryStore
	feed    Broadcaster
	stats   *stats.Stats

	// interfaces already reported as unbound
	unbound map[int]bool
}

// NewRelay creates a relay. cache, store and feed are optional.
func NewRelay(gw Gateway, st *stats.Stats) *Relay {
	return &Relay{
		gateway: gw,
		stats:   st,
		unbound: make(map[int]bool),
	}
}

// ProcessFrame filters one frame through the gateway
func (r *Relay) ProcessFrame(frame types.Frame) error {
	err := r.gateway.FilterMavlink(frame.Interface, frame.Data)
	if errors.Is(err, types.ErrInterfaceNotBound) {
		if !r.unbound[frame.Interface] {
			r.unbound[frame.Interface] = true
			log.Printf("Warning: dropping frames from unbound interface %d", frame.Interface)
		}
		return nil
	}
	return err
}

// PublishSnapshots pushes the current flight summaries to every configured sink
func (r *Relay) PublishSnapshots(ctx context.Context) {
	summaries := r.gateway.Snapshots()
	if len(summaries) == 0 {
		return
	}

	for i := range summaries {
		summary := &summaries[i]
		if r.cache != nil {
			if err := r.cache.StoreSummary(ctx, summary); err != nil {
				log.Printf("Warning: Failed to cache summary in Redis: %v", err)
			}
		}
		if r.store != nil {
			if err := r.store.UpsertFlight(summary); err != nil {
				log.Printf("Warning: Failed to store flight: %v", err)
				continue
			}
			r.stats.IncrementStoredSummaries()
		}
	}

	if r.feed != nil {
		r.feed.Broadcast(summaries)
	}
}

// Run processes frames until ctx is cancelled or the frame channel closes
func (r *Relay) Run(ctx context.Context, frames <-chan types.Frame, snapshotInterval time.Duration) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := r.ProcessFrame(frame); err != nil {
				log.Printf("Failed to process frame: %v", err)
			}
		case <-ticker.C:
			if err := r.gateway.Flush(); err != nil {
				log.Printf("Warning: Failed to flush frames: %v", err)
			}
			r.PublishSnapshots(ctx)
		}
	}
}

// logStats periodically logs statistics
func logStats(ctx context.Context, st *stats.Stats) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("Statistics:\n%s", st)
		}
	}
}

// loadTables returns the default lookup tables extended by the configured file
func loadTables(path string) (*telemetry.Tables, error) {
	if path == "" {
		return telemetry.DefaultTables(), nil
	}
	tables, err := telemetry.LoadTables(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load mode tables: %w", err)
	}
	return tables, nil
}

// setupGateway logs in and binds every configured vehicle
func setupGateway(cfg *config.Config, service gateway.Service, st *stats.Stats) (*gateway.Gateway, error) {
	tables, err := loadTables(cfg.ModeTablesFile)
	if err != nil {
		return nil, err
	}

	decoder, err := mavlink.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	gw := gateway.New(service, decoder,
		gateway.WithStats(st),
		gateway.WithTables(tables),
		gateway.WithBuildPolicy(cfg.BuildPolicy),
	)

	if err := gw.LoginUser(cfg.ServiceUser, cfg.ServicePassword); err != nil {
		return nil, err
	}

	for _, vehicle := range cfg.Vehicles {
		if err := gw.SetVehicleID(vehicle.VehicleID, vehicle.Interface, vehicle.SysID); err != nil {
			if closeErr := gw.Close(); closeErr != nil {
				log.Printf("Warning: Failed to close gateway: %v", closeErr)
			}
			return nil, fmt.Errorf("failed to bind interface %d: %w", vehicle.Interface, err)
		}
	}

	return gw, nil
}

func sources(links []config.Link) []capture.Source {
	out := make([]capture.Source, 0, len(links))
	for _, link := range links {
		out = append(out, capture.Source{Interface: link.Interface, URL: link.URL})
	}
	return out
}

// attachSinks connects the optional summary sinks. The returned function closes them.
func attachSinks(ctx context.Context, cfg *config.Config, relay *Relay, st *stats.Stats) (func(), error) {
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		relay.cache = redisClient
		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
			}
		})
	}

	if cfg.DBConnStr != "" {
		dbClient, err := db.New(cfg.DBConnStr)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to create database client: %w", err)
		}
		relay.store = dbClient
		st.SetDB(dbClient)
		go st.StartPersistence(ctx, 5*time.Minute)
		closers = append(closers, func() {
			if err := dbClient.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
			}
		})
	}

	if cfg.FeedAddr != "" {
		hub := feed.NewHub()
		relay.feed = hub
		go func() {
			if err := hub.ListenAndServe(ctx, cfg.FeedAddr); err != nil {
				log.Printf("Feed server failed: %v", err)
			}
		}()
		log.Printf("Serving summary feed on %s", cfg.FeedAddr)
	}

	return closeAll, nil
}

// runRelay contains the main application logic
func runRelay(ctx context.Context, cfg *config.Config) error {
	st := stats.New()

	gw, err := setupGateway(cfg, nats.New(cfg.NATSURL), st)
	if err != nil {
		return fmt.Errorf("failed to set up gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing gateway: %v\n", err)
		}
	}()

	relay := NewRelay(gw, st)
	closeSinks, err := attachSinks(ctx, cfg, relay, st)
	if err != nil {
		return err
	}
	defer closeSinks()

	links := capture.New(sources(cfg.Links))
	if err := links.Start(); err != nil {
		return fmt.Errorf("failed to start links: %w", err)
	}
	defer links.Stop()

	go logStats(ctx, st)

	log.Printf("Relaying %d link(s) to %s", len(cfg.Links), cfg.NATSURL)
	relay.Run(ctx, links.Frames(), cfg.SnapshotInterval)

	log.Println("Shutting down...")
	if err := gw.Flush(); err != nil {
		log.Printf("Warning: Failed to flush frames: %v", err)
	}
	relay.PublishSnapshots(context.Background())
	return nil
}

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runRelay(ctx, cfg); err != nil {
		log.Printf("Relay failed: %v", err)
		stop()
		os.Exit(1)
	}
}
