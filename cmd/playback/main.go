package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/saviobatista/mavrelay/internal/db"
	"github.com/saviobatista/mavrelay/internal/mavlink"
	"github.com/saviobatista/mavrelay/internal/playback"
	"github.com/saviobatista/mavrelay/internal/telemetry"
	"github.com/saviobatista/mavrelay/internal/types"
)

// SummaryStore interface for testability
type SummaryStore interface {
	UpsertFlight(summary *types.FlightSummary) error
}

type options struct {
	sysID     int
	vehicleID string
	tables    string
	policy    string
	asJSON    bool
	dbConnStr string
	paths     []string
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("playback", flag.ContinueOnError)
	opts := &options{}
	fs.IntVar(&opts.sysID, "sysid", 0, "MAVLink system ID to replay (default: first heartbeat's)")
	fs.StringVar(&opts.vehicleID, "vehicle", "", "Vehicle ID to report (default: from the file name)")
	fs.StringVar(&opts.tables, "tables", os.Getenv("MODE_TABLES_FILE"), "YAML file extending the lookup tables")
	fs.StringVar(&opts.policy, "policy", os.Getenv("BUILD_IDENTITY_POLICY"), "Build identity policy: first or latest")
	fs.BoolVar(&opts.asJSON, "json", false, "Print summaries as JSON")
	fs.StringVar(&opts.dbConnStr, "db", "", "Store summaries in this database")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.paths = fs.Args()
	if len(opts.paths) == 0 {
		return nil, errors.New("usage: playback [flags] <file.tlog>...")
	}
	if opts.sysID < 0 || opts.sysID > 255 {
		return nil, fmt.Errorf("invalid -sysid %d", opts.sysID)
	}
	return opts, nil
}

func newPlayer(opts *options) (*playback.Player, error) {
	policy, ok := telemetry.ParseBuildPolicy(opts.policy)
	if !ok {
		return nil, fmt.Errorf("invalid build identity policy %q", opts.policy)
	}

	tables, err := telemetry.LoadTables(opts.tables)
	if err != nil {
		return nil, fmt.Errorf("failed to load mode tables: %w", err)
	}

	decoder, err := mavlink.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	playerOptions := []playback.Option{
		playback.WithTables(tables),
		playback.WithBuildPolicy(policy),
	}
	if opts.sysID != 0 {
		playerOptions = append(playerOptions, playback.WithSysID(opts.sysID))
	}
	if opts.vehicleID != "" {
		playerOptions = append(playerOptions, playback.WithVehicleID(opts.vehicleID))
	}
	return playback.New(decoder, playerOptions...), nil
}

// printResult writes a human readable report of one replay
func printResult(w io.Writer, result *playback.Result) error {
	s := result.Summary

	duration := "none"
	if s.FlightDuration != nil {
		duration = (time.Duration(*s.FlightDuration * float64(time.Second))).Round(time.Millisecond).String()
	}

	build := "unknown"
	if s.BuildName != "" {
		build = fmt.Sprintf("%s %s (%s)", s.BuildName, s.BuildVersion, s.BuildGit)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "File:\t%s (%s)\n", result.Path, humanize.Bytes(uint64(result.Bytes)))
	fmt.Fprintf(tw, "Records:\t%s decoded, %s failed, %s from other systems\n",
		humanize.Comma(int64(result.Decoded)), humanize.Comma(int64(result.Failed)), humanize.Comma(int64(result.Skipped)))
	fmt.Fprintf(tw, "Span:\t%s\n", result.Span().Round(time.Millisecond))
	if result.Truncated {
		fmt.Fprintf(tw, "Warning:\tlog ends with a truncated record\n")
	}
	if result.OutOfOrder > 0 {
		fmt.Fprintf(tw, "Warning:\t%s record(s) out of time order were dropped\n", humanize.Comma(int64(result.OutOfOrder)))
	}
	fmt.Fprintf(tw, "Vehicle:\t%s (sysid %d)\n", s.VehicleID, s.SysID)
	fmt.Fprintf(tw, "Type:\t%s\n", s.VehicleType)
	fmt.Fprintf(tw, "Autopilot:\t%s\n", s.Autopilot)
	fmt.Fprintf(tw, "Build:\t%s\n", build)
	fmt.Fprintf(tw, "Mode:\t%s\n", s.Mode)
	fmt.Fprintf(tw, "Flight duration:\t%s\n", duration)
	fmt.Fprintf(tw, "Max altitude:\t%s m\n", humanize.FormatFloat("#,###.##", s.MaxAltitude))
	fmt.Fprintf(tw, "Max airspeed:\t%s m/s\n", humanize.FormatFloat("#,###.##", s.MaxAirSpeed))
	fmt.Fprintf(tw, "Max groundspeed:\t%s m/s\n", humanize.FormatFloat("#,###.##", s.MaxGroundSpeed))
	return tw.Flush()
}

// run replays every file and reports the results. Files that fail to replay
// are reported and skipped.
func run(ctx context.Context, opts *options, store SummaryStore, w io.Writer) error {
	player, err := newPlayer(opts)
	if err != nil {
		return err
	}

	var results []*playback.Result
	failed := 0
	for _, path := range opts.paths {
		result, err := player.Replay(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Failed to replay %s: %v", path, err)
			failed++
			continue
		}
		results = append(results, result)

		if store != nil {
			if err := store.UpsertFlight(&result.Summary); err != nil {
				log.Printf("Warning: Failed to store flight for %s: %v", path, err)
			}
		}
	}

	if opts.asJSON {
		summaries := make([]types.FlightSummary, 0, len(results))
		for _, result := range results {
			summaries = append(summaries, result.Summary)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summaries); err != nil {
			return fmt.Errorf("failed to encode summaries: %w", err)
		}
	} else {
		for i, result := range results {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if err := printResult(w, result); err != nil {
				return err
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed to replay", failed, len(opts.paths))
	}
	return nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Printf("%v", err)
		os.Exit(2)
	}

	var store SummaryStore
	if opts.dbConnStr != "" {
		dbClient, err := db.New(opts.dbConnStr)
		if err != nil {
			log.Printf("Failed to create database client: %v", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		store = dbClient
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, store, os.Stdout); err != nil {
		log.Printf("Playback failed: %v", err)
		stop()
		os.Exit(1)
	}
}
