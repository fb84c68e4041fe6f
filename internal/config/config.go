package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/saviobatista/mavrelay/internal/telemetry"
)

// Link is a vehicle interface: LINKS entries look like 0=tcp://127.0.0.1:5760
type Link struct {
	Interface int
	URL       string
}

// Vehicle binds an interface to a vehicle: VEHICLES entries look like
// 0=<uuid>:1 where the number after the colon is the MAVLink system ID
type Vehicle struct {
	Interface int
	VehicleID string
	SysID     int
}

// Config holds the application configuration
type Config struct {
	NATSURL         string
	ServiceUser     string
	ServicePassword string
	RedisAddr       string
	DBConnStr       string

	Links    []Link
	Vehicles []Vehicle

	OutputDir        string
	RecorderConsumer string
	ModeTablesFile   string
	BuildPolicy      telemetry.BuildPolicy
	SnapshotInterval time.Duration
	FeedAddr         string
}

// Load loads the configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		NATSURL:          getEnv("NATS_URL", "nats://localhost:4222"),
		ServiceUser:      os.Getenv("SERVICE_USER"),
		ServicePassword:  os.Getenv("SERVICE_PASSWORD"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		DBConnStr:        os.Getenv("DB_CONN_STR"),
		OutputDir:        getEnv("OUTPUT_DIR", "./logs"),
		RecorderConsumer: getEnv("RECORDER_CONSUMER", "recorder"),
		ModeTablesFile:   os.Getenv("MODE_TABLES_FILE"),
		FeedAddr:         os.Getenv("FEED_ADDR"),
	}

	policy, ok := telemetry.ParseBuildPolicy(os.Getenv("BUILD_IDENTITY_POLICY"))
	if !ok {
		return nil, fmt.Errorf("invalid BUILD_IDENTITY_POLICY %q: want first or latest", os.Getenv("BUILD_IDENTITY_POLICY"))
	}
	cfg.BuildPolicy = policy

	interval, err := time.ParseDuration(getEnv("SNAPSHOT_INTERVAL", "10s"))
	if err != nil || interval <= 0 {
		return nil, fmt.Errorf("invalid SNAPSHOT_INTERVAL %q", os.Getenv("SNAPSHOT_INTERVAL"))
	}
	cfg.SnapshotInterval = interval

	if links := os.Getenv("LINKS"); links != "" {
		if cfg.Links, err = ParseLinks(links); err != nil {
			return nil, err
		}
	}

	if vehicles := os.Getenv("VEHICLES"); vehicles != "" {
		if cfg.Vehicles, err = ParseVehicles(vehicles); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadRelay loads the configuration and checks the settings the relay needs
func LoadRelay() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if len(cfg.Links) == 0 {
		return nil, fmt.Errorf("LINKS environment variable is required")
	}
	if len(cfg.Vehicles) == 0 {
		return nil, fmt.Errorf("VEHICLES environment variable is required")
	}

	linked := make(map[int]bool, len(cfg.Links))
	for _, link := range cfg.Links {
		linked[link.Interface] = true
	}
	for _, vehicle := range cfg.Vehicles {
		if !linked[vehicle.Interface] {
			return nil, fmt.Errorf("vehicle %s is bound to interface %d, which has no link", vehicle.VehicleID, vehicle.Interface)
		}
	}

	return cfg, nil
}

// ParseLinks parses a comma separated list of <interface>=<url>
func ParseLinks(s string) ([]Link, error) {
	var links []Link
	seen := make(map[int]bool)
	for _, entry := range splitList(s) {
		iface, url, err := splitEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid link %q: %w", entry, err)
		}
		if seen[iface] {
			return nil, fmt.Errorf("duplicate link for interface %d", iface)
		}
		seen[iface] = true
		links = append(links, Link{Interface: iface, URL: url})
	}
	return links, nil
}

// ParseVehicles parses a comma separated list of <interface>=<vehicleId>:<sysId>
func ParseVehicles(s string) ([]Vehicle, error) {
	var vehicles []Vehicle
	for _, entry := range splitList(s) {
		iface, value, err := splitEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid vehicle %q: %w", entry, err)
		}

		sep := strings.LastIndex(value, ":")
		if sep <= 0 {
			return nil, fmt.Errorf("invalid vehicle %q: missing system id", entry)
		}
		sysID, err := strconv.Atoi(value[sep+1:])
		if err != nil || sysID < 0 || sysID > 255 {
			return nil, fmt.Errorf("invalid vehicle %q: system id must be 0-255", entry)
		}

		vehicles = append(vehicles, Vehicle{
			Interface: iface,
			VehicleID: value[:sep],
			SysID:     sysID,
		})
	}
	return vehicles, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitEntry(entry string) (int, string, error) {
	key, value, ok := strings.Cut(entry, "=")
	if !ok || value == "" {
		return 0, "", fmt.Errorf("want <interface>=<value>")
	}
	iface, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil || iface < 0 {
		return 0, "", fmt.Errorf("interface must be a non-negative integer")
	}
	return iface, strings.TrimSpace(value), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
