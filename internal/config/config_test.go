package config

import (
	"testing"
	"time"

	"github.com/saviobatista/mavrelay/internal/telemetry"
)

const testVehicle = "0b6e7d3c-52a4-4f0e-9b8a-1c2d3e4f5a6b"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"NATS_URL", "SERVICE_USER", "SERVICE_PASSWORD", "REDIS_ADDR", "DB_CONN_STR",
		"LINKS", "VEHICLES", "OUTPUT_DIR", "MODE_TABLES_FILE", "BUILD_IDENTITY_POLICY",
		"SNAPSHOT_INTERVAL", "FEED_ADDR", "RECORDER_CONSUMER",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if config.NATSURL != "nats://localhost:4222" {
		t.Errorf("Expected default NATSURL, got %s", config.NATSURL)
	}
	if config.OutputDir != "./logs" {
		t.Errorf("Expected default OutputDir = ./logs, got %s", config.OutputDir)
	}
	if config.RecorderConsumer != "recorder" {
		t.Errorf("Expected default RecorderConsumer = recorder, got %s", config.RecorderConsumer)
	}
	if config.SnapshotInterval != 10*time.Second {
		t.Errorf("Expected default SnapshotInterval = 10s, got %v", config.SnapshotInterval)
	}
	if config.BuildPolicy != telemetry.FirstMatchWins {
		t.Errorf("Expected FirstMatchWins by default, got %v", config.BuildPolicy)
	}
	if len(config.Links) != 0 || len(config.Vehicles) != 0 {
		t.Error("Expected no links or vehicles by default")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("NATS_URL", "nats://relay:4222")
	t.Setenv("SERVICE_USER", "relay")
	t.Setenv("SERVICE_PASSWORD", "secret")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("OUTPUT_DIR", "/test/output")
	t.Setenv("BUILD_IDENTITY_POLICY", "latest")
	t.Setenv("SNAPSHOT_INTERVAL", "500ms")
	t.Setenv("FEED_ADDR", ":8080")
	t.Setenv("RECORDER_CONSUMER", "archive")
	t.Setenv("LINKS", "0=tcp://127.0.0.1:5760, 1=serial:///dev/ttyUSB0?baud=57600")
	t.Setenv("VEHICLES", "0="+testVehicle+":1,1=gcs:255")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if config.ServiceUser != "relay" || config.ServicePassword != "secret" {
		t.Errorf("Unexpected credentials: %s / %s", config.ServiceUser, config.ServicePassword)
	}
	if config.RecorderConsumer != "archive" {
		t.Errorf("Expected RecorderConsumer = archive, got %s", config.RecorderConsumer)
	}
	if config.BuildPolicy != telemetry.LatestWins {
		t.Errorf("Expected LatestWins, got %v", config.BuildPolicy)
	}
	if config.SnapshotInterval != 500*time.Millisecond {
		t.Errorf("Expected SnapshotInterval = 500ms, got %v", config.SnapshotInterval)
	}

	wantLinks := []Link{
		{Interface: 0, URL: "tcp://127.0.0.1:5760"},
		{Interface: 1, URL: "serial:///dev/ttyUSB0?baud=57600"},
	}
	if len(config.Links) != len(wantLinks) {
		t.Fatalf("Expected %d links, got %d", len(wantLinks), len(config.Links))
	}
	for i, link := range wantLinks {
		if config.Links[i] != link {
			t.Errorf("Links[%d] = %+v, want %+v", i, config.Links[i], link)
		}
	}

	wantVehicles := []Vehicle{
		{Interface: 0, VehicleID: testVehicle, SysID: 1},
		{Interface: 1, VehicleID: "gcs", SysID: 255},
	}
	for i, vehicle := range wantVehicles {
		if config.Vehicles[i] != vehicle {
			t.Errorf("Vehicles[%d] = %+v, want %+v", i, config.Vehicles[i], vehicle)
		}
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"build policy", "BUILD_IDENTITY_POLICY", "sometimes"},
		{"snapshot interval", "SNAPSHOT_INTERVAL", "soon"},
		{"negative snapshot interval", "SNAPSHOT_INTERVAL", "-1s"},
		{"link without url", "LINKS", "0="},
		{"link without interface", "LINKS", "tcp://127.0.0.1:5760"},
		{"duplicate link", "LINKS", "0=tcp://a:1,0=tcp://b:2"},
		{"vehicle without sysid", "VEHICLES", "0=" + testVehicle},
		{"vehicle sysid out of range", "VEHICLES", "0=" + testVehicle + ":256"},
		{"vehicle negative interface", "VEHICLES", "-1=gcs:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			config, err := Load()
			if err == nil {
				t.Fatalf("Load() should fail for %s=%q", tt.key, tt.value)
			}
			if config != nil {
				t.Error("Load() should return nil config on error")
			}
		})
	}
}

func TestLoadRelay(t *testing.T) {
	tests := []struct {
		name     string
		links    string
		vehicles string
		wantErr  string
	}{
		{
			name:     "valid",
			links:    "0=tcp://127.0.0.1:5760",
			vehicles: "0=" + testVehicle + ":1",
		},
		{
			name:     "missing links",
			vehicles: "0=" + testVehicle + ":1",
			wantErr:  "LINKS environment variable is required",
		},
		{
			name:    "missing vehicles",
			links:   "0=tcp://127.0.0.1:5760",
			wantErr: "VEHICLES environment variable is required",
		},
		{
			name:     "vehicle on unlinked interface",
			links:    "0=tcp://127.0.0.1:5760",
			vehicles: "3=" + testVehicle + ":1",
			wantErr:  "vehicle " + testVehicle + " is bound to interface 3, which has no link",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("LINKS", tt.links)
			t.Setenv("VEHICLES", tt.vehicles)

			config, err := LoadRelay()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("LoadRelay() failed: %v", err)
				}
				if config == nil {
					t.Fatal("LoadRelay() returned nil config")
				}
				return
			}

			if err == nil {
				t.Fatal("LoadRelay() should have failed")
			}
			if err.Error() != tt.wantErr {
				t.Errorf("Expected error '%s', got '%s'", tt.wantErr, err.Error())
			}
		})
	}
}
