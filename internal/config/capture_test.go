package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/fusion.capture/internal/protocol"
	"github.com/banshee-data/fusion.capture/internal/serialmux"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultCaptureConfig_Valid(t *testing.T) {
	cfg := DefaultCaptureConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	v, err := cfg.Variant()
	if err != nil {
		t.Fatalf("Variant() error = %v", err)
	}
	if v.Name != "fusion" {
		t.Errorf("Variant().Name = %q, want fusion", v.Name)
	}
	opts, err := cfg.PortOptions()
	if err != nil {
		t.Fatalf("PortOptions() error = %v", err)
	}
	if opts.String() != "115200 8N1" {
		t.Errorf("PortOptions() = %s, want 115200 8N1", opts)
	}
	if cfg.Progress.Every != 10 {
		t.Errorf("Progress.Every = %d, want 10", cfg.Progress.Every)
	}
}

func TestLoadCaptureConfig_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, "capture.toml", `
[serial]
path = "/dev/ttyACM0"
baud_rate = 921600
read_timeout = "50ms"
settle = "0s"

[protocol]
variant = "pipe"

[output]
dir = "/tmp/run1"
db = ""

[progress]
every = 50
interval = "5s"

[debug]
listen = "127.0.0.1:8090"
verbose = true
`)
	cfg, err := LoadCaptureConfig(path)
	if err != nil {
		t.Fatalf("LoadCaptureConfig() error = %v", err)
	}

	if cfg.Serial.Path != "/dev/ttyACM0" {
		t.Errorf("Serial.Path = %q", cfg.Serial.Path)
	}
	if cfg.Serial.BaudRate != 921600 {
		t.Errorf("Serial.BaudRate = %d, want 921600", cfg.Serial.BaudRate)
	}
	if cfg.Serial.DataBits != 8 {
		t.Errorf("Serial.DataBits = %d, want default 8", cfg.Serial.DataBits)
	}
	if cfg.Serial.ReadTimeout.Duration != 50*time.Millisecond {
		t.Errorf("Serial.ReadTimeout = %v, want 50ms", cfg.Serial.ReadTimeout)
	}
	if cfg.Serial.Settle.Duration != 0 {
		t.Errorf("Serial.Settle = %v, want 0", cfg.Serial.Settle)
	}
	if cfg.Output.CSV != "imu_data.csv" {
		t.Errorf("Output.CSV = %q, want default", cfg.Output.CSV)
	}
	if cfg.Output.DB != "" {
		t.Errorf("Output.DB = %q, want disabled", cfg.Output.DB)
	}
	if cfg.Progress.Every != 50 || cfg.Progress.Interval.Duration != 5*time.Second {
		t.Errorf("Progress = %+v", cfg.Progress)
	}
	if cfg.Debug.Listen != "127.0.0.1:8090" || !cfg.Debug.Verbose {
		t.Errorf("Debug = %+v", cfg.Debug)
	}

	v, err := cfg.Variant()
	if err != nil {
		t.Fatalf("Variant() error = %v", err)
	}
	if v.Separator != protocol.SeparatorPipe || v.FramesEnabled() {
		t.Errorf("Variant() = %+v, want pipe without frames", v)
	}
	if got := cfg.OutputPath(cfg.Output.CSV); got != filepath.Join("/tmp/run1", "imu_data.csv") {
		t.Errorf("OutputPath(csv) = %q", got)
	}
}

func TestLoadCaptureConfig_ProtocolOverrides(t *testing.T) {
	path := writeConfig(t, "capture.toml", `
[protocol]
variant = "stream"
telemetry_prefix = "IMU,"
header = "two_line"
footer = "none"
max_frame_bytes = 1024
follow_up_reads = 5

[protocol.controls]
BOOT = "session_start"
DONE = "complete"
`)
	cfg, err := LoadCaptureConfig(path)
	if err != nil {
		t.Fatalf("LoadCaptureConfig() error = %v", err)
	}
	v, err := cfg.Variant()
	if err != nil {
		t.Fatalf("Variant() error = %v", err)
	}
	if v.TelemetryPrefix != "IMU," {
		t.Errorf("TelemetryPrefix = %q", v.TelemetryPrefix)
	}
	if v.Header != protocol.HeaderTwoLine || v.Footer != protocol.FooterNone {
		t.Errorf("Header, Footer = %v, %v", v.Header, v.Footer)
	}
	if v.MaxFrameBytes != 1024 || v.FollowUpReads != 5 {
		t.Errorf("limits = %d, %d", v.MaxFrameBytes, v.FollowUpReads)
	}
	want := map[string]protocol.ControlKind{"BOOT": protocol.ControlSessionStart, "DONE": protocol.ControlComplete}
	if len(v.Controls) != len(want) {
		t.Fatalf("Controls = %v, want %v", v.Controls, want)
	}
	for k, kind := range want {
		if v.Controls[k] != kind {
			t.Errorf("Controls[%q] = %v, want %v", k, v.Controls[k], kind)
		}
	}
}

func TestLoadCaptureConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "capture.json", `{}`, ".toml extension"},
		{"syntax", "capture.toml", "[serial\npath = 1", "parse config"},
		{"unknown key", "capture.toml", "[serial]\nbaud = 9600\n", "unknown config keys: serial.baud"},
		{"bad baud", "capture.toml", "[serial]\nbaud_rate = 12345\n", "invalid baud rate"},
		{"bad duration", "capture.toml", "[serial]\nread_timeout = \"soon\"\n", "parse config"},
		{"zero timeout", "capture.toml", "[serial]\nread_timeout = \"0s\"\n", "read_timeout"},
		{"bad variant", "capture.toml", "[protocol]\nvariant = \"morse\"\n", "protocol"},
		{"bad control", "capture.toml", "[protocol.controls]\nX = \"explode\"\n", "unknown control kind"},
		{"colliding markers", "capture.toml", "[protocol]\ntelemetry_prefix = \"FRAME_START\"\n", "collides"},
		{"no outputs", "capture.toml", "[output]\ncsv = \"\"\nframes_dir = \"\"\ndb = \"\"\n", "at least one"},
		{"negative window", "capture.toml", "[progress]\nstats_window = -1\n", "stats_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			_, err := LoadCaptureConfig(path)
			if err == nil {
				t.Fatal("LoadCaptureConfig() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCaptureConfig_MissingAndOversized(t *testing.T) {
	if _, err := LoadCaptureConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file: error = nil")
	}

	big := "# " + strings.Repeat("x", maxConfigSize) + "\n"
	path := writeConfig(t, "big.toml", big)
	_, err := LoadCaptureConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("oversized file: error = %v, want too large", err)
	}
}

func TestOutputPath(t *testing.T) {
	cfg := DefaultCaptureConfig()
	cfg.Output.Dir = "runs"
	tests := []struct{ in, want string }{
		{"", ""},
		{"imu.csv", filepath.Join("runs", "imu.csv")},
		{"/abs/imu.csv", "/abs/imu.csv"},
	}
	for _, tt := range tests {
		if got := cfg.OutputPath(tt.in); got != tt.want {
			t.Errorf("OutputPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPortOptionsNormalised(t *testing.T) {
	cfg := DefaultCaptureConfig()
	cfg.Serial.PortOptions = serialmux.PortOptions{BaudRate: 9600, Parity: "even"}
	opts, err := cfg.PortOptions()
	if err != nil {
		t.Fatalf("PortOptions() error = %v", err)
	}
	if opts.String() != "9600 8E1" {
		t.Errorf("PortOptions() = %s, want 9600 8E1", opts)
	}
}
