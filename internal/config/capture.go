package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/banshee-data/fusion.capture/internal/protocol"
	"github.com/banshee-data/fusion.capture/internal/serialmux"
)

const maxConfigSize = 1 * 1024 * 1024 // 1MB

// Duration decodes TOML strings such as "200ms" or "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// CaptureConfig is the root of a capture TOML file.
type CaptureConfig struct {
	Serial   SerialConfig   `toml:"serial"`
	Protocol ProtocolConfig `toml:"protocol"`
	Output   OutputConfig   `toml:"output"`
	Progress ProgressConfig `toml:"progress"`
	Debug    DebugConfig    `toml:"debug"`
}

type SerialConfig struct {
	Path string `toml:"path"`
	serialmux.PortOptions
	ReadTimeout Duration `toml:"read_timeout"`
	// Settle is how long to wait after opening the port; opening it resets
	// the ESP32.
	Settle Duration `toml:"settle"`
}

// ProtocolConfig selects a preset variant. Set fields override the preset.
type ProtocolConfig struct {
	Variant         string            `toml:"variant"`
	Separator       *string           `toml:"separator"`
	TelemetryPrefix *string           `toml:"telemetry_prefix"`
	FrameStart      *string           `toml:"frame_start"`
	FrameEnd        *string           `toml:"frame_end"`
	Header          *string           `toml:"header"`
	Footer          *string           `toml:"footer"`
	MaxFrameBytes   int               `toml:"max_frame_bytes"`
	MaxLineLength   int               `toml:"max_line_length"`
	FollowUpReads   int               `toml:"follow_up_reads"`
	Controls        map[string]string `toml:"controls"`
}

// OutputConfig places the CSV table, frame files and sqlite store. Relative
// paths are resolved against Dir. An empty CSV, FramesDir or DB disables that
// sink.
type OutputConfig struct {
	Dir         string `toml:"dir"`
	CSV         string `toml:"csv"`
	FramesDir   string `toml:"frames_dir"`
	FramePrefix string `toml:"frame_prefix"`
	FrameExt    string `toml:"frame_ext"`
	DB          string `toml:"db"`
}

type ProgressConfig struct {
	// Every logs progress after this many telemetry samples; negative disables.
	Every          int      `toml:"every"`
	Interval       Duration `toml:"interval"`
	StatsWindow    int      `toml:"stats_window"`
	StopOnComplete bool     `toml:"stop_on_complete"`
}

type DebugConfig struct {
	// Listen is the debug HTTP address; empty disables the listener.
	Listen  string `toml:"listen"`
	Verbose bool   `toml:"verbose"`
}

// DefaultCaptureConfig returns the settings used when no file is given.
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		Serial: SerialConfig{
			Path: "/dev/ttyUSB0",
			PortOptions: serialmux.PortOptions{
				BaudRate: serialmux.DefaultBaudRate,
				DataBits: 8,
				StopBits: 1,
				Parity:   "N",
			},
			ReadTimeout: Duration{200 * time.Millisecond},
			Settle:      Duration{2 * time.Second},
		},
		Protocol: ProtocolConfig{Variant: "fusion"},
		Output: OutputConfig{
			Dir:         "captures",
			CSV:         "imu_data.csv",
			FramesDir:   "frames",
			FramePrefix: "frame",
			FrameExt:    ".jpg",
			DB:          "capture.db",
		},
		Progress: ProgressConfig{
			Every:       10,
			StatsWindow: 200,
		},
	}
}

// LoadCaptureConfig overlays the TOML file at path onto the defaults.
// The file must have a .toml extension and be under 1MB. Unknown keys are
// rejected.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".toml" {
		return nil, fmt.Errorf("config file must have .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigSize)
	}

	cfg := DefaultCaptureConfig()
	md, err := toml.DecodeFile(cleanPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *CaptureConfig) Validate() error {
	if _, err := c.PortOptions(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if c.Serial.ReadTimeout.Duration <= 0 {
		return fmt.Errorf("serial.read_timeout must be positive, got %s", c.Serial.ReadTimeout)
	}
	if c.Serial.Settle.Duration < 0 {
		return fmt.Errorf("serial.settle must be non-negative, got %s", c.Serial.Settle)
	}
	if _, err := c.Variant(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	if c.Protocol.MaxFrameBytes < 0 || c.Protocol.MaxLineLength < 0 || c.Protocol.FollowUpReads < 0 {
		return fmt.Errorf("protocol limits must be non-negative")
	}
	if c.Output.CSV == "" && c.Output.FramesDir == "" && c.Output.DB == "" {
		return fmt.Errorf("output: at least one of csv, frames_dir or db must be set")
	}
	if c.Progress.Interval.Duration < 0 {
		return fmt.Errorf("progress.interval must be non-negative, got %s", c.Progress.Interval)
	}
	if c.Progress.StatsWindow < 0 {
		return fmt.Errorf("progress.stats_window must be non-negative, got %d", c.Progress.StatsWindow)
	}
	return nil
}

// PortOptions returns the normalised serial settings.
func (c *CaptureConfig) PortOptions() (serialmux.PortOptions, error) {
	return c.Serial.PortOptions.Normalise()
}

// Variant builds the protocol descriptor: the named preset with any
// overrides applied, then defaults filled and validated.
func (c *CaptureConfig) Variant() (protocol.Variant, error) {
	p := c.Protocol
	v, err := protocol.VariantByName(p.Variant)
	if err != nil {
		return protocol.Variant{}, err
	}

	if p.Separator != nil {
		if v.Separator, err = protocol.ParseSeparatorStyle(*p.Separator); err != nil {
			return protocol.Variant{}, err
		}
	}
	if p.TelemetryPrefix != nil {
		v.TelemetryPrefix = *p.TelemetryPrefix
	}
	if p.FrameStart != nil {
		v.FrameStart = *p.FrameStart
	}
	if p.FrameEnd != nil {
		v.FrameEnd = *p.FrameEnd
	}
	if p.Header != nil {
		if v.Header, err = protocol.ParseHeaderStyle(*p.Header); err != nil {
			return protocol.Variant{}, err
		}
	}
	if p.Footer != nil {
		if v.Footer, err = protocol.ParseFooterStyle(*p.Footer); err != nil {
			return protocol.Variant{}, err
		}
	}
	if p.MaxFrameBytes > 0 {
		v.MaxFrameBytes = p.MaxFrameBytes
	}
	if p.MaxLineLength > 0 {
		v.MaxLineLength = p.MaxLineLength
	}
	if p.FollowUpReads > 0 {
		v.FollowUpReads = p.FollowUpReads
	}
	if len(p.Controls) > 0 {
		v.Controls = make(map[string]protocol.ControlKind, len(p.Controls))
		for marker, kind := range p.Controls {
			k, err := protocol.ParseControlKind(kind)
			if err != nil {
				return protocol.Variant{}, fmt.Errorf("control %q: %w", marker, err)
			}
			v.Controls[marker] = k
		}
	}

	v = v.WithDefaults()
	if err := v.Validate(); err != nil {
		return protocol.Variant{}, err
	}
	return v, nil
}

// OutputPath resolves a configured output path against Output.Dir. Empty
// names stay empty.
func (c *CaptureConfig) OutputPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Output.Dir, name)
}
