package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusion.capture/internal/config"
	"github.com/banshee-data/fusion.capture/internal/db"
	"github.com/banshee-data/fusion.capture/internal/fsutil"
	"github.com/banshee-data/fusion.capture/internal/monitoring"
	"github.com/banshee-data/fusion.capture/internal/protocol"
	"github.com/banshee-data/fusion.capture/internal/serialmux"
	"github.com/banshee-data/fusion.capture/internal/timeutil"
)

func quiet(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	log.SetOutput(io.Discard)
	t.Cleanup(func() {
		monitoring.SetLogger(log.Printf)
		log.SetOutput(os.Stderr)
	})
}

func recordedFusionStream(t *testing.T) []byte {
	t.Helper()
	v, err := protocol.VariantByName("fusion")
	require.NoError(t, err)

	var b []byte
	b = protocol.AppendControl(b, "SESSION_START")
	b = protocol.AppendControl(b, "IMU_READY")
	for i := range 3 {
		b = protocol.AppendTelemetry(b, v, protocol.TelemetryRecord{
			Timestamp: int64(i * 10),
			Accel:     [3]float64{float64(i), 0, 16384},
			Gyro:      [3]float64{0, 0, 1},
		})
	}
	payload := []byte("\xFF\xD8abc\xFF\xD9")
	b = protocol.AppendFrame(b, v, protocol.FrameHeader{Timestamp: 15, DeclaredLength: len(payload)}, payload)
	b = append(b, "hello from the bootloader\n"...)
	b = protocol.AppendControl(b, "CAPTURE_DONE")
	return b
}

func TestRunReplay_EndToEnd(t *testing.T) {
	quiet(t)
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("capture.bin", recordedFusionStream(t), 0o644))

	cfg := config.DefaultCaptureConfig()
	cfg.Output.Dir = "out"
	cfg.Output.DB = filepath.Join(t.TempDir(), "capture.db")

	stats, err := run(context.Background(), cfg, env{
		FS:         mfs,
		Clock:      timeutil.RealClock{},
		Mode:       modeReplay,
		ReplayPath: "capture.bin",
	})
	require.NoError(t, err, "end of a replay is a normal end")

	assert.Equal(t, 3, stats.Telemetry)
	assert.Equal(t, 1, stats.Frames)
	assert.Equal(t, int64(7), stats.FrameBytes)
	assert.Equal(t, 3, stats.Controls)
	assert.Equal(t, 1, stats.Unrecognized)
	assert.Zero(t, stats.TotalFramingErrors())

	csv, err := mfs.ReadFile(filepath.Join("out", "imu_data.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "timestamps_ms,ax_raw,ay_raw,az_raw,gx_raw,gy_raw,gz_raw", lines[0])
	assert.Equal(t, "20,2,0,16384,0,0,1", lines[3])

	frame, err := mfs.ReadFile(filepath.Join("out", "frames", "frame_000.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "\xFF\xD8abc\xFF\xD9", string(frame))

	database, err := db.OpenDB(cfg.Output.DB)
	require.NoError(t, err)
	defer database.Close()

	sessions, err := database.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, stats.SessionID, s.ID)
	assert.Equal(t, "fusion", s.Variant)
	assert.Equal(t, "replay:capture.bin", s.Port)
	assert.False(t, s.EndedAt.IsZero())
	assert.Equal(t, 3, s.Telemetry)

	recs, err := database.Telemetry(s.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	frames, err := database.Frames(s.ID)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.True(t, strings.HasSuffix(frames[0].Location, "frame_000.jpg"), "location = %q", frames[0].Location)
	assert.Equal(t, 7, frames[0].SizeBytes)

	events, err := database.Events(s.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRunSerial_DisconnectIsAnError(t *testing.T) {
	quiet(t)
	port := serialmux.NewMockPort()
	port.Feed([]byte("0|1,2,3|4,5,6\n10|1,2,3|4,5,6\n"))
	port.EndInput()
	opener := &serialmux.MockOpener{Port: port}
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))

	cfg := config.DefaultCaptureConfig()
	cfg.Serial.Path = "/dev/ttyTEST"
	cfg.Protocol.Variant = "pipe"
	cfg.Output.Dir = "out"
	cfg.Output.DB = ""

	stats, err := run(context.Background(), cfg, env{
		FS:    fsutil.NewMemoryFileSystem(),
		Clock: clock,
		Open:  opener.Open,
	})
	var te *protocol.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, stats.Telemetry)

	call := opener.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "/dev/ttyTEST", call.Path)
	assert.Equal(t, serialmux.DefaultBaudRate, call.Opts.BaudRate)
	assert.Equal(t, []time.Duration{2 * time.Second}, clock.Sleeps(), "settle delay after opening")
	assert.True(t, port.Closed())
}

func TestRunSerial_OpenFails(t *testing.T) {
	quiet(t)
	opener := &serialmux.MockOpener{Error: errors.New("device busy")}
	cfg := config.DefaultCaptureConfig()
	cfg.Output.DB = ""

	_, err := run(context.Background(), cfg, env{
		FS:    fsutil.NewMemoryFileSystem(),
		Clock: timeutil.RealClock{},
		Open:  opener.Open,
	})
	assert.ErrorContains(t, err, "device busy")
}

func TestRunSerial_OutputFailureClosesPort(t *testing.T) {
	quiet(t)
	port := serialmux.NewMockPort()
	opener := &serialmux.MockOpener{Port: port}
	mfs := fsutil.NewMemoryFileSystem()
	mfs.FailOn = func(op, name string) error {
		if op == "mkdir" {
			return errors.New("read-only")
		}
		return nil
	}

	cfg := config.DefaultCaptureConfig()
	cfg.Output.DB = ""
	cfg.Serial.Settle = config.Duration{}

	_, err := run(context.Background(), cfg, env{FS: mfs, Clock: timeutil.RealClock{}, Open: opener.Open})
	assert.Error(t, err)
	assert.True(t, port.Closed())
}

func TestRunDev_DrainsSimulatorOnCancel(t *testing.T) {
	quiet(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	cfg := config.DefaultCaptureConfig()
	cfg.Output.Dir = "out"
	cfg.Output.DB = ""
	mfs := fsutil.NewMemoryFileSystem()

	stats, err := run(ctx, cfg, env{FS: mfs, Clock: timeutil.RealClock{}, Mode: modeDev})
	require.NoError(t, err)
	assert.Greater(t, stats.Telemetry, 0)
	// session start, two ready markers and the completion marker
	assert.Equal(t, 4, stats.Controls)
	assert.Equal(t, "CAPTURE_DONE", stats.LastControl)
	assert.Zero(t, stats.TotalFramingErrors())
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	origPort, origBaud, origVariant := *port, *baud, *variantName
	defer func() { *port, *baud, *variantName = origPort, origBaud, origVariant }()

	*port = "/dev/ttyACM3"
	*baud = 921600
	*variantName = "stream"

	cfg, err := loadConfig("", map[string]bool{"port": true, "baud": true, "variant": true})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM3", cfg.Serial.Path)
	assert.Equal(t, 921600, cfg.Serial.BaudRate)
	assert.Equal(t, "stream", cfg.Protocol.Variant)

	// flags that were not given leave the config alone
	cfg, err = loadConfig("", map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Path)
	assert.Equal(t, "fusion", cfg.Protocol.Variant)
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	orig := *baud
	defer func() { *baud = orig }()
	*baud = 12345

	_, err := loadConfig("", map[string]bool{"baud": true})
	assert.ErrorContains(t, err, "invalid baud rate")
}

func TestFlagDefaults(t *testing.T) {
	if *devMode {
		t.Error("expected -dev to default to false")
	}
	if *configPath != "" {
		t.Errorf("expected -config default to be empty, got %q", *configPath)
	}
	if *stopOnComplete {
		t.Error("expected -stop-on-complete to default to false")
	}
}
