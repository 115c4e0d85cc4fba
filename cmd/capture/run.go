package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/fusion.capture/internal/capture"
	"github.com/banshee-data/fusion.capture/internal/config"
	"github.com/banshee-data/fusion.capture/internal/db"
	"github.com/banshee-data/fusion.capture/internal/fsutil"
	"github.com/banshee-data/fusion.capture/internal/monitoring"
	"github.com/banshee-data/fusion.capture/internal/protocol"
	"github.com/banshee-data/fusion.capture/internal/serialmux"
	"github.com/banshee-data/fusion.capture/internal/sink"
	"github.com/banshee-data/fusion.capture/internal/timeutil"
)

// Simulated device cadence for -dev.
const (
	devInterval   = 10 * time.Millisecond
	devFrameEvery = 25
	devFrameSize  = 4096
)

type deviceMode int

const (
	modeSerial deviceMode = iota
	modeDev
	modeReplay
)

// env holds what a capture run needs from the outside world.
type env struct {
	FS         fsutil.FileSystem
	Clock      timeutil.Clock
	Open       serialmux.Opener
	Mode       deviceMode
	ReplayPath string
}

// device is an opened byte source. In dev and replay mode the end of input
// is the normal end of the run.
type device struct {
	port     serialmux.SerialPorter
	name     string
	eofIsEnd bool
	stop     func()
}

func openDevice(ctx context.Context, cfg *config.CaptureConfig, v protocol.Variant, e env) (*device, error) {
	switch e.Mode {
	case modeDev:
		port := serialmux.NewMockPort()
		sim := &serialmux.Simulator{
			Variant:    v,
			Interval:   devInterval,
			FrameEvery: devFrameEvery,
			FrameSize:  devFrameSize,
			Clock:      e.Clock,
		}
		simCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			sim.Run(simCtx, port)
		}()
		log.Printf("simulating %s device every %s", v.Name, devInterval)
		return &device{
			port:     port,
			name:     "simulator",
			eofIsEnd: true,
			stop:     func() { cancel(); <-done },
		}, nil

	case modeReplay:
		data, err := e.FS.ReadFile(e.ReplayPath)
		if err != nil {
			return nil, fmt.Errorf("read replay file: %w", err)
		}
		port := serialmux.NewMockPort()
		port.Feed(data)
		port.EndInput()
		log.Printf("replaying %d bytes from %s", len(data), e.ReplayPath)
		return &device{port: port, name: "replay:" + e.ReplayPath, eofIsEnd: true}, nil
	}

	opts, err := cfg.PortOptions()
	if err != nil {
		return nil, err
	}
	port, err := e.Open(cfg.Serial.Path, opts)
	if err != nil {
		return nil, err
	}
	log.Printf("initialized device %s (%s)", cfg.Serial.Path, opts)
	if settle := cfg.Serial.Settle.Duration; settle > 0 {
		monitoring.Debugf("waiting %s for the device to settle", settle)
		e.Clock.Sleep(settle)
	}
	return &device{port: port, name: cfg.Serial.Path}, nil
}

func (d *device) close() {
	d.port.Close()
	if d.stop != nil {
		d.stop()
	}
}

// outputs are the sinks opened for one run.
type outputs struct {
	sinks  capture.Sinks
	csv    *sink.CSVTable
	db     *db.DB
	store  *db.SessionStore
	frames *sink.FrameDir
}

func openOutputs(cfg *config.CaptureConfig, v protocol.Variant, e env, info db.SessionInfo) (*outputs, error) {
	out := &outputs{}
	var tables []capture.TableSink

	if name := cfg.OutputPath(cfg.Output.CSV); name != "" {
		t, err := sink.NewCSVTable(e.FS, name)
		if err != nil {
			return nil, err
		}
		out.csv = t
		tables = append(tables, t)
	}

	if name := cfg.OutputPath(cfg.Output.DB); name != "" {
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			out.close()
			return nil, err
		}
		database, err := db.NewDB(name)
		if err != nil {
			out.close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		out.db = database
		store, err := database.StartSession(info)
		if err != nil {
			out.close()
			return nil, err
		}
		out.store = store
		tables = append(tables, store)
		out.sinks.Events = store
	}

	if v.FramesEnabled() {
		if dir := cfg.OutputPath(cfg.Output.FramesDir); dir != "" {
			frames, err := sink.NewFrameDir(e.FS, dir, cfg.Output.FramePrefix, cfg.Output.FrameExt)
			if err != nil {
				out.close()
				return nil, err
			}
			out.frames = frames
		}
		switch {
		case out.frames != nil && out.store != nil:
			out.sinks.Blobs = sink.IndexedFrames(out.frames, out.store)
		case out.frames != nil:
			out.sinks.Blobs = out.frames
		case out.store != nil:
			out.sinks.Blobs = sink.IndexedFrames(nil, out.store)
		}
	}

	if len(tables) > 0 {
		out.sinks.Table = sink.Tee(tables...)
	}
	return out, nil
}

func (o *outputs) close() {
	if o.csv != nil {
		if err := o.csv.Close(); err != nil {
			log.Printf("failed to close %s: %v", o.csv.Path(), err)
		}
	}
	if o.db != nil {
		if err := o.db.Close(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
	}
}

// run captures from the configured device until ctx is cancelled, the input
// ends, or the device fails.
func run(ctx context.Context, cfg *config.CaptureConfig, e env) (capture.Stats, error) {
	v, err := cfg.Variant()
	if err != nil {
		return capture.Stats{}, err
	}

	id := capture.NewSessionID()
	dev, err := openDevice(ctx, cfg, v, e)
	if err != nil {
		return capture.Stats{}, err
	}

	out, err := openOutputs(cfg, v, e, db.SessionInfo{ID: id, Variant: v.Name, Port: dev.name, StartedAt: e.Clock.Now()})
	if err != nil {
		dev.close()
		return capture.Stats{}, err
	}
	defer out.close()

	sess, err := capture.NewSession(serialmux.NewSource(dev.port, cfg.Serial.ReadTimeout.Duration), v, out.sinks, capture.Config{
		ID:               id,
		ReadTimeout:      cfg.Serial.ReadTimeout.Duration,
		ProgressEvery:    cfg.Progress.Every,
		ProgressInterval: cfg.Progress.Interval.Duration,
		StatsWindow:      cfg.Progress.StatsWindow,
		StopOnComplete:   cfg.Progress.StopOnComplete,
		Clock:            e.Clock,
	})
	if err != nil {
		dev.close()
		return capture.Stats{}, err
	}

	var wg sync.WaitGroup
	serveCtx, stopServe := context.WithCancel(ctx)
	if cfg.Debug.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		sess.AttachAdminRoutes(mux)
		if out.db != nil {
			if err := out.db.AttachAdminRoutes(mux); err != nil {
				log.Printf("database admin routes disabled: %v", err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(serveCtx, cfg.Debug.Listen, mux)
		}()
	}

	// the simulator reports completion and ends its input once ctx is done,
	// so in dev mode the session drains it instead of stopping at once
	runCtx := ctx
	if e.Mode == modeDev {
		runCtx = context.WithoutCancel(ctx)
	}
	stats, err := sess.Run(runCtx)
	if err != nil && dev.eofIsEnd && errors.Is(err, io.EOF) {
		err = nil
	}
	if dev.stop != nil {
		dev.stop()
	}

	stopServe()
	wg.Wait()

	if out.store != nil {
		if ferr := out.store.Finish(stats, e.Clock.Now()); ferr != nil {
			log.Printf("failed to record session summary: %v", ferr)
		}
	}
	return stats, err
}

func serveDebug(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("debug server listening on %s", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}
