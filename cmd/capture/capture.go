package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/fusion.capture/internal/config"
	"github.com/banshee-data/fusion.capture/internal/db"
	"github.com/banshee-data/fusion.capture/internal/fsutil"
	"github.com/banshee-data/fusion.capture/internal/monitoring"
	"github.com/banshee-data/fusion.capture/internal/serialmux"
	"github.com/banshee-data/fusion.capture/internal/timeutil"
	"github.com/banshee-data/fusion.capture/internal/version"
)

var (
	configPath     = flag.String("config", "", "Path to a TOML capture config")
	port           = flag.String("port", "", "Serial port to use (ignored in dev and replay mode)")
	baud           = flag.Int("baud", 0, "Serial baud rate")
	variantName    = flag.String("variant", "", "Protocol variant: fusion, frames, pipe or stream")
	outDir         = flag.String("out", "", "Output directory for the CSV table, frames and database")
	dbPath         = flag.String("db", "", "sqlite database file, relative to -out; empty disables")
	devMode        = flag.Bool("dev", false, "Capture from a simulated device")
	replay         = flag.String("replay", "", "Replay a recorded byte stream instead of opening a port")
	listen         = flag.String("listen", "", "Debug HTTP listen address, e.g. localhost:8090")
	verbose        = flag.Bool("verbose", false, "Enable debug logging")
	stopOnComplete = flag.Bool("stop-on-complete", false, "Stop when the device reports completion")
	showVersion    = flag.Bool("version", false, "Print version information and exit")
	listPorts      = flag.Bool("list-ports", false, "List available serial ports and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: capture [flags]\n       capture [flags] migrate <up|down|status|help>\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("capture %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig(*configPath, setFlags(flag.CommandLine))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(os.Stdout, flag.Args()[1:], cfg.OutputPath(cfg.Output.DB)); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(2)
	}

	monitoring.SetVerbose(cfg.Debug.Verbose)

	e := env{
		FS:    fsutil.OSFileSystem{},
		Clock: timeutil.RealClock{},
		Open:  serialmux.OpenPort,
	}
	switch {
	case *replay != "":
		e.Mode, e.ReplayPath = modeReplay, *replay
	case *devMode:
		e.Mode = modeDev
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := run(ctx, cfg, e)
	fmt.Println(stats)
	if err != nil {
		log.Fatalf("capture failed: %v", err)
	}
}

// setFlags returns the names of the flags given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// loadConfig reads the config file, or the defaults when path is empty, and
// applies the flags that were set explicitly.
func loadConfig(path string, set map[string]bool) (*config.CaptureConfig, error) {
	cfg := config.DefaultCaptureConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadCaptureConfig(path); err != nil {
			return nil, err
		}
	}

	if set["port"] {
		cfg.Serial.Path = *port
	}
	if set["baud"] {
		cfg.Serial.BaudRate = *baud
	}
	if set["variant"] {
		cfg.Protocol.Variant = *variantName
	}
	if set["out"] {
		cfg.Output.Dir = *outDir
	}
	if set["db"] {
		cfg.Output.DB = *dbPath
	}
	if set["listen"] {
		cfg.Debug.Listen = *listen
	}
	if set["verbose"] {
		cfg.Debug.Verbose = *verbose
	}
	if set["stop-on-complete"] {
		cfg.Progress.StopOnComplete = *stopOnComplete
	}
	if *devMode || *replay != "" {
		// nothing to settle without a real port
		cfg.Serial.Settle = config.Duration{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
