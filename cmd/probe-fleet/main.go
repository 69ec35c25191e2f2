// ABOUTME: Entry point for the probe-fleet control plane
// ABOUTME: Serves health, metrics and the schedule dispatcher, plus one-shot admin commands

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/probe-fleet/internal/config"
	"github.com/2389/probe-fleet/internal/fleet"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _                 __ _           _
 _ __  _ __ ___ | |__   ___       / _| | ___  ___| |_
| '_ \| '__/ _ \| '_ \ / _ \_____| |_| |/ _ \/ _ \ __|
| |_) | | | (_) | |_) |  __/_____|  _| |  __/  __/ |_
| .__/|_|  \___/|_.__/ \___|     |_| |_|\___|\___|\__|
|_|
`

// getConfigPath returns the path to the fleet config file.
// Priority: PROBE_FLEET_CONFIG env var > XDG_CONFIG_HOME/probe-fleet/config.yaml > ~/.config/probe-fleet/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PROBE_FLEET_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "probe-fleet", "config.yaml")
}

// getDataPath returns the probe-fleet data directory.
// Priority: XDG_DATA_HOME/probe-fleet > ~/.local/share/probe-fleet
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "probe-fleet")
}

func usage() {
	fmt.Println("Usage: probe-fleet <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                   Start the control plane")
	fmt.Println("  init [--force]                          Write a default config file")
	fmt.Println("  register FILE [--actor A] [--rollout]   Register a probe from a TOML manifest")
	fmt.Println("  probes [--status S] [--search Q]        List registered probes")
	fmt.Println("  activate PROBE | deprecate PROBE        Change a probe's registry status")
	fmt.Println("  deploy PROBE --version V --env E        Plan (or --rollout) a deployment")
	fmt.Println("  transition DEPLOYMENT STATUS            Move a deployment to a new status")
	fmt.Println("  schedule PROBE --type T --expr X        Create a schedule")
	fmt.Println("  run PROBE [--trigger T]                 Trigger an ad-hoc run")
	fmt.Println("  window --type T --expr X                Preview the next run window")
	fmt.Println("  heartbeat PROBE [--status S]            Record a heartbeat")
	fmt.Println("  config PROBE [--env E]                  Show a probe's effective config")
	fmt.Println("  credential PROBE                        Issue a signed probe credential")
	fmt.Println("  health                                  Check a running server")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "health":
		err = runHealth(ctx)
	case "window":
		err = runWindow(args)
	case "register", "probes", "activate", "deprecate", "deploy", "transition",
		"schedule", "run", "heartbeat", "config", "credential":
		err = withFleet(ctx, func(f *fleet.Fleet) error {
			return runAdmin(ctx, f, os.Args[1], args)
		})
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// withFleet opens the fleet for a one-shot command and always shuts it down.
func withFleet(ctx context.Context, fn func(*fleet.Fleet) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	f, err := fleet.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening fleet: %w", err)
	}
	defer func() {
		if cerr := f.Shutdown(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(f)
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("SDK:       %s (target %s)\n", cfg.Probes.SDKVersionMin, cfg.Probes.SDKVersionTarget)
	green.Print("    ▶ ")
	fmt.Printf("Dispatch:  ")
	if cfg.Dispatch.Enabled {
		cyan.Printf("every %s", cfg.Dispatch.Interval)
	} else {
		yellow.Print("disabled")
	}
	fmt.Println()
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting probe-fleet",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"dispatch", cfg.Dispatch.Enabled,
	)

	f, err := fleet.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating fleet: %w", err)
	}

	return f.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{mu: &sync.Mutex{}, level: level}
	}

	return slog.New(handler)
}

// colorHandler writes colorized log lines to stderr.
type colorHandler struct {
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprint(os.Stderr, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{mu: h.mu, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{mu: h.mu, level: h.level, attrs: h.attrs, groups: newGroups}
}
