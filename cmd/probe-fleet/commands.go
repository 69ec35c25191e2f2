// ABOUTME: One-shot probe-fleet admin commands built on the fleet facade
// ABOUTME: Covers init, registration, deployments, schedules, heartbeats and health checks

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/juju/clock"

	"github.com/2389/probe-fleet/internal/deploy"
	"github.com/2389/probe-fleet/internal/fleet"
	"github.com/2389/probe-fleet/internal/health"
	"github.com/2389/probe-fleet/internal/manifest"
	"github.com/2389/probe-fleet/internal/registry"
	"github.com/2389/probe-fleet/internal/schedule"
	"github.com/2389/probe-fleet/internal/store"
)

var (
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
	yellow = color.New(color.FgYellow)
	gray   = color.New(color.FgHiBlack)
)

// defaultActor is recorded when --actor is not given.
func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func runAdmin(ctx context.Context, f *fleet.Fleet, cmd string, raw []string) error {
	args, err := parseArgs(raw)
	if err != nil {
		return err
	}
	actor := args.get("actor", defaultActor())

	switch cmd {
	case "register":
		return runRegister(ctx, f, args, actor)
	case "probes":
		return runProbes(ctx, f, args)
	case "activate", "deprecate":
		return runStatus(ctx, f, cmd, args, actor)
	case "deploy":
		return runDeploy(ctx, f, args, actor)
	case "transition":
		return runTransition(ctx, f, args, actor)
	case "schedule":
		return runSchedule(ctx, f, args, actor)
	case "run":
		return runTrigger(ctx, f, args, actor)
	case "heartbeat":
		return runHeartbeat(ctx, f, args)
	case "config":
		return runEffectiveConfig(ctx, f, args)
	case "credential":
		return runCredential(ctx, f, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func runRegister(ctx context.Context, f *fleet.Fleet, args *parsedArgs, actor string) error {
	path, err := args.arg(0, "manifest path")
	if err != nil {
		return err
	}
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}

	res, err := f.ApplyManifest(ctx, m, actor, args.bool("rollout"))
	if res != nil && res.Probe != nil {
		printProbe(res.Probe)
		for _, s := range res.Schedules {
			printSchedule(s)
		}
		if res.Deployment != nil {
			printDeployment(res.Deployment)
		}
	}
	return err
}

func runProbes(ctx context.Context, f *fleet.Fleet, args *parsedArgs) error {
	limit, err := args.int("limit", 0)
	if err != nil {
		return err
	}
	offset, err := args.int("offset", 0)
	if err != nil {
		return err
	}

	res, err := f.ListProbes(ctx, registry.ListQuery{
		Status:       args.get("status", ""),
		FrameworkIDs: args.list("framework"),
		Owner:        args.get("owner", ""),
		Search:       args.get("search", ""),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return err
	}
	if args.bool("json") {
		return printJSON(res)
	}

	if len(res.Probes) == 0 {
		gray.Println("  no probes")
		return nil
	}
	for _, p := range res.Probes {
		fmt.Printf("  %-36s %-10s %s\n", p.Slug, statusColor(string(p.Status)).Sprint(p.Status), p.OwnerEmail)
	}
	gray.Printf("\n  %d of %d", len(res.Probes), res.Total)
	if res.HasMore {
		gray.Printf(" (next --offset %d)", res.Offset+len(res.Probes))
	}
	fmt.Println()
	return nil
}

func runStatus(ctx context.Context, f *fleet.Fleet, cmd string, args *parsedArgs, actor string) error {
	id, err := args.arg(0, "probe id or slug")
	if err != nil {
		return err
	}

	var probe *store.Probe
	if cmd == "activate" {
		probe, err = f.ActivateProbe(ctx, id, actor)
	} else {
		probe, err = f.DeprecateProbe(ctx, id, actor)
	}
	if err != nil {
		return err
	}
	printProbe(probe)
	return nil
}

func runDeploy(ctx context.Context, f *fleet.Fleet, args *parsedArgs, actor string) error {
	id, err := args.arg(0, "probe id or slug")
	if err != nil {
		return err
	}
	probe, err := f.GetProbe(ctx, id)
	if err != nil {
		return err
	}

	req := deploy.PlanRequest{
		Version:     args.get("version", ""),
		Environment: args.get("env", ""),
		Summary:     args.get("summary", ""),
		OverlayID:   args.get("overlay", ""),
		Actor:       actor,
	}
	if _, ok := args.flags["canary"]; ok {
		pct, err := args.int("canary", 0)
		if err != nil {
			return err
		}
		req.CanaryPercent = &pct
	}

	var d *store.Deployment
	if args.bool("rollout") {
		d, err = f.Rollout(ctx, probe.ID, req)
	} else {
		d, err = f.PlanDeployment(ctx, probe.ID, req)
	}
	if err != nil {
		return err
	}
	printDeployment(d)
	return nil
}

func runTransition(ctx context.Context, f *fleet.Fleet, args *parsedArgs, actor string) error {
	id, err := args.arg(0, "deployment id")
	if err != nil {
		return err
	}
	status, err := args.arg(1, "status")
	if err != nil {
		return err
	}

	d, err := f.Transition(ctx, id, status, deploy.TransitionOptions{
		Summary: args.get("summary", ""),
		Reason:  args.get("reason", ""),
		Actor:   actor,
	})
	if err != nil {
		return err
	}
	printDeployment(d)
	return nil
}

func runSchedule(ctx context.Context, f *fleet.Fleet, args *parsedArgs, actor string) error {
	id, err := args.arg(0, "probe id or slug")
	if err != nil {
		return err
	}
	probe, err := f.GetProbe(ctx, id)
	if err != nil {
		return err
	}

	s, err := f.CreateSchedule(ctx, probe.ID, schedule.CreateRequest{
		Type:       args.get("type", ""),
		Expression: args.get("expr", ""),
		Priority:   args.get("priority", ""),
		Controls:   args.list("controls"),
		Actor:      actor,
	})
	if err != nil {
		return err
	}
	printSchedule(s)
	return nil
}

func runTrigger(ctx context.Context, f *fleet.Fleet, args *parsedArgs, actor string) error {
	id, err := args.arg(0, "probe id or slug")
	if err != nil {
		return err
	}
	probe, err := f.GetProbe(ctx, id)
	if err != nil {
		return err
	}

	receipt, err := f.TriggerRun(ctx, probe.ID, schedule.RunRequest{
		Trigger:  args.get("trigger", ""),
		Controls: args.list("controls"),
		Actor:    actor,
	})
	if err != nil {
		return err
	}
	green.Print("  ✓ ")
	fmt.Printf("run %s (%s) %s\n", receipt.RunID, receipt.Trigger, receipt.Status)
	return nil
}

func runHeartbeat(ctx context.Context, f *fleet.Fleet, args *parsedArgs) error {
	id, err := args.arg(0, "probe id or slug")
	if err != nil {
		return err
	}
	probe, err := f.GetProbe(ctx, id)
	if err != nil {
		return err
	}

	req := health.HeartbeatRequest{
		ProbeID:   probe.ID,
		Status:    args.get("status", string(health.StatusOperational)),
		ErrorCode: args.get("error", ""),
	}
	if _, ok := args.flags["latency"]; ok {
		ms, err := args.int("latency", 0)
		if err != nil {
			return err
		}
		lat := int64(ms)
		req.LatencyMs = &lat
	}

	summary, err := f.RecordHeartbeat(ctx, req)
	if err != nil {
		return err
	}
	if args.bool("json") {
		return printJSON(summary)
	}
	fmt.Printf("  %s  %s  failures(24h)=%d\n", probe.Slug,
		statusColor(string(summary.Status)).Sprint(summary.Status), summary.FailureCount24h)
	return nil
}

func runEffectiveConfig(ctx context.Context, f *fleet.Fleet, args *parsedArgs) error {
	id, err := args.arg(0, "probe id or slug")
	if err != nil {
		return err
	}
	cfg, err := f.EffectiveConfig(ctx, id, args.get("env", "default"))
	if err != nil {
		return err
	}
	return printJSON(cfg)
}

func runCredential(ctx context.Context, f *fleet.Fleet, args *parsedArgs) error {
	id, err := args.arg(0, "probe id or slug")
	if err != nil {
		return err
	}
	token, err := f.IssueCredential(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// runWindow previews a schedule window without opening the store.
func runWindow(raw []string) error {
	args, err := parseArgs(raw)
	if err != nil {
		return err
	}
	w := schedule.NewScheduler(clock.WallClock).DeriveNextWindow(schedule.Spec{
		Type:       args.get("type", ""),
		Expression: args.get("expr", ""),
	})
	return printJSON(w)
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is not configured")
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// defaultConfig renders the config written by init.
func defaultConfig(dbPath string) string {
	return fmt.Sprintf(`# probe-fleet configuration
# Generated by probe-fleet init

server:
  http_addr: "localhost:8090"

database:
  path: "%s"

probes:
  sdk_version_min: "1.0.0"
  sdk_version_target: "1.2.0"
  deployment_topic: "probe.rollouts"
  heartbeat_interval: "5m"
  heartbeat_grace: "10m"
  defaults:
    retries: 3

dispatch:
  enabled: true
  interval: "1m"
  batch_size: 100

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"

auth:
  credential_secret: "${PROBE_FLEET_CREDENTIAL_SECRET}"
  credential_ttl: "720h"
`, dbPath)
}

func runInit(raw []string) error {
	args, err := parseArgs(raw)
	if err != nil {
		return err
	}

	configPath := args.get("config", getConfigPath())
	dbPath := args.get("db", filepath.Join(getDataPath(), "fleet.db"))

	if _, err := os.Stat(configPath); err == nil && !args.bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig(dbPath)), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	green.Printf("  ✓ Created config: %s\n", configPath)
	green.Printf("  ✓ Database: %s\n", dbPath)
	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    probe-fleet register probe.toml   # register a probe")
	fmt.Println("    probe-fleet serve                 # start the control plane")
	return nil
}

func statusColor(status string) *color.Color {
	switch status {
	case "active", "operational", "completed":
		return green
	case "degraded", "draft", "pending", "in_progress":
		return yellow
	case "outage", "failed", "rolled_back":
		return color.New(color.FgRed)
	default:
		return gray
	}
}

func printProbe(p *store.Probe) {
	green.Print("  ✓ ")
	fmt.Printf("probe %s ", cyan.Sprint(p.Slug))
	fmt.Printf("[%s] ", statusColor(string(p.Status)).Sprint(p.Status))
	gray.Printf("id=%s sdk=%s..%s\n", p.ID, p.SDKVersionMin, p.SDKVersionTarget)
}

func printSchedule(s *store.Schedule) {
	green.Print("  ✓ ")
	fmt.Printf("schedule %s %s", s.Type, s.Expression)
	if s.NextRunAt != nil {
		gray.Printf(" next=%s", s.NextRunAt.Format("2006-01-02 15:04:05Z07:00"))
	}
	fmt.Println()
}

func printDeployment(d *store.Deployment) {
	green.Print("  ✓ ")
	fmt.Printf("deployment %s %s→%s ", d.ID, d.Version, d.Environment)
	fmt.Printf("[%s]\n", statusColor(string(d.Status)).Sprint(d.Status))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
