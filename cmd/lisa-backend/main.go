// ABOUTME: Entry point for the lisa-backend management server
// ABOUTME: Orchestrates agent configuration, builds, deployments, and heartbeats

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/lisa-sim/lisa-backend/internal/agentcfg"
	"github.com/lisa-sim/lisa-backend/internal/auth"
	"github.com/lisa-sim/lisa-backend/internal/build"
	"github.com/lisa-sim/lisa-backend/internal/config"
	"github.com/lisa-sim/lisa-backend/internal/deploy"
	"github.com/lisa-sim/lisa-backend/internal/heartbeat"
	"github.com/lisa-sim/lisa-backend/internal/server"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ _                _                _                  _
| (_)___  __ _     | |__   __ _  ___| | _____ _ __   __| |
| | / __|/ _' |____| '_ \ / _' |/ __| |/ / _ \ '_ \ / _' |
| | \__ \ (_| |____| |_) | (_| | (__|   <  __/ | | | (_| |
|_|_|___/\__,_|    |_.__/ \__,_|\___|_|\_\___|_| |_|\__,_|
`

// getConfigPath returns the path to the backend config file.
// Priority: LISA_CONFIG env var > XDG_CONFIG_HOME/lisa/backend.yaml > ~/.config/lisa/backend.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LISA_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "backend.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "lisa", "backend.yaml")
}

// getDataPath returns the path to the lisa data directory.
// Priority: XDG_DATA_HOME/lisa > ~/.local/share/lisa
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "lisa")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: lisa-backend <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                 Start the management server")
		fmt.Println("  init                  Write a starter config file")
		fmt.Println("  token --subject NAME  Generate an operator API token")
		fmt.Println("  health                Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
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
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Callback:  %s\n", cfg.Server.CallbackURL)
	fmt.Println()

	logger.Info("starting lisa-backend",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	gen := agentcfg.NewGenerator(cfg.Server.CallbackURL, cfg.Heartbeat.Interval)

	builds := build.NewOrchestrator(st, gen,
		build.NewExecBuilder(cfg.Build.BuilderPath),
		cfg.Build.Workspace, cfg.Build.ArtifactDir)

	deployer := deploy.NewDeployer(st,
		deploy.NewSSHDialer(cfg.Deploy.DialTimeout),
		cfg.Deploy.RemoteDir, cfg.Deploy.ServiceName)

	tracker := heartbeat.NewTracker(st, cfg.Heartbeat.Interval,
		cfg.Heartbeat.RatePerSecond, cfg.Heartbeat.RateBurst)

	hub := server.NewHub()
	tracker.SetNotifier(hub.Broadcast)

	monitor := heartbeat.NewMonitor(st, cfg.Heartbeat.OfflineAfter, cfg.Heartbeat.MonitorInterval)

	srv := server.New(cfg, st, verifier, builds, deployer, tracker, gen, hub)

	var wg sync.WaitGroup
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(monitorCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stopMonitor()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	// Let in-flight builds record their outcome before the store closes.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Build.DrainTimeout)
	defer cancelDrain()
	if err := builds.Wait(drainCtx); err != nil {
		logger.Warn("build drain timed out", "error", err)
	}

	wg.Wait()
	logger.Info("stopped")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

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

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/health", cfg.Server.HTTPAddr)
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

	fmt.Println(string(body))
	return nil
}

// runToken mints a signed operator token against the configured JWT secret.
// Supports both "--subject value" and "--subject=value" formats.
func runToken() error {
	var subject string
	ttl := 30 * 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("invalid --ttl: %w", err)
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured")
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// runInit writes a starter config with fresh random secrets. It refuses to
// overwrite an existing file.
func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "backend.db")

	green := color.New(color.FgGreen)

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	jwtSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	heartbeatKey, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating heartbeat key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# lisa-backend configuration
# Generated by lisa-backend init

server:
  http_addr: "localhost:8080"
  callback_url: "http://localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  heartbeat_key: "%s"

build:
  builder_path: "lisa-builder"
  workspace: "/tmp/lisa_builds"
  artifact_dir: "%s"

deploy:
  remote_dir: "/opt/lisa_agent"
  service_name: "lisa-agent"
  dial_timeout: "10s"

heartbeat:
  interval: "1m"
  offline_after: "30m"
  monitor_interval: "1m"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"
`, dbPath, jwtSecret, heartbeatKey, filepath.Join(dataPath, "artifacts"))

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green.Printf("  ✓ Created config: %s\n", configPath)
	green.Printf("  ✓ Data directory: %s\n", dataPath)
	fmt.Println()
	fmt.Println("To start the server:")
	fmt.Println("  lisa-backend serve")
	fmt.Println()
	fmt.Println("To mint an operator token:")
	fmt.Println("  lisa-backend token --subject \"Your Name\"")

	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
