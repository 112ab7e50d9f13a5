// ABOUTME: Entry point for the transit-gateway protocol server.
// ABOUTME: Serves MTR next-train capabilities over both wire bindings.

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/transit-gateway/internal/auth"
	"github.com/2389/transit-gateway/internal/capability"
	"github.com/2389/transit-gateway/internal/config"
	"github.com/2389/transit-gateway/internal/mtr"
	"github.com/2389/transit-gateway/internal/router"
	"github.com/2389/transit-gateway/internal/session"
	"github.com/2389/transit-gateway/internal/store"
	"github.com/2389/transit-gateway/internal/transport"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _                       _ _                     _
 | |_ _ __ __ _ _ __  ___(_) |_       __ _  __ _| |_ _____      ____ _ _   _
 | __| '__/ _' | '_ \/ __| | __|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | |_| | | (_| | | | \__ \ | ||_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
  \__|_|  \__,_|_| |_|___/_|\__|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                     |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: TRANSIT_CONFIG env var > XDG_CONFIG_HOME/transit/gateway.yaml > ~/.config/transit/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TRANSIT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "transit", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: transit-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve               Start the gateway server")
		fmt.Println("  init                Create a new config file interactively")
		fmt.Println("  hash-token <token>  Print the bcrypt hash of a pre-shared token")
		fmt.Println("  health              Check gateway health")
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
	case "hash-token":
		err = runHashToken()
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

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting transit-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	// usage store
	var usage store.Store
	if cfg.Database.Path != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("opening usage store: %w", err)
		}
		usage = sqlStore
	} else {
		usage = store.NopStore{}
	}
	defer usage.Close()

	// capability registry with the next-train pack
	registry := capability.NewRegistry(logger)
	pack := mtr.NewPack(mtr.NewClient(cfg.MTR.APIBaseURL, logger), logger)
	if cfg.MTR.AliasFile != "" {
		if err := pack.LoadAliasOverlay(cfg.MTR.AliasFile); err != nil {
			return fmt.Errorf("loading alias overlay: %w", err)
		}
	}
	if err := pack.Register(registry); err != nil {
		return fmt.Errorf("registering capabilities: %w", err)
	}
	registry.Freeze()

	// sessions and background sweeper
	sessions := session.NewManager(logger)
	go sessions.Run(ctx, cfg.Sessions.SweepInterval, cfg.Sessions.MaxIdle)

	// optional transport auth
	var verifier auth.TokenVerifier
	switch cfg.Auth.Mode {
	case "jwt":
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	case "token":
		verifier = auth.NewStaticVerifier(cfg.Auth.TokenHash)
	}

	rt, err := router.New(router.Config{
		Registry:      registry,
		Sessions:      sessions,
		Usage:         usage,
		Logger:        logger,
		ServerName:    "transit-gateway",
		ServerVersion: version,
	})
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	srv, err := transport.NewServer(transport.Config{
		Router:            rt,
		Logger:            logger,
		Usage:             usage,
		Verifier:          verifier,
		RequireAuth:       verifier != nil,
		BaseURL:           cfg.Server.BaseURL,
		HandshakeTimeout:  cfg.Transport.HandshakeTimeout,
		HeartbeatInterval: cfg.Transport.HeartbeatInterval,
		ServerName:        "transit-gateway",
		ServerVersion:     version,
	})
	if err != nil {
		return fmt.Errorf("creating transport server: %w", err)
	}

	ln, cleanup, err := setupListener(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return srv.Start(ctx, ln)
}

// setupListener picks between a plain TCP listener and a Tailscale
// node depending on configuration.
func setupListener(ctx context.Context, cfg *config.Config, logger *slog.Logger) (net.Listener, func(), error) {
	if cfg.Tailscale.Enabled {
		return setupTailscaleListener(ctx, cfg.Tailscale, logger)
	}
	ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on %s: %w", cfg.Server.HTTPAddr, err)
	}
	return ln, func() {}, nil
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

// runHashToken prints the bcrypt hash of a pre-shared token so it can
// be placed in auth.token_hash.
func runHashToken() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: transit-gateway hash-token <token>")
	}
	hash, err := auth.HashToken(os.Args[2])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if addr == "" {
		addr = cfg.Tailscale.Hostname
	}
	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("transit-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite usage database path (empty to disable)", "")

	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "transit-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for TS_AUTHKEY)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
		funnelStr := prompt(reader, "Enable Funnel (public HTTPS)?", "no")
		tsFunnel = strings.ToLower(funnelStr) == "yes" || strings.ToLower(funnelStr) == "y"
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# transit-gateway configuration\n")
	cfg.WriteString("# Generated by transit-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	if dbPath != "" {
		cfg.WriteString("database:\n")
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  sweep_interval: \"5m\"\n")
	cfg.WriteString("  max_idle: \"1h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("transport:\n")
	cfg.WriteString("  handshake_timeout: \"10s\"\n")
	cfg.WriteString("  heartbeat_interval: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  transit-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
