// ABOUTME: Entry point for the redub CLI
// ABOUTME: Runs relay servers, chat nodes, health checks, config setup and token minting

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/redub/internal/channel"
	"github.com/2389/redub/internal/config"
	"github.com/2389/redub/internal/node"
	"github.com/2389/redub/internal/transport/relay"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
               _       _
  _ __ ___  __| |_   _| |__
 | '__/ _ \/ _' | | | | '_ \
 | | |  __/ (_| | |_| | |_) |
 |_|  \___|\__,_|\__,_|_.__/
`

// getConfigPath returns the path to the redub config file.
// Priority: REDUB_CONFIG env var > XDG_CONFIG_HOME/redub/redub.yaml > ~/.config/redub/redub.yaml
func getConfigPath() string {
	if envPath := os.Getenv("REDUB_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "redub.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "redub", "redub.yaml")
}

// loadConfig reads the config file, or falls back to defaults plus REDUB_
// overrides when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.FromEnv()
	}
	return cfg, err
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: redub <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  relay                       Start a relay server")
		fmt.Println("  chat                        Send stdin lines and print received messages")
		fmt.Println("  health                      Check relay health")
		fmt.Println("  init                        Create a new config file interactively")
		fmt.Println("  token --principal NAME      Mint a relay access token")
		os.Exit(1)
	}

	// A missing .env is fine
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "relay":
		err = runRelay(ctx)
	case "chat":
		err = runChat(ctx)
	case "health":
		err = runHealth(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRelay(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Relay.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Relay.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Print("Auth:      ")
	if cfg.Relay.JWTSecret != "" {
		cyan.Println("jwt")
	} else {
		yellow.Println("disabled")
	}
	if cfg.Relay.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailscale: ")
		cyan.Println(cfg.Relay.Tailscale.Hostname)
	}
	fmt.Println()

	logger.Info("starting redub relay",
		"config", configPath,
		"grpc_addr", cfg.Relay.GRPCAddr,
		"http_addr", cfg.Relay.HTTPAddr,
		"tailscale", cfg.Relay.Tailscale.Enabled,
	)

	return node.NewRelayServer(cfg.Relay, logger).Run(ctx)
}

func runChat(ctx context.Context) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr so stdout carries only messages
	logger := setupLogger(cfg.Logging, os.Stderr)

	n, err := node.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	defer n.Close()

	// Callbacks run on transport goroutines; one write per line keeps them whole
	n.Channel.OnMessage(func(m channel.Message) {
		fmt.Print(formatMessage(m))
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// Give in-flight echoes a moment before shutting down
				time.Sleep(250 * time.Millisecond)
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			n.Channel.Send(ctx, line)
		}
	}
}

func formatMessage(m channel.Message) string {
	prefix := color.HiBlackString("%s %s", m.ReceivedAt.Format("15:04:05"), shortID(m.ID))
	return fmt.Sprintf("%s %v\n", prefix, m.Payload)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Relay.HTTPAddr)
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

func runToken(args []string) error {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	principal := flags.String("principal", "", "principal name carried in the token")
	ttl := flags.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *principal == "" {
		return errors.New("--principal is required")
	}

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Relay.JWTSecret == "" {
		return errors.New("relay.jwt_secret is not configured")
	}

	token, err := relay.NewJWTVerifier([]byte(cfg.Relay.JWTSecret)).Generate(*principal, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("redub configuration setup")
	fmt.Println("=========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.Default()

	fmt.Println("\n--- Channel ---")
	cfg.Channel.TimeoutRaw = prompt(reader, "Dedup timeout (0s disables expiry)", cfg.Channel.TimeoutRaw)

	fmt.Println("\n--- Transports ---")
	cfg.Transports.Memory.Enabled = isYes(prompt(reader, "Enable in-process loopback?", "yes"))

	if isYes(prompt(reader, "Enable Redis?", "no")) {
		cfg.Transports.Redis.Enabled = true
		cfg.Transports.Redis.URL = prompt(reader, "Redis URL", cfg.Transports.Redis.URL)
		cfg.Transports.Redis.Topic = prompt(reader, "Redis topic", cfg.Transports.Redis.Topic)
	}

	if isYes(prompt(reader, "Connect to relays?", "no")) {
		cfg.Transports.Relay.Enabled = true
		addrs := prompt(reader, "Relay addresses (comma separated)", "localhost:50061")
		for _, a := range strings.Split(addrs, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.Transports.Relay.Addrs = append(cfg.Transports.Relay.Addrs, a)
			}
		}
		cfg.Transports.Relay.Token = prompt(reader, "Relay token (leave empty if auth is off)", "")
	}

	if isYes(prompt(reader, "Enable SQLite mailbox?", "no")) {
		cfg.Transports.SQLite.Enabled = true
		cfg.Transports.SQLite.Path = prompt(reader, "Mailbox path", cfg.Transports.SQLite.Path)
	}

	fmt.Println("\n--- Relay Server ---")
	cfg.Relay.GRPCAddr = prompt(reader, "gRPC address", cfg.Relay.GRPCAddr)
	cfg.Relay.HTTPAddr = prompt(reader, "HTTP address", cfg.Relay.HTTPAddr)
	cfg.Relay.JWTSecret = prompt(reader, "JWT secret (leave empty to disable auth)", "")
	if isYes(prompt(reader, "Serve the relay on a tailnet?", "no")) {
		cfg.Relay.Tailscale.Enabled = true
		cfg.Relay.Tailscale.Hostname = prompt(reader, "Tailscale hostname", cfg.Relay.Tailscale.Hostname)
		cfg.Relay.Tailscale.AuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		cfg.Relay.Tailscale.Ephemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
	}

	fmt.Println("\n--- Logging ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", cfg.Logging.Format)

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}

	var out strings.Builder
	out.WriteString("# redub configuration\n")
	out.WriteString("# Generated by redub init\n\n")
	out.Write(data)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(out.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Parse it back to validate
	if _, err := config.Load(outputFile); err != nil {
		return fmt.Errorf("config written to %s is invalid: %w", outputFile, err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start a relay:")
	fmt.Println("  redub relay")
	fmt.Println("To chat:")
	fmt.Println("  redub chat")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
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
