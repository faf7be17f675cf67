package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default configuration values (local development)
const (
	DefaultAddr               = ":8080"
	DefaultOrigin             = "http://localhost:8080"
	DefaultServerURL          = "ws://localhost:8080/ws"
	DefaultSTUN               = "stun:stun.l.google.com:19302"
	DefaultNegotiationTimeout = 30 * time.Second
)

// Config holds application configuration
type Config struct {
	// Addr is the listen address of the coordinator server
	Addr string

	// Origin is the base URL room links are built on
	Origin string

	// ServerURL is the WebSocket endpoint clients dial
	ServerURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// NegotiationTimeout bounds how long a peer link may take to connect.
	// Negative disables the deadline.
	NegotiationTimeout time.Duration
}

// Options for loading config with CLI flag overrides
type Options struct {
	Addr               string
	Origin             string
	ServerURL          string
	STUNServer         string
	TURNServer         string
	TURNUser           string
	TURNPass           string
	ForceRelay         bool
	NegotiationTimeout time.Duration
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (a .env file in the working directory is read first)
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("Could not read .env file", "error", err)
	}

	cfg := &Config{
		Addr:       pick(opts.Addr, "ADDR", DefaultAddr),
		Origin:     pick(opts.Origin, "ORIGIN", DefaultOrigin),
		ServerURL:  pick(opts.ServerURL, "SERVER_URL", DefaultServerURL),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay || os.Getenv("FORCE_RELAY") == "true",
	}

	cfg.NegotiationTimeout = opts.NegotiationTimeout
	if cfg.NegotiationTimeout == 0 {
		if v := os.Getenv("NEGOTIATION_TIMEOUT"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid NEGOTIATION_TIMEOUT %q: %w", v, err)
			}
			cfg.NegotiationTimeout = d
		}
	}
	if cfg.NegotiationTimeout == 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}

	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", cfg.ServerURL, err)
	}
	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("relay mode requires a TURN server")
	}

	return cfg, nil
}

func pick(flag, env, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// APIURL maps the WebSocket endpoint onto the server's HTTP API.
func (c *Config) APIURL(path string) string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = path
	u.RawQuery = ""
	return u.String()
}
