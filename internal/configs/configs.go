/*
Package configs is responsible for loading and parsing the application's configuration settings.

Both binaries read operating system environment variables (optionally seeded from a .env file
by the caller). The client needs the relay server location and its reconnection and throttling
policy; the relay server needs its port, CORS origins, JWT secret and database location.
*/
package configs

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig contains all configuration parameters required by the chat client.
type ClientConfig struct {
	// General Settings
	Environment string

	// ServerURL is the HTTP base URL of the relay server (e.g. http://localhost:8080).
	ServerURL string

	// WebSocketPath is the path of the persistent channel endpoint on ServerURL.
	WebSocketPath string

	// Reconnection Settings
	ReconnectBase       time.Duration
	ReconnectCap        time.Duration
	ReconnectMaxRetries uint64

	// FetchTimeout bounds how long a history request waits for its reply.
	FetchTimeout time.Duration

	// Outgoing message throttle (messages per second and burst).
	SendRate  float64
	SendBurst int
}

// ServerConfig contains all configuration parameters required by the relay server.
type ServerConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string

	// Database Settings. An empty DSN selects the in-memory store.
	DatabaseDSN string
}

// IsDevelopment reports whether the client runs in development mode.
func (c *ClientConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsDevelopment reports whether the server runs in development mode.
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// WebSocketURL derives the ws:// or wss:// URL of the persistent channel from ServerURL.
func (c *ClientConfig) WebSocketURL() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + c.WebSocketPath
	return u.String(), nil
}

// LoadClientConfig reads and parses the client configuration from environment variables.
// It provides default values for each configuration item and performs type conversions and validation.
func LoadClientConfig() (*ClientConfig, error) {
	cfg := &ClientConfig{}

	cfg.Environment = envOrDefault("ENVIRONMENT", "development")

	// --- Server Location ---
	cfg.ServerURL = strings.TrimSuffix(envOrDefault("CHAT_SERVER_URL", "http://localhost:8080"), "/")
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid CHAT_SERVER_URL environment variable %q", cfg.ServerURL)
	}

	cfg.WebSocketPath = envOrDefault("CHAT_WS_PATH", "/ws")
	if !strings.HasPrefix(cfg.WebSocketPath, "/") {
		return nil, fmt.Errorf("CHAT_WS_PATH must start with '/', got %q", cfg.WebSocketPath)
	}

	// --- Reconnection Settings ---
	if cfg.ReconnectBase, err = durationEnv("RECONNECT_BASE", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ReconnectCap, err = durationEnv("RECONNECT_CAP", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		return nil, fmt.Errorf("RECONNECT_CAP (%s) must not be smaller than RECONNECT_BASE (%s)", cfg.ReconnectCap, cfg.ReconnectBase)
	}

	retries, err := strconv.ParseUint(envOrDefault("RECONNECT_MAX_RETRIES", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_MAX_RETRIES environment variable: %w", err)
	}
	cfg.ReconnectMaxRetries = retries

	if cfg.FetchTimeout, err = durationEnv("FETCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// --- Send Throttle ---
	sendRate, err := strconv.ParseFloat(envOrDefault("SEND_RATE", "5"), 64)
	if err != nil || sendRate <= 0 {
		return nil, fmt.Errorf("invalid SEND_RATE environment variable %q", os.Getenv("SEND_RATE"))
	}
	cfg.SendRate = sendRate

	sendBurst, err := strconv.Atoi(envOrDefault("SEND_BURST", "10"))
	if err != nil || sendBurst < 1 {
		return nil, fmt.Errorf("invalid SEND_BURST environment variable %q", os.Getenv("SEND_BURST"))
	}
	cfg.SendBurst = sendBurst

	return cfg, nil
}

// LoadServerConfig reads and parses the relay server configuration from environment variables.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}

	// --- General Server Settings ---
	cfg.Environment = envOrDefault("ENVIRONMENT", "development")

	port, err := strconv.Atoi(envOrDefault("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
	}
	cfg.Port = port

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	// --- Security Settings ---
	cfg.AllowedOrigins = []string{}
	for _, origin := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", cfg.Environment)
		}
		jwtSecret = "your_default_insecure_secret_key_change_me"
	}
	cfg.JWTSecret = jwtSecret

	// --- Database Settings ---
	cfg.DatabaseDSN = os.Getenv("DATABASE_URL")

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
