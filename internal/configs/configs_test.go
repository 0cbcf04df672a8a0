package configs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/configs"
)

func TestLoadClientConfig_Defaults(t *testing.T) {
	for _, key := range []string{"ENVIRONMENT", "CHAT_SERVER_URL", "CHAT_WS_PATH", "RECONNECT_BASE", "RECONNECT_CAP",
		"RECONNECT_MAX_RETRIES", "FETCH_TIMEOUT", "SEND_RATE", "SEND_BURST"} {
		t.Setenv(key, "")
	}

	cfg, err := configs.LoadClientConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectBase)
	assert.Equal(t, 30*time.Second, cfg.ReconnectCap)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 10, cfg.SendBurst)

	wsURL, err := cfg.WebSocketURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", wsURL)
}

func TestLoadClientConfig_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("CHAT_SERVER_URL", "https://chat.example.com/relay/")
	t.Setenv("RECONNECT_BASE", "1s")
	t.Setenv("RECONNECT_CAP", "5s")
	t.Setenv("RECONNECT_MAX_RETRIES", "7")
	t.Setenv("SEND_RATE", "2.5")
	t.Setenv("SEND_BURST", "3")

	cfg, err := configs.LoadClientConfig()
	require.NoError(t, err)

	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, uint64(7), cfg.ReconnectMaxRetries)
	assert.Equal(t, 2.5, cfg.SendRate)

	wsURL, err := cfg.WebSocketURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/relay/ws", wsURL)
}

func TestLoadClientConfig_Invalid(t *testing.T) {
	tests := map[string][2]string{
		"relative server url": {"CHAT_SERVER_URL", "localhost"},
		"ws path":             {"CHAT_WS_PATH", "ws"},
		"duration":            {"FETCH_TIMEOUT", "soon"},
		"negative duration":   {"FETCH_TIMEOUT", "-1s"},
		"cap below base":      {"RECONNECT_CAP", "100ms"},
		"retries":             {"RECONNECT_MAX_RETRIES", "-1"},
		"rate":                {"SEND_RATE", "0"},
		"burst":               {"SEND_BURST", "none"},
	}

	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])

			_, err := configs.LoadClientConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadServerConfig(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_URL", "postgres://localhost/chat")

	cfg, err := configs.LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "postgres://localhost/chat", cfg.DatabaseDSN)
}

func TestLoadServerConfig_Invalid(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PORT", "8080")

	_, err := configs.LoadServerConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "x")
	t.Setenv("PORT", "80")
	_, err = configs.LoadServerConfig()
	assert.Error(t, err)
}

func TestLoadServerConfig_DevelopmentDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("PORT", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := configs.LoadServerConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Port)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Empty(t, cfg.DatabaseDSN)
}
