package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arcward/wordlebot/wordlebot"
	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	resetConfig(t)

	envFile := filepath.Join(t.TempDir(), "test.env")

	envContent := `
# General/database config

WB_DATABASE=/home/foo/wordlebot.sqlite3
WB_DATABASE_TYPE=sqlite
WB_DATABASE_LOG_LEVEL=WARN
WB_DATABASE_SLOW_THRESHOLD=250ms
WB_LOG_LEVEL=DEBUG
WB_STARTUP_TIMEOUT=15s
WB_SHUTDOWN_TIMEOUT=45s
WB_DEVELOPMENT=true

# Game config

WB_GAME_TIMEZONE=America/New_York
WB_GAME_RESET_ENABLED=false
WB_GAME_RESET_SCHEDULE="30 4 * * *"
WB_GAME_WORD_COUNT_TTL=1m
WB_GAME_LOG_LEVEL=DEBUG

# Generative text config

WB_GENERATIVE_ENABLED=true
WB_GENERATIVE_TOKEN=your-api-key
WB_GENERATIVE_MODEL=gemini-1.5-pro
WB_GENERATIVE_MAX_TOKENS=300
WB_GENERATIVE_TEMPERATURE=0.5
WB_GENERATIVE_MESSAGE_PREFIX=!ask
WB_GENERATIVE_MAX_REQUESTS_PER_SECOND=0.5
WB_GENERATIVE_REQUEST_TIMEOUT=20s
WB_GENERATIVE_LOG_LEVEL=ERROR

# Discord bot config

WB_DISCORD_TOKEN=your-discord-bot-token
WB_DISCORD_APPLICATION_ID=your-discord-bot-app-id
WB_DISCORD_GUILD_ID=
WB_DISCORD_WORDLE_CHANNEL_ID=1234
WB_DISCORD_LOG_LEVEL=WARN
WB_DISCORD_DISCORDGO_LOG_LEVEL=ERROR
WB_DISCORD_STARTUP_MESSAGE="I'm here!"
WB_DISCORD_ERROR_MESSAGE="oops"
WB_DISCORD_GATEWAY_INTENTS=3243773

# Discord webhook server

WB_DISCORD_WEBHOOK_SERVER_ENABLED=true
WB_DISCORD_WEBHOOK_SERVER_LISTEN=127.0.0.1:5051
WB_DISCORD_WEBHOOK_SERVER_SSL_CERT=/etc/ssl/cert.pem
WB_DISCORD_WEBHOOK_SERVER_SSL_KEY=/etc/ssl/cert.key
WB_DISCORD_WEBHOOK_SERVER_SSL_TLS_MIN_VERSION=772
WB_DISCORD_WEBHOOK_SERVER_LOG_LEVEL=INFO
WB_DISCORD_WEBHOOK_SERVER_PUBLIC_KEY=abcdef
WB_DISCORD_WEBHOOK_SERVER_READ_TIMEOUT=6s
WB_DISCORD_WEBHOOK_SERVER_WRITE_TIMEOUT=11s

# API server

WB_API_LISTEN=127.0.0.1:5050
WB_API_LOG_LEVEL=DEBUG
WB_API_ADMIN_USERNAME=root
WB_API_ADMIN_PASSWORD_HASH='$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA'
WB_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
WB_API_CORS_ALLOW_METHODS=GET POST OPTIONS
WB_API_CORS_ALLOW_CREDENTIALS=false
WB_API_CORS_MAX_AGE=1h
WB_API_IDLE_TIMEOUT=31s
`

	require.NoError(t, os.WriteFile(envFile, []byte(envContent), 0o600))

	loaded, err := godotenv.Read(envFile)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			for k := range loaded {
				_ = os.Unsetenv(k)
			}
		},
	)

	_, _, err = executeCommand(t, fmt.Sprintf("--config=%s", envFile), "version")
	require.NoError(t, err)

	assert.Equal(t, "/home/foo/wordlebot.sqlite3", viper.GetString("database"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("database_log_level"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assertLogLevel(t, slog.LevelError, viper.Get("generative.log_level"))

	assert.Equal(t, "/home/foo/wordlebot.sqlite3", cfg.Database)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, slog.LevelWarn, cfg.DatabaseLogLevel.Level())
	assert.Equal(t, 250*time.Millisecond, cfg.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel.Level())
	assert.Equal(t, 15*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Development)

	assert.Equal(t, "America/New_York", cfg.Game.Timezone)
	assert.False(t, cfg.Game.ResetEnabled)
	assert.Equal(t, "30 4 * * *", cfg.Game.ResetSchedule)
	assert.Equal(t, time.Minute, cfg.Game.WordCountTTL)
	assert.Equal(t, slog.LevelDebug, cfg.Game.LogLevel.Level())

	assert.True(t, cfg.Generative.Enabled)
	assert.Equal(t, "your-api-key", cfg.Generative.Token)
	assert.Equal(t, "gemini-1.5-pro", cfg.Generative.Model)
	assert.Equal(t, 300, cfg.Generative.MaxTokens)
	assert.InDelta(t, 0.5, cfg.Generative.Temperature, 0.001)
	assert.Equal(t, "!ask", cfg.Generative.MessagePrefix)
	assert.InDelta(t, 0.5, cfg.Generative.MaxRequestsPerSecond, 0.001)
	assert.Equal(t, 20*time.Second, cfg.Generative.RequestTimeout)
	assert.Equal(t, slog.LevelError, cfg.Generative.LogLevel.Level())

	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", cfg.Discord.ApplicationID)
	assert.Equal(t, "", cfg.Discord.GuildID)
	assert.Equal(t, "1234", cfg.Discord.WordleChannelID)
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelError, cfg.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, "I'm here!", cfg.Discord.StartupMessage)
	assert.Equal(t, "oops", cfg.Discord.ErrorMessage)
	assert.Equal(t, discordgo.Intent(3243773), cfg.Discord.GatewayIntents)

	webhook := cfg.Discord.WebhookServer
	assert.True(t, webhook.Enabled)
	assert.Equal(t, "127.0.0.1:5051", webhook.Listen)
	assert.Equal(t, "tcp", webhook.ListenNetwork)
	assert.Equal(t, "/etc/ssl/cert.pem", webhook.SSL.Cert)
	assert.Equal(t, "/etc/ssl/cert.key", webhook.SSL.Key)
	assert.Equal(t, uint16(772), webhook.SSL.TLSMinVersion)
	assert.Equal(t, slog.LevelInfo, webhook.LogLevel.Level())
	assert.Equal(t, "abcdef", webhook.PublicKey)
	assert.Equal(t, 6*time.Second, webhook.ReadTimeout)
	assert.Equal(t, 5*time.Second, webhook.ReadHeaderTimeout)
	assert.Equal(t, 11*time.Second, webhook.WriteTimeout)

	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:5050", cfg.API.Listen)
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(t, "root", cfg.API.AdminUsername)
	assert.Equal(t, "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", cfg.API.AdminPasswordHash)
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		cfg.API.CORS.AllowOrigins,
	)
	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, cfg.API.CORS.AllowMethods)
	assert.False(t, cfg.API.CORS.AllowCredentials)
	assert.Equal(t, time.Hour, cfg.API.CORS.MaxAge)
	assert.Equal(t, 31*time.Second, cfg.API.IdleTimeout)
}

func TestDefaultConfigValues(t *testing.T) {
	resetConfig(t)

	_, _, err := executeCommand(t, "version")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, "wordlebot.sqlite3", cfg.Database)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel.Level())
	assert.Equal(t, "UTC", cfg.Game.Timezone)
	assert.True(t, cfg.Game.ResetEnabled)
	assert.Equal(t, "0 0 * * *", cfg.Game.ResetSchedule)
	assert.Equal(t, "!g", cfg.Generative.MessagePrefix)
	assert.True(t, cfg.Discord.GatewayEnabled)
	assert.False(t, cfg.Discord.WebhookServer.Enabled)
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())
	assert.Equal(t, "admin", cfg.API.AdminUsername)
}

func TestLoadConfig_ShorterListsReplaceDefaults(t *testing.T) {
	resetConfig(t)
	defaultMethods := append([]string{}, wordlebot.DefaultCORSAllowMethods...)
	require.Greater(t, len(defaultMethods), 1)

	t.Setenv("WB_API_CORS_ALLOW_METHODS", "GET")
	t.Setenv("WB_API_CORS_ALLOW_HEADERS", "Origin")

	_, _, err := executeCommand(t, "version")
	require.NoError(t, err)

	assert.Equal(t, []string{"GET"}, cfg.API.CORS.AllowMethods)
	assert.Equal(t, []string{"Origin"}, cfg.API.CORS.AllowHeaders)
	assert.Equal(t, defaultMethods, wordlebot.DefaultCORSAllowMethods)
}

func TestGetLogLevel(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{input: "DEBUG", expected: slog.LevelDebug},
		{input: "info", expected: slog.LevelInfo},
		{input: "WARN", expected: slog.LevelWarn},
		{input: "ERROR", expected: slog.LevelError},
		{input: "LOUD", wantErr: true},
	} {
		t.Run(
			tc.input, func(t *testing.T) {
				lvl, err := getLogLevel(tc.input)
				if tc.wantErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.expected, lvl)
			},
		)
	}
}
