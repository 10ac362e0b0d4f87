package wordlebot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaultTestConfig(t *testing.T) {
	require.NoError(t, structValidator.Struct(DefaultTestConfig(t)))
}

func TestValidateDefaultConfig_MissingTokens(t *testing.T) {
	err := structValidator.Struct(DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token")
	assert.Contains(t, err.Error(), "ApplicationID")
}

func TestValidateConfig(t *testing.T) {
	validHexKey := strings.Repeat("ab", 32)

	testCases := []struct {
		name    string
		modify  func(cfg *Config)
		wantErr bool
	}{
		{
			name:    "bad database type",
			modify:  func(cfg *Config) { cfg.DatabaseType = "mysql" },
			wantErr: true,
		},
		{
			name:    "bad timezone",
			modify:  func(cfg *Config) { cfg.Game.Timezone = "Mars/Olympus_Mons" },
			wantErr: true,
		},
		{
			name:   "named timezone",
			modify: func(cfg *Config) { cfg.Game.Timezone = "America/Chicago" },
		},
		{
			name:    "bad reset schedule",
			modify:  func(cfg *Config) { cfg.Game.ResetSchedule = "every day at midnight" },
			wantErr: true,
		},
		{
			name:    "missing reset schedule",
			modify:  func(cfg *Config) { cfg.Game.ResetSchedule = "" },
			wantErr: true,
		},
		{
			name: "reset disabled without schedule",
			modify: func(cfg *Config) {
				cfg.Game.ResetEnabled = false
				cfg.Game.ResetSchedule = ""
			},
		},
		{
			name:   "reset schedule descriptor",
			modify: func(cfg *Config) { cfg.Game.ResetSchedule = "@daily" },
		},
		{
			name:    "negative word count ttl",
			modify:  func(cfg *Config) { cfg.Game.WordCountTTL = -1 },
			wantErr: true,
		},
		{
			name:    "generative enabled without token",
			modify:  func(cfg *Config) { cfg.Generative.Token = "" },
			wantErr: true,
		},
		{
			name: "generative disabled without token",
			modify: func(cfg *Config) {
				cfg.Generative.Enabled = false
				cfg.Generative.Token = ""
			},
		},
		{
			name:    "generative bad base url",
			modify:  func(cfg *Config) { cfg.Generative.BaseURL = "not a url" },
			wantErr: true,
		},
		{
			name:    "temperature too high",
			modify:  func(cfg *Config) { cfg.Generative.Temperature = 2.5 },
			wantErr: true,
		},
		{
			name:    "zero request rate",
			modify:  func(cfg *Config) { cfg.Generative.MaxRequestsPerSecond = 0 },
			wantErr: true,
		},
		{
			name:    "missing error message",
			modify:  func(cfg *Config) { cfg.Discord.ErrorMessage = "" },
			wantErr: true,
		},
		{
			name:    "webhook enabled without public key",
			modify:  func(cfg *Config) { cfg.Discord.WebhookServer.Enabled = true },
			wantErr: true,
		},
		{
			name: "webhook public key not hex",
			modify: func(cfg *Config) {
				cfg.Discord.WebhookServer.Enabled = true
				cfg.Discord.WebhookServer.PublicKey = "not-hex"
			},
			wantErr: true,
		},
		{
			name: "webhook enabled",
			modify: func(cfg *Config) {
				cfg.Discord.WebhookServer.Enabled = true
				cfg.Discord.WebhookServer.PublicKey = validHexKey
			},
		},
		{
			name:    "api cert without key",
			modify:  func(cfg *Config) { cfg.API.SSL.Cert = "cert.pem" },
			wantErr: true,
		},
		{
			name:    "api bad listen network",
			modify:  func(cfg *Config) { cfg.API.ListenNetwork = "udp" },
			wantErr: true,
		},
		{
			name:    "startup timeout too short",
			modify:  func(cfg *Config) { cfg.StartupTimeout = 0 },
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				cfg := DefaultTestConfig(t)
				tc.modify(cfg)
				err := structValidator.Struct(cfg)
				if tc.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			},
		)
	}
}

func TestGameConfig_Location(t *testing.T) {
	loc, err := GameConfig{Timezone: "America/Chicago"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", loc.String())

	_, err = GameConfig{Timezone: "Nowhere/Special"}.Location()
	assert.Error(t, err)
}

func TestCORSConfig_GINConfig(t *testing.T) {
	cfg := DefaultCORSConfig().GINConfig()
	assert.Nil(t, cfg.AllowOrigins)
	require.NotNil(t, cfg.AllowOriginFunc)
	assert.False(t, cfg.AllowOriginFunc("https://example.com"))

	corsCfg := DefaultCORSConfig()
	corsCfg.AllowOrigins = []string{"https://example.com"}
	cfg = corsCfg.GINConfig()
	assert.Equal(t, []string{"https://example.com"}, cfg.AllowOrigins)
	assert.Nil(t, cfg.AllowOriginFunc)

	// defaults aren't shared between configs
	corsCfg.AllowMethods[0] = "PATCH"
	assert.Equal(t, DefaultCORSAllowMethods[0], DefaultCORSConfig().AllowMethods[0])
}
