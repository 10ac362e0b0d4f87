//nolint:lll // struct tags can't be split
package wordlebot

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

const (
	EnvvarSetEnvPrefix     = "WORDLEBOT_ENV_PREFIX"
	DefaultEnvPrefix       = "WB"
	DefaultDatabaseType    = dbTypeSQLite
	DefaultDatabase        = "wordlebot.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultGameTimezone      = "UTC"
	DefaultGameResetSchedule = "0 0 * * *"
	DefaultGameWordCountTTL  = 5 * time.Minute
	DefaultGameLogLevel      = slog.LevelInfo

	DefaultGenerativeBaseURL              = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultGenerativeModel                = "gemini-1.5-flash"
	DefaultGenerativeMaxTokens            = 200
	DefaultGenerativeTemperature          = 2.0
	DefaultGenerativeMessagePrefix        = "!g"
	DefaultGenerativeMaxRequestsPerSecond = 1.0
	DefaultGenerativeRequestTimeout       = 60 * time.Second
	DefaultGenerativeLogLevel             = slog.LevelInfo

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DiscordSlashCommandWordle = "wordle"
	DiscordSlashCommandAsk    = "ask"

	DefaultDiscordWebhookServerListen        = "127.0.0.1:5001"
	DefaultDiscordWebhookServerTLSminVersion = tls.VersionTLS12
	DefaultDiscordGatewayIntent              = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentsMessageContent
	DefaultDiscordWebhookLogLevel            = slog.LevelInfo
	DefaultDiscordLogLevel                   = slog.LevelWarn
	DefaultDiscordgoLogLevel                 = slog.LevelWarn
	DefaultDiscordErrorMessage               = "sorry, something went wrong!"
	DefaultDiscordCustomStatus               = "/wordle"
	DefaultDiscordStartupMessage             = "I'm here!"
	discordMaxMessageLength                  = 2000

	DefaultAPIListen        = "127.0.0.1:5000"
	DefaultAPITLSMinVersion = tls.VersionTLS12
	DefaultAPILogLevel      = slog.LevelInfo
	DefaultAPIAdminUsername = "admin"

	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = true
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

var structValidator = validator.New()

func init() {
	structValidator.SetTagName("binding")
	if err := structValidator.RegisterValidation("cron_spec", validateCronSpec); err != nil {
		panic(err)
	}
}

// validateCronSpec accepts standard five-field cron expressions, and
// descriptors like @daily
func validateCronSpec(fl validator.FieldLevel) bool {
	_, err := cron.ParseStandard(fl.Field().String())
	return err == nil
}

type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Game configures the daily word game
	Game *GameConfig `yaml:"game" mapstructure:"game" json:"game" binding:"required"`

	// Generative configures the generative text API used by `!g` and /ask
	Generative *GenerativeConfig `yaml:"generative" mapstructure:"generative" json:"generative" binding:"required"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=1s"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout" binding:"min=1s"`

	// Development enables pprof routes on the API, and disables panic
	// recovery in handlers
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	HTTPClient *http.Client `yaml:"-" mapstructure:"-" json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// GameConfig configures the daily word game
type GameConfig struct {
	// Timezone is the IANA time zone defining the calendar date used to
	// select the daily word, and the reset schedule
	Timezone string `yaml:"timezone" mapstructure:"timezone" json:"timezone" binding:"required,timezone"`

	// ResetEnabled schedules the daily attempt reset. Disable this when
	// running multiple instances, on all but one of them.
	ResetEnabled bool `yaml:"reset_enabled" mapstructure:"reset_enabled" json:"reset_enabled"`

	// ResetSchedule is the cron expression for the daily attempt reset
	ResetSchedule string `yaml:"reset_schedule" mapstructure:"reset_schedule" json:"reset_schedule" binding:"required_if=ResetEnabled true,omitempty,cron_spec"`

	// WordCountTTL is how long the word count is cached for. 0 disables caching.
	WordCountTTL time.Duration `yaml:"word_count_ttl" mapstructure:"word_count_ttl" json:"word_count_ttl" binding:"min=0"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// Location returns the configured time zone
func (g GameConfig) Location() (*time.Location, error) {
	return time.LoadLocation(g.Timezone)
}

// GenerativeConfig configures the OpenAI-compatible chat completions API
type GenerativeConfig struct {
	// Enabled toggles `!g` and /ask
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required_if=Enabled true"`

	// BaseURL of the OpenAI-compatible API
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required_if=Enabled true,omitempty,url"`

	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required_if=Enabled true"`

	// MaxTokens caps the length of each response
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=0"`

	Temperature float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature" binding:"gte=0,lte=2"`

	// MessagePrefix marks a channel message as a prompt
	MessagePrefix string `yaml:"message_prefix" mapstructure:"message_prefix" json:"message_prefix" binding:"required_if=Enabled true"`

	// MaxRequestsPerSecond limits requests to the API across all users
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"gt=0"`

	// RequestTimeout limits each request, including time spent waiting
	// on the rate limiter
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GatewayEnabled connects to the Discord gateway. Required for `!g`
	// messages, optional for slash commands when using the webhook server.
	GatewayEnabled bool `yaml:"gateway_enabled" mapstructure:"gateway_enabled" json:"gateway_enabled"`

	// Required when receiving webhook events rather than websockets
	WebhookServer DiscordWebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// WordleChannelID restricts /wordle to a single channel. Leave empty
	// to allow it anywhere in a guild.
	WordleChannelID string `yaml:"wordle_channel_id" mapstructure:"wordle_channel_id" json:"wordle_channel_id"`

	// NotificationChannelID is the channel StartupMessage is sent to
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// If set along with NotificationChannelID, the bot will send this
	// message whenever it connects to the gateway
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// CustomStatus is shown as the bot's activity
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// ErrorMessage is the reply sent when a command fails
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// DiscordWebhookServerConfig configures the server receiving Discord
// interactions over HTTP, rather than the gateway
type DiscordWebhookServerConfig struct {
	// Determines if the webhook server should be active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5001").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The public key used for verifying Discord interaction POST requests.
	// In the Discord dev portal for your bot, this is under 'General Information'
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required_if=Enabled true,omitempty,hexadecimal"`

	// The logging level for the webhook server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	// Enabled starts the admin API server
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// AdminUsername is the HTTP basic auth username for /api routes
	AdminUsername string `yaml:"admin_username" mapstructure:"admin_username" json:"admin_username"`

	// AdminPasswordHash is the argon2id hash of the admin password, as
	// generated by `wordlebot hash-password`. If empty, every /api
	// route responds 401.
	AdminPasswordHash string `yaml:"admin_password_hash" mapstructure:"admin_password_hash" json:"admin_password_hash" log:"[redacted]"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert" binding:"required_with=Key"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key" binding:"required_with=Cert"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// Enabled returns true if a certificate and key are configured
func (s SSLConfig) Enabled() bool {
	return s.Cert != "" && s.Key != ""
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = nil
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	gameLogLevel := &slog.LevelVar{}
	generativeLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	discordWebhookLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	gameLogLevel.Set(DefaultGameLogLevel)
	generativeLogLevel.Set(DefaultGenerativeLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	discordWebhookLogLevel.Set(DefaultDiscordWebhookLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Game: &GameConfig{
			Timezone:      DefaultGameTimezone,
			ResetEnabled:  true,
			ResetSchedule: DefaultGameResetSchedule,
			WordCountTTL:  DefaultGameWordCountTTL,
			LogLevel:      gameLogLevel,
		},
		Generative: &GenerativeConfig{
			Enabled:              true,
			BaseURL:              DefaultGenerativeBaseURL,
			Model:                DefaultGenerativeModel,
			MaxTokens:            DefaultGenerativeMaxTokens,
			Temperature:          DefaultGenerativeTemperature,
			MessagePrefix:        DefaultGenerativeMessagePrefix,
			MaxRequestsPerSecond: DefaultGenerativeMaxRequestsPerSecond,
			RequestTimeout:       DefaultGenerativeRequestTimeout,
			LogLevel:             generativeLogLevel,
		},
		Discord: &DiscordConfig{
			GatewayEnabled: true,
			WebhookServer: DiscordWebhookServerConfig{
				Enabled:       false,
				Listen:        DefaultDiscordWebhookServerListen,
				ListenNetwork: defaultListenNetwork,
				SSL: SSLConfig{
					TLSMinVersion: DefaultDiscordWebhookServerTLSminVersion,
				},
				LogLevel:          discordWebhookLogLevel,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				ReadTimeout:       DefaultReadTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			ErrorMessage:      DefaultDiscordErrorMessage,
		},
		API: &APIConfig{
			Enabled:       true,
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			AdminUsername:     DefaultAPIAdminUsername,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
