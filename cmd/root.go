package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/arcward/wordlebot/wordlebot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = wordlebot.DefaultConfig()
	configFile string
)

// logLevelKeys are the config keys holding a *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"game.log_level",
	"generative.log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"discord.webhook_server.log_level",
	"api.log_level",
}

var rootCmd = &cobra.Command{
	Use:          "wordlebot [flags]",
	Short:        "Discord bot running a daily word game, with generative text prompts",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(" "),
					LevelToStringHookFunc(),
				),
			),
			// configured lists replace the defaults rather than
			// overwriting their leading elements
			func(c *mapstructure.DecoderConfig) {
				c.ZeroFields = true
			},
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names (DEBUG, INFO, WARN, ERROR)
// into a *slog.LevelVar
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		log.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", wordlebot.DefaultDatabase)
	viper.SetDefault("database_type", wordlebot.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", wordlebot.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", wordlebot.DefaultDatabaseLogLevel.String())
	viper.SetDefault("development", false)
	viper.SetDefault("log_level", wordlebot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", wordlebot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", wordlebot.DefaultShutdownTimeout)

	// Game config
	viper.SetDefault("game.timezone", wordlebot.DefaultGameTimezone)
	viper.SetDefault("game.reset_enabled", true)
	viper.SetDefault("game.reset_schedule", wordlebot.DefaultGameResetSchedule)
	viper.SetDefault("game.word_count_ttl", wordlebot.DefaultGameWordCountTTL)
	viper.SetDefault("game.log_level", wordlebot.DefaultGameLogLevel.String())

	// Generative text config
	viper.SetDefault("generative.enabled", true)
	viper.SetDefault("generative.token", "")
	viper.SetDefault("generative.base_url", wordlebot.DefaultGenerativeBaseURL)
	viper.SetDefault("generative.model", wordlebot.DefaultGenerativeModel)
	viper.SetDefault("generative.max_tokens", wordlebot.DefaultGenerativeMaxTokens)
	viper.SetDefault("generative.temperature", wordlebot.DefaultGenerativeTemperature)
	viper.SetDefault("generative.message_prefix", wordlebot.DefaultGenerativeMessagePrefix)
	viper.SetDefault(
		"generative.max_requests_per_second",
		wordlebot.DefaultGenerativeMaxRequestsPerSecond,
	)
	viper.SetDefault("generative.request_timeout", wordlebot.DefaultGenerativeRequestTimeout)
	viper.SetDefault("generative.log_level", wordlebot.DefaultGenerativeLogLevel.String())

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.gateway_enabled", true)
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.wordle_channel_id", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.startup_message", wordlebot.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.custom_status", wordlebot.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.error_message", wordlebot.DefaultDiscordErrorMessage)
	viper.SetDefault("discord.log_level", wordlebot.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", wordlebot.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", wordlebot.DefaultDiscordGatewayIntent)

	// Discord: Webhook server
	viper.SetDefault("discord.webhook_server.enabled", false)
	viper.SetDefault(
		"discord.webhook_server.listen",
		wordlebot.DefaultDiscordWebhookServerListen,
	)
	viper.SetDefault("discord.webhook_server.listen_network", "tcp")
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault("discord.webhook_server.read_timeout", wordlebot.DefaultReadTimeout)
	viper.SetDefault(
		"discord.webhook_server.read_header_timeout",
		wordlebot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("discord.webhook_server.write_timeout", wordlebot.DefaultWriteTimeout)
	viper.SetDefault("discord.webhook_server.idle_timeout", wordlebot.DefaultIdleTimeout)
	viper.SetDefault(
		"discord.webhook_server.log_level",
		wordlebot.DefaultDiscordWebhookLogLevel.String(),
	)
	viper.SetDefault("discord.webhook_server.ssl.cert", "")
	viper.SetDefault("discord.webhook_server.ssl.key", "")
	viper.SetDefault(
		"discord.webhook_server.ssl.tls_min_version",
		wordlebot.DefaultDiscordWebhookServerTLSminVersion,
	)

	// API config
	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", wordlebot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", wordlebot.DefaultAPILogLevel.String())
	viper.SetDefault("api.admin_username", wordlebot.DefaultAPIAdminUsername)
	viper.SetDefault("api.admin_password_hash", "")
	viper.SetDefault("api.read_timeout", wordlebot.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", wordlebot.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", wordlebot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", wordlebot.DefaultIdleTimeout)
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", wordlebot.DefaultAPITLSMinVersion)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", wordlebot.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", wordlebot.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", wordlebot.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", wordlebot.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", wordlebot.DefaultAPICORSAllowCredentials)

	envPrefix := os.Getenv(wordlebot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = wordlebot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range []string{
		"api.cors.allow_headers",
		"api.cors.allow_origins",
		"api.cors.allow_methods",
		"api.cors.expose_headers",
	} {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range logLevelKeys {
		if _, ok := viper.Get(key).(*slog.LevelVar); ok {
			continue
		}
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load configuration from",
	)
}
