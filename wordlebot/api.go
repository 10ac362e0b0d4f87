package wordlebot

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiHealthCheck          = "/healthz"
	apiPathStatus           = "/status"
	apiPathReset            = "/reset"
	apiPathWords            = "/words"
	apiPathAttempts         = "/attempts/:server_id"
	apiPathTarget           = "/target/:server_id"
	apiPathRegisterCommands = "/discord/register_commands"
)

const (
	xRequestIDHeader = "X-Request-ID"
	ginBaseLoggerKey = "base_logger"
	basicAuthRealm   = `Basic realm="wordlebot"`
)

// API is the admin HTTP server
type API struct {
	config     *APIConfig
	httpServer *http.Server
	engine     *gin.Engine
	logger     *slog.Logger
	handlers   *APIHandlers

	mu       sync.Mutex
	listener net.Listener
}

// newAPI sets up the gin engine, middleware and routes for the admin API
func newAPI(b *Bot, config *APIConfig) (*API, error) {
	logger := slog.New(newLogHandler(defaultLogWriter, config.LogLevel)).
		With(loggerNameKey, "api")

	if b.config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	api := &API{
		config:   config,
		engine:   r,
		logger:   logger,
		handlers: &APIHandlers{b: b},
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	if config.SSL.Enabled() {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && b.config.Development {
		corsConfig.AllowOriginFunc = nil
		corsConfig.AllowOrigins = []string{"*"}
		corsConfig.AllowCredentials = false
	}

	if !b.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggerMiddleware(logger),
		ginLoggingMiddleware(),
		cors.New(corsConfig),
	)

	h := api.handlers
	r.GET(apiHealthCheck, h.healthCheck)

	if b.config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(basicAuthMiddleware(config))

	protected.GET(apiPathStatus, h.getStatus)
	protected.POST(apiPathReset, h.triggerReset)
	protected.POST(apiPathWords, h.importWords)
	protected.GET(apiPathAttempts, h.getAttempts)
	protected.GET(apiPathTarget, h.getTarget)
	protected.POST(apiPathRegisterCommands, h.discordRegisterCommands)

	return api, nil
}

// Serve listens on the configured address and serves until the server
// is shut down
func (a *API) Serve(ctx context.Context) error {
	ln, err := a.listen(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "api listening", "addr", ln.Addr().String())
	if a.httpServer.TLSConfig == nil {
		return a.httpServer.Serve(ln)
	}
	return a.httpServer.ServeTLS(ln, "", "")
}

func (a *API) listen(ctx context.Context) (net.Listener, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener, nil
	}
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return nil, fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	a.listener = ln
	return ln, nil
}

// APIHandlers holds the gin handlers for the admin API
type APIHandlers struct {
	b *Bot
}

// healthCheck reports the gateway connection and database status.
// It responds 503 if the database can't be reached.
func (h *APIHandlers) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{
		DiscordGatewayConnected: h.b.discord.connected.Load(),
		DatabaseOK:              true,
	}
	status := http.StatusOK
	if h.b.writeDB == nil {
		resp.DatabaseOK = false
		status = http.StatusServiceUnavailable
	} else if err := h.b.writeDB.Ping(c); err != nil {
		ginContextLogger(c).Error("database ping failed", tint.Err(err))
		resp.DatabaseOK = false
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// getStatus returns the word count, today's date, and the last and next
// resets, collected concurrently
func (h *APIHandlers) getStatus(c *gin.Context) {
	logger := ginContextLogger(c)
	b := h.b

	resp := statusResponse{
		Today:           b.evaluator.Today(),
		Timezone:        b.location.String(),
		TargetAlgorithm: TargetAlgorithm,
		Uptime:          time.Since(b.startedAt).Round(time.Second).String(),
		Version:         Version,
	}
	if next := b.resets.Next(); !next.IsZero() {
		resp.NextReset = &next
	}

	g, gctx := errgroup.WithContext(c.Request.Context())
	g.Go(
		func() error {
			count, err := b.words.Count(gctx)
			if err != nil {
				return fmt.Errorf("error counting words: %w", err)
			}
			resp.WordCount = count
			return nil
		},
	)
	g.Go(
		func() error {
			last, err := b.resets.LastReset(gctx)
			if err != nil {
				return fmt.Errorf("error getting last reset: %w", err)
			}
			resp.LastReset = last
			return nil
		},
	)
	if err := g.Wait(); err != nil {
		logger.Error("error collecting status", tint.Err(err))
		ginReplyError(c, "error collecting status")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// triggerReset clears the attempt ledger
func (h *APIHandlers) triggerReset(c *gin.Context) {
	logger := ginContextLogger(c)
	ctx := WithLogger(c.Request.Context(), logger)

	entry, err := h.b.resets.Trigger(ctx, ResetTriggerAPI)
	if err != nil {
		logger.Error("error resetting attempts", tint.Err(err))
		ginReplyError(c, "error resetting attempts")
		return
	}
	c.JSON(http.StatusOK, entry)
}

// importWords adds words to the word list
func (h *APIHandlers) importWords(c *gin.Context) {
	logger := ginContextLogger(c)

	var req importWordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid import request", tint.Err(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	ctx := WithLogger(c.Request.Context(), logger)
	result, err := h.b.ImportWords(ctx, req.Words)
	if err != nil {
		logger.Error("error importing words", tint.Err(err))
		ginReplyError(c, "error importing words")
		return
	}
	c.JSON(http.StatusOK, result)
}

// getAttempts lists today's attempts for the given server
func (h *APIHandlers) getAttempts(c *gin.Context) {
	logger := ginContextLogger(c)
	serverID := c.Param("server_id")

	attempts, err := h.b.ledger.List(c.Request.Context(), serverID)
	if err != nil {
		logger.Error("error listing attempts", tint.Err(err))
		ginReplyError(c, "error listing attempts")
		return
	}
	c.JSON(http.StatusOK, attemptsResponse{ServerID: serverID, Attempts: attempts})
}

// getTarget returns today's target word for the given server
func (h *APIHandlers) getTarget(c *gin.Context) {
	logger := ginContextLogger(c)
	serverID := c.Param("server_id")

	target, err := h.b.evaluator.Target(c.Request.Context(), serverID)
	if err != nil {
		logger.Error("error selecting target", tint.Err(err))
		if errors.Is(err, ErrStoreUnavailable) {
			c.AbortWithStatusJSON(
				http.StatusServiceUnavailable,
				httpError{Error: "word store unavailable"},
			)
			return
		}
		ginReplyError(c, "error selecting target")
		return
	}
	c.JSON(
		http.StatusOK,
		targetResponse{
			ServerID:  serverID,
			Date:      h.b.evaluator.Today(),
			Target:    target,
			Algorithm: TargetAlgorithm,
		},
	)
}

// discordRegisterCommands registers the slash commands with Discord
func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Info("registering commands")

	created, err := h.b.RegisterSlashCommands()
	if err != nil {
		logger.Error("error registering commands", tint.Err(err))
		ginReplyError(c, "error registering commands")
		return
	}
	c.JSON(http.StatusCreated, created)
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
	DatabaseOK              bool `json:"database_ok"`
}

type statusResponse struct {
	Version         string     `json:"version"`
	Uptime          string     `json:"uptime"`
	Today           string     `json:"today"`
	Timezone        string     `json:"timezone"`
	TargetAlgorithm string     `json:"target_algorithm"`
	WordCount       int64      `json:"word_count"`
	NextReset       *time.Time `json:"next_reset,omitempty"`
	LastReset       *ResetLog  `json:"last_reset,omitempty"`
}

type importWordsRequest struct {
	Words []string `json:"words" binding:"required,min=1,dive,required"`
}

type attemptsResponse struct {
	ServerID string    `json:"server_id"`
	Attempts []Attempt `json:"attempts"`
}

type targetResponse struct {
	ServerID  string `json:"server_id"`
	Date      string `json:"date"`
	Target    string `json:"target"`
	Algorithm string `json:"algorithm"`
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

// basicAuthMiddleware requires HTTP basic auth matching the configured
// admin username and argon2id password hash. Every request is rejected
// if no hash is configured.
func basicAuthMiddleware(config *APIConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		unauthorized := func() {
			c.Header("WWW-Authenticate", basicAuthRealm)
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		}

		if config.AdminPasswordHash == "" {
			logger.Warn("admin password hash not set")
			unauthorized()
			return
		}

		username, password, ok := c.Request.BasicAuth()
		if !ok {
			unauthorized()
			return
		}

		usernameOK := subtle.ConstantTimeCompare(
			[]byte(username),
			[]byte(config.AdminUsername),
		) == 1
		passwordOK, err := VerifyPassword(config.AdminPasswordHash, password)
		if err != nil {
			logger.Error("error verifying password", tint.Err(err))
		}
		if !usernameOK || !passwordOK {
			logger.Warn("invalid credentials", "username", username)
			unauthorized()
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns a random ID to each request, returned in
// the X-Request-ID header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginLoggerMiddleware sets the logger ginContextLogger builds request
// loggers from
func ginLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ginBaseLoggerKey, logger)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := v.(*slog.Logger); isLogger {
			return requestLogger
		}
	}

	requestLogger := slog.Default()
	if v, ok := c.Get(ginBaseLoggerKey); ok {
		if base, isLogger := v.(*slog.Logger); isLogger {
			requestLogger = base
		}
	}

	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it's finished, with its
// duration and response status
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, e.Err)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				tint.Err(errors.Join(errs...)),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// ginReplyError sends a JSON error response with HTTP status code 500
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
