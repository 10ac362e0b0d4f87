package wordlebot

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiDiscordInteractions   = "/discord/interactions"
	headerSignatureEd25519   = "X-Signature-Ed25519"
	headerSignatureTimestamp = "X-Signature-Timestamp"
)

// DiscordWebhookServer receives interactions over HTTP, as an alternative
// to the gateway.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint
type DiscordWebhookServer struct {
	config     DiscordWebhookServerConfig
	httpServer *http.Server
	engine     *gin.Engine
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// Serve listens on the configured address and serves until the server
// is shut down
func (d *DiscordWebhookServer) Serve(ctx context.Context) error {
	ln, err := d.listen(ctx)
	if err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "webhook server listening", "addr", ln.Addr().String())
	if d.httpServer.TLSConfig == nil {
		d.logger.Warn("starting webhook server without TLS")
		return d.httpServer.Serve(ln)
	}
	return d.httpServer.ServeTLS(ln, "", "")
}

func (d *DiscordWebhookServer) listen(ctx context.Context) (net.Listener, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		return d.listener, nil
	}
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, d.config.ListenNetwork, d.config.Listen)
	if err != nil {
		return nil, fmt.Errorf("error listening on %s: %w", d.config.Listen, err)
	}
	d.listener = ln
	return ln, nil
}

// newWebhookServer creates a [DiscordWebhookServer] routing verified
// interactions to b.webhookInteractionHandler, which is set when the
// bot starts
func newWebhookServer(
	b *Bot,
	config DiscordWebhookServerConfig,
) (*DiscordWebhookServer, error) {
	logger := slog.New(newLogHandler(defaultLogWriter, config.LogLevel)).
		With(loggerNameKey, "discord_webhook")

	r := gin.New()
	server := &DiscordWebhookServer{config: config, engine: r, logger: logger}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	if config.SSL.Enabled() {
		tlsCfg, e := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if e != nil {
			return nil, fmt.Errorf("error loading webhook SSL certs: %w", e)
		}
		httpServer.TLSConfig = tlsCfg
	}
	server.httpServer = httpServer

	if !b.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggerMiddleware(logger),
		ginLoggingMiddleware(),
		discordRequestAuthenticationMiddleware(b.discord.publicKey),
	)
	r.POST(
		apiDiscordInteractions,
		func(c *gin.Context) {
			if b.webhookInteractionHandler == nil {
				c.AbortWithStatusJSON(
					http.StatusServiceUnavailable,
					httpError{Error: "not ready"},
				)
				return
			}
			b.webhookInteractionHandler(c)
		},
	)
	return server, nil
}

// WebhookHandler is a handler for Discord interactions received via webhook.
// The initial response is handed back to the HTTP handler to be written
// as the response body, while edits go through the embedded handler's
// REST session.
type WebhookHandler struct {
	responseCh chan *discordgo.InteractionResponse
	once       *sync.Once
	InteractionHandler
}

func newWebhookHandler(handler InteractionHandler) WebhookHandler {
	return WebhookHandler{
		responseCh:         make(chan *discordgo.InteractionResponse, 1),
		once:               &sync.Once{},
		InteractionHandler: handler,
	}
}

func (WebhookHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodWebhook
}

// Respond queues the response to be written to the HTTP response. Only
// the first response is sent.
func (w WebhookHandler) Respond(
	_ context.Context,
	response *discordgo.InteractionResponse,
) error {
	sent := false
	w.once.Do(
		func() {
			w.responseCh <- response
			sent = true
		},
	)
	if !sent {
		return errAlreadyResponded
	}
	return nil
}

var errAlreadyResponded = errors.New("interaction already responded to")

// webhookReceiveHandler returns a [gin.HandlerFunc] decoding the
// interaction and passing it to b.handleInteraction.
//
// The interaction is handled in the background, and the HTTP response
// is written as soon as the first interaction response is available, so
// deferred responses can be edited after the request completes.
func webhookReceiveHandler(ctx context.Context, b *Bot) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID, _ := c.Get(xRequestIDHeader)
		logger := ginContextLogger(c).With(
			slog.Group(
				"webhook_request",
				"remote_ip", c.RemoteIP(),
				xRequestIDHeader, requestID,
			),
		)
		runCtx := WithLogger(ctx, logger)

		defer func() {
			_ = c.Request.Body.Close()
		}()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.ErrorContext(runCtx, "error reading body", tint.Err(err))
			c.JSON(http.StatusInternalServerError, httpError{Error: "error reading body"})
			return
		}

		var interaction discordgo.InteractionCreate
		if e := json.Unmarshal(body, &interaction); e != nil {
			logger.ErrorContext(runCtx, "error unmarshalling body", tint.Err(e))
			c.JSON(http.StatusBadRequest, httpError{Error: "error unmarshalling body"})
			return
		}
		if interaction.Interaction == nil {
			c.JSON(http.StatusBadRequest, httpError{Error: "missing interaction"})
			return
		}

		handler := newWebhookHandler(b.getInteractionHandlerFunc(runCtx, &interaction))

		done := make(chan struct{})
		b.handlerWG.Add(1)
		go func() {
			defer b.handlerWG.Done()
			defer close(done)
			b.handleInteraction(runCtx, handler)
		}()

		select {
		case response := <-handler.responseCh:
			c.JSON(http.StatusOK, response)
		case <-done:
			select {
			case response := <-handler.responseCh:
				c.JSON(http.StatusOK, response)
			default:
				c.Status(http.StatusAccepted)
			}
		case <-c.Request.Context().Done():
			logger.WarnContext(runCtx, "request cancelled before response")
		}
	}
}

// discordRequestAuthenticationMiddleware rejects requests without a
// valid signature from publicKey.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll // can't split link
func discordRequestAuthenticationMiddleware(publicKey ed25519.PublicKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := verifyRequest(c.Request, publicKey); err != nil {
			ginContextLogger(c).WarnContext(c, "invalid signature", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "invalid signature"})
			return
		}
		c.Next()
	}
}

var (
	errMissingSignature = errors.New("missing signature")
	errInvalidSignature = errors.New("invalid signature")
	errMissingTimestamp = errors.New("missing timestamp")
)

// verifyRequest checks the request's Ed25519 signature over the
// timestamp header followed by the body. The body is restored so it
// can be read again by the next handler.
func verifyRequest(r *http.Request, key ed25519.PublicKey) error {
	if len(key) != ed25519.PublicKeySize {
		return errors.New("public key not configured")
	}

	signature := r.Header.Get(headerSignatureEd25519)
	if signature == "" {
		return errMissingSignature
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidSignature, err)
	}
	if len(sig) != ed25519.SignatureSize || sig[63]&224 != 0 {
		return errInvalidSignature
	}

	timestamp := r.Header.Get(headerSignatureTimestamp)
	if timestamp == "" {
		return errMissingTimestamp
	}

	var msg bytes.Buffer
	msg.WriteString(timestamp)

	var body bytes.Buffer
	defer func() {
		_ = r.Body.Close()
		r.Body = io.NopCloser(&body)
	}()
	if _, err = io.Copy(&msg, io.TeeReader(r.Body, &body)); err != nil {
		return fmt.Errorf("error reading body: %w", err)
	}

	if !ed25519.Verify(key, msg.Bytes(), sig) {
		return errInvalidSignature
	}
	return nil
}
