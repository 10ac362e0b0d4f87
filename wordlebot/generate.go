package wordlebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

var (
	ErrEmptyPrompt   = errors.New("empty prompt")
	ErrEmptyResponse = errors.New("no response returned")
)

// PromptSource identifies where a prompt came from
type PromptSource string

const (
	PromptSourceMessage PromptSource = "message"
	PromptSourceCommand PromptSource = "command"
)

// PromptLog records a single request to the generative text API
type PromptLog struct {
	ModelUintID

	Source    PromptSource `json:"source" gorm:"size:16"`
	UserID    string       `json:"user_id" gorm:"index;size:64"`
	Username  string       `json:"username"`
	ChannelID string       `json:"channel_id" gorm:"size:64"`
	GuildID   string       `json:"guild_id" gorm:"size:64"`

	Model  string `json:"model"`
	Prompt string `json:"prompt"`

	Response         string `json:"response"`
	FinishReason     string `json:"finish_reason,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	ResponseHeaders  string `json:"response_headers,omitempty"`
	Error            string `json:"error,omitempty"`

	RequestStarted int64 `json:"request_started"`
	RequestEnded   int64 `json:"request_ended"`
	CreatedAt      int64 `json:"created_at" gorm:"autoCreateTime:milli"`
}

// PromptRequest is a prompt and the Discord context it was sent from
type PromptRequest struct {
	Source    PromptSource
	Prompt    string
	UserID    string
	Username  string
	ChannelID string
	GuildID   string
}

// ChatCompletionClient is the subset of the go-openai client used by
// [Generator]
type ChatCompletionClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)
}

// Generator sends prompts to an OpenAI-compatible chat completions API
// (Gemini, by default) and records each request as a [PromptLog].
type Generator struct {
	client         ChatCompletionClient
	config         *GenerativeConfig
	db             DBI
	logger         *slog.Logger
	requestLimiter *rate.Limiter

	mu sync.RWMutex // protects requestLimiter
}

func NewGenerator(
	config *GenerativeConfig,
	db DBI,
	httpClient *http.Client,
	logger *slog.Logger,
) *Generator {
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(config.Token)
	if config.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}

	return &Generator{
		client: openai.NewClientWithConfig(clientCfg),
		config: config,
		db:     db,
		logger: logger.With(loggerNameKey, "generative"),
		requestLimiter: rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond),
			1,
		),
	}
}

// SetRateLimit replaces the request limiter
func (g *Generator) SetRateLimit(requestsPerSecond float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requestLimiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

// waitOnRequestLimiter waits for the request limiter to allow the next request,
// returning any error from the limiter itself
func (g *Generator) waitOnRequestLimiter(ctx context.Context) error {
	g.mu.RLock()
	requestLimiter := g.requestLimiter
	g.mu.RUnlock()
	return requestLimiter.Wait(ctx)
}

// Generate sends the prompt as a single user message, returning the
// content of the first choice.
func (g *Generator) Generate(ctx context.Context, req PromptRequest) (string, error) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = g.logger
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	if g.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.RequestTimeout)
		defer cancel()
	}

	if err := g.waitOnRequestLimiter(ctx); err != nil {
		return "", fmt.Errorf("error waiting on request limiter: %w", err)
	}

	entry := &PromptLog{
		Source:         req.Source,
		UserID:         req.UserID,
		Username:       req.Username,
		ChannelID:      req.ChannelID,
		GuildID:        req.GuildID,
		Model:          g.config.Model,
		Prompt:         prompt,
		RequestStarted: time.Now().UnixMilli(),
	}
	defer g.savePromptLog(ctx, logger, entry)

	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       g.config.Model,
			MaxTokens:   g.config.MaxTokens,
			Temperature: g.config.Temperature,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		},
	)
	entry.RequestEnded = time.Now().UnixMilli()
	if err != nil {
		entry.Error = err.Error()
		logger.ErrorContext(ctx, "error creating chat completion", tint.Err(err))
		return "", err
	}

	entry.ResponseHeaders = g.dumpHeaders(resp.Header())
	entry.PromptTokens = resp.Usage.PromptTokens
	entry.CompletionTokens = resp.Usage.CompletionTokens

	if len(resp.Choices) == 0 {
		entry.Error = ErrEmptyResponse.Error()
		return "", ErrEmptyResponse
	}
	choice := resp.Choices[0]
	entry.Response = choice.Message.Content
	entry.FinishReason = string(choice.FinishReason)

	logger.InfoContext(
		ctx,
		"got chat completion",
		"model", resp.Model,
		"finish_reason", choice.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return choice.Message.Content, nil
}

func (g *Generator) savePromptLog(ctx context.Context, logger *slog.Logger, entry *PromptLog) {
	if g.db == nil {
		return
	}
	if _, err := g.db.Create(context.WithoutCancel(ctx), entry); err != nil {
		logger.ErrorContext(ctx, "error saving prompt log", tint.Err(err))
	}
}

func (g *Generator) dumpHeaders(headers http.Header) string {
	if headers == nil {
		return ""
	}
	data, err := json.Marshal(headers)
	if err != nil {
		g.logger.Warn("error dumping headers", tint.Err(err))
		return ""
	}
	return string(data)
}
