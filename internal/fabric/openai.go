package fabric

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/alnah/go-fabric-analyze/internal/apierr"
)

// OpenAI-compatible backend defaults.
const (
	// DefaultBaseURL targets Groq, whose free tier the model catalog describes.
	DefaultBaseURL = "https://api.groq.com/openai/v1"

	// DefaultModel is used when a request names no model.
	DefaultModel = "moonshotai/kimi-k2-instruct-0905"
)

// Compile-time interface compliance check.
var _ Streamer = (*OpenAIRunner)(nil)

// PromptSource resolves a pattern name to its system prompt.
type PromptSource interface {
	Prompt(pattern string) (string, error)
}

// chatStream is the part of *openai.ChatCompletionStream the runner uses.
type chatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// chatCompleter is an internal interface for chat completion.
// clientCompleter adapts *openai.Client to it.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	createStream(ctx context.Context, req openai.ChatCompletionRequest) (chatStream, error)
}

type clientCompleter struct {
	*openai.Client
}

func (c clientCompleter) createStream(ctx context.Context, req openai.ChatCompletionRequest) (chatStream, error) {
	return c.CreateChatCompletionStream(ctx, req)
}

// OpenAIRunner runs patterns against an OpenAI-compatible chat endpoint:
// the pattern's system.md becomes the system message and the packet the
// user message. It mirrors what the fabric CLI does without the subprocess.
type OpenAIRunner struct {
	client  chatCompleter
	prompts PromptSource
	model   string
}

// OpenAIOption configures an OpenAIRunner.
type OpenAIOption func(*OpenAIRunner)

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) OpenAIOption {
	return func(r *OpenAIRunner) {
		if model != "" {
			r.model = model
		}
	}
}

// withChatCompleter sets a custom chat completer (for testing).
func withChatCompleter(cc chatCompleter) OpenAIOption {
	return func(r *OpenAIRunner) { r.client = cc }
}

// NewOpenAIRunner creates a runner from an API key and base URL.
// An empty base URL uses DefaultBaseURL.
func NewOpenAIRunner(apiKey, baseURL string, prompts PromptSource, opts ...OpenAIOption) *OpenAIRunner {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = DefaultBaseURL
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	r := &OpenAIRunner{
		client:  clientCompleter{openai.NewClientWithConfig(cfg)},
		prompts: prompts,
		model:   DefaultModel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run implements Runner.
func (r *OpenAIRunner) Run(ctx context.Context, req Request) (string, error) {
	chatReq, err := r.request(req, false)
	if err != nil {
		return "", err
	}

	callCtx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(callCtx, chatReq)
	if err != nil {
		return "", r.classify(ctx, req, chatReq.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", &apierr.Error{Kind: apierr.KindUnknown, Msg: "no response from API", Model: chatReq.Model}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Stream implements Streamer.
func (r *OpenAIRunner) Stream(ctx context.Context, req Request, onLine LineFunc) (string, error) {
	chatReq, err := r.request(req, true)
	if err != nil {
		return "", err
	}

	callCtx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	stream, err := r.client.createStream(callCtx, chatReq)
	if err != nil {
		return "", r.classify(ctx, req, chatReq.Model, err)
	}
	defer func() { _ = stream.Close() }()

	lw := &lineWriter{onLine: onLine}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			lw.flush()
			return "", r.classify(ctx, req, chatReq.Model, err)
		}
		if len(chunk.Choices) > 0 {
			_, _ = lw.Write([]byte(chunk.Choices[0].Delta.Content))
		}
	}
	lw.flush()
	return strings.TrimSpace(lw.buf.String()), nil
}

func (r *OpenAIRunner) request(req Request, stream bool) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = r.model
	}
	prompt, err := r.prompts.Prompt(req.Pattern)
	if err != nil {
		return openai.ChatCompletionRequest{}, &apierr.Error{Kind: apierr.KindInvocation, Msg: err.Error(), Model: model}
	}
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Input},
		},
		Temperature: 0,
		Stream:      stream,
	}, nil
}

// classify maps API errors to apierr kinds, using the typed status code
// when there is one and the message text otherwise.
func (r *OpenAIRunner) classify(parent context.Context, req Request, model string, err error) error {
	if parent.Err() != nil {
		return &apierr.Error{Kind: apierr.KindCanceled, Msg: parent.Err().Error(), Model: model}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &apierr.Error{Kind: apierr.KindTimeout, Msg: fmt.Sprintf("Timeout after %ds", int(req.Timeout.Seconds())), Model: model}
	}

	status, msg := 0, err.Error()
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, msg = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests:
		return &apierr.Error{Kind: apierr.KindRateLimit, Msg: "429 " + msg, Model: model}
	case http.StatusRequestEntityTooLarge:
		return &apierr.Error{Kind: apierr.KindTooLarge, Msg: "413 " + msg, Model: model}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &apierr.Error{Kind: apierr.KindServer, Msg: fmt.Sprintf("%d %s", status, msg), Model: model}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &apierr.Error{Kind: apierr.KindInvocation, Msg: "authentication failed: " + msg, Model: model}
	case http.StatusNotFound:
		return &apierr.Error{Kind: apierr.KindInvocation, Msg: "model not found: " + msg, Model: model}
	}
	return &apierr.Error{Kind: apierr.Classify(msg), Msg: truncate(msg, maxErrorText), Model: model}
}
