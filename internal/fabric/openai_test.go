package fabric

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/alnah/go-fabric-analyze/internal/apierr"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type staticPrompts map[string]string

func (p staticPrompts) Prompt(name string) (string, error) {
	s, ok := p[name]
	if !ok {
		return "", errors.New("pattern " + name + " not found")
	}
	return s, nil
}

type mockStream struct {
	deltas []string
	err    error // returned after all deltas instead of io.EOF
	closed bool
}

func (s *mockStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(s.deltas) == 0 {
		if s.err != nil {
			return openai.ChatCompletionStreamResponse{}, s.err
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: d}}},
	}, nil
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}

// mockChatCompleter records requests and replays a fixed response.
type mockChatCompleter struct {
	mu       sync.Mutex
	calls    []openai.ChatCompletionRequest
	response openai.ChatCompletionResponse
	err      error
	stream   *mockStream
}

func (m *mockChatCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	return m.response, m.err
}

func (m *mockChatCompleter) createStream(_ context.Context, req openai.ChatCompletionRequest) (chatStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

func (m *mockChatCompleter) lastRequest() openai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

var testPrompts = staticPrompts{"summarize": "You summarize things."}

// ---------------------------------------------------------------------------
// TestOpenAIRunner_Run
// ---------------------------------------------------------------------------

func TestOpenAIRunner_Run(t *testing.T) {
	t.Parallel()

	mock := &mockChatCompleter{response: chatResponse("  summary  ")}
	r := NewOpenAIRunner("key", "", testPrompts, withChatCompleter(mock))

	got, err := r.Run(context.Background(), Request{Pattern: "summarize", Input: "packet"})
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if got != "summary" {
		t.Errorf("Run() = %q, want summary", got)
	}

	req := mock.lastRequest()
	if req.Model != DefaultModel {
		t.Errorf("Model = %q, want default %q", req.Model, DefaultModel)
	}
	if len(req.Messages) != 2 ||
		req.Messages[0].Role != openai.ChatMessageRoleSystem || req.Messages[0].Content != "You summarize things." ||
		req.Messages[1].Role != openai.ChatMessageRoleUser || req.Messages[1].Content != "packet" {
		t.Errorf("Messages = %+v, want system prompt then packet", req.Messages)
	}
}

func TestOpenAIRunner_Run_ModelOverride(t *testing.T) {
	t.Parallel()

	mock := &mockChatCompleter{response: chatResponse("ok")}
	r := NewOpenAIRunner("key", "", testPrompts, withChatCompleter(mock), WithDefaultModel("llama-3.1-8b-instant"))

	if _, err := r.Run(context.Background(), Request{Pattern: "summarize"}); err != nil {
		t.Fatal(err)
	}
	if got := mock.lastRequest().Model; got != "llama-3.1-8b-instant" {
		t.Errorf("Model = %q, want configured default", got)
	}

	if _, err := r.Run(context.Background(), Request{Pattern: "summarize", Model: "qwen/qwen3-32b"}); err != nil {
		t.Fatal(err)
	}
	if got := mock.lastRequest().Model; got != "qwen/qwen3-32b" {
		t.Errorf("Model = %q, want request model", got)
	}
}

func TestOpenAIRunner_Run_UnknownPattern(t *testing.T) {
	t.Parallel()

	mock := &mockChatCompleter{}
	r := NewOpenAIRunner("key", "", testPrompts, withChatCompleter(mock))

	_, err := r.Run(context.Background(), Request{Pattern: "missing"})
	if !errors.Is(err, apierr.ErrInvocation) {
		t.Errorf("Run() error = %v, want ErrInvocation", err)
	}
	if len(mock.calls) != 0 {
		t.Error("API called for an unknown pattern")
	}
}

func TestOpenAIRunner_Run_EmptyChoices(t *testing.T) {
	t.Parallel()

	r := NewOpenAIRunner("key", "", testPrompts, withChatCompleter(&mockChatCompleter{}))
	_, err := r.Run(context.Background(), Request{Pattern: "summarize"})
	if !errors.Is(err, apierr.ErrUnknown) {
		t.Errorf("Run() error = %v, want ErrUnknown", err)
	}
}

// ---------------------------------------------------------------------------
// TestOpenAIRunner_Classify - API errors to kinds
// ---------------------------------------------------------------------------

func TestOpenAIRunner_Classify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want apierr.Kind
	}{
		{"429", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "Rate limit reached"}, apierr.KindRateLimit},
		{"413", &openai.APIError{HTTPStatusCode: http.StatusRequestEntityTooLarge, Message: "Request too large"}, apierr.KindTooLarge},
		{"500", &openai.APIError{HTTPStatusCode: http.StatusInternalServerError, Message: "oops"}, apierr.KindServer},
		{"503 request error", &openai.RequestError{HTTPStatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")}, apierr.KindServer},
		{"401", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "Invalid API Key"}, apierr.KindInvocation},
		{"404", &openai.APIError{HTTPStatusCode: http.StatusNotFound, Message: "model does not exist"}, apierr.KindInvocation},
		{"400 context length", &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "maximum context length is 8192"}, apierr.KindTooLarge},
		{"deadline", context.DeadlineExceeded, apierr.KindTimeout},
		{"plain text", errors.New("connection reset"), apierr.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := &mockChatCompleter{err: tt.err}
			r := NewOpenAIRunner("key", "", testPrompts, withChatCompleter(mock))

			_, err := r.Run(context.Background(), Request{Pattern: "summarize"})
			if got := apierr.KindOf(err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", err, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestOpenAIRunner_Stream
// ---------------------------------------------------------------------------

func TestOpenAIRunner_Stream(t *testing.T) {
	t.Parallel()

	stream := &mockStream{deltas: []string{"# Ti", "tle\nfirst ", "line\nlast"}}
	mock := &mockChatCompleter{stream: stream}
	r := NewOpenAIRunner("key", "", testPrompts, withChatCompleter(mock))

	var lines []string
	got, err := r.Stream(context.Background(), Request{Pattern: "summarize"}, func(l string) {
		lines = append(lines, l)
	})
	if err != nil {
		t.Fatalf("Stream() unexpected error: %v", err)
	}
	if got != "# Title\nfirst line\nlast" {
		t.Errorf("Stream() = %q", got)
	}
	if strings.Join(lines, "|") != "# Title|first line|last" {
		t.Errorf("lines = %q", lines)
	}
	if !mock.lastRequest().Stream {
		t.Error("request not marked as streaming")
	}
	if !stream.closed {
		t.Error("stream not closed")
	}
}

func TestOpenAIRunner_Stream_MidStreamError(t *testing.T) {
	t.Parallel()

	stream := &mockStream{
		deltas: []string{"partial"},
		err:    &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"},
	}
	r := NewOpenAIRunner("key", "", testPrompts, withChatCompleter(&mockChatCompleter{stream: stream}))

	_, err := r.Stream(context.Background(), Request{Pattern: "summarize"}, nil)
	if !errors.Is(err, apierr.ErrRateLimit) {
		t.Errorf("Stream() error = %v, want ErrRateLimit", err)
	}
}
