// Package generative wraps the outbound chat-completion capability.
//
// The client speaks the OpenAI-compatible wire shape: bearer credential,
// JSON body {model, messages, temperature, max_tokens}, reply text in
// choices[0].message.content and usage counters in usage.*_tokens.
package generative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/OnslaughtSnail/parley/kernel/dialog"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultTemperature = 0.7
	defaultMaxTokens   = 256

	// contextTurns bounds how much history is replayed to the model:
	// the last five user/bot exchange pairs.
	contextTurns = 10

	systemPrompt = "You are a friendly conversational assistant. " +
		"Answer briefly and naturally, in the tone of casual small talk. " +
		"Use the preceding conversation for context when it helps."
)

// ErrorKind classifies a completion failure.
type ErrorKind string

const (
	KindTimeout  ErrorKind = "timeout"
	KindUpstream ErrorKind = "upstream"
)

// ServiceError is the uniform failure shape of the generative boundary.
// Callers never see raw upstream error bodies beyond this wrapper.
type ServiceError struct {
	Kind ErrorKind
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("generative: %s: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Completion is a successful generative reply.
type Completion struct {
	Text  string
	Usage dialog.Usage
}

// Config configures the completion client. Zero values select defaults;
// BaseURL, Model and Token are required.
type Config struct {
	BaseURL     string
	Model       string
	Token       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client calls the external completion API.
type Client struct {
	baseURL     string
	model       string
	token       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("generative: base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("generative: model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		token:       cfg.Token,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends message plus bounded session history to the completion
// API. Missing usage counters decode to zero rather than failing the call.
func (c *Client) Complete(ctx context.Context, message string, hist []dialog.Turn) (*Completion, error) {
	payload := wireRequest{
		Model:       c.model,
		Messages:    buildMessages(message, hist),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &ServiceError{Kind: KindUpstream, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, &ServiceError{Kind: KindUpstream, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &ServiceError{Kind: KindTimeout, Err: err}
		}
		return nil, &ServiceError{Kind: KindUpstream, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &ServiceError{Kind: KindUpstream, Err: statusError(resp)}
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ServiceError{Kind: KindUpstream, Err: err}
	}
	if len(out.Choices) == 0 {
		return nil, &ServiceError{Kind: KindUpstream, Err: fmt.Errorf("generative: empty choices")}
	}
	return &Completion{
		Text: out.Choices[0].Message.Content,
		Usage: dialog.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

// buildMessages is one fixed system instruction, then up to the last
// contextTurns history entries in original order, then the current user
// message last.
func buildMessages(message string, hist []dialog.Turn) []wireMessage {
	if len(hist) > contextTurns {
		hist = hist[len(hist)-contextTurns:]
	}
	out := make([]wireMessage, 0, len(hist)+2)
	out = append(out, wireMessage{Role: "system", Content: systemPrompt})
	for _, turn := range hist {
		role := "user"
		if turn.Role == dialog.RoleBot {
			role = "assistant"
		}
		out = append(out, wireMessage{Role: role, Content: turn.Text})
	}
	out = append(out, wireMessage{Role: "user", Content: message})
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return fmt.Errorf("generative: http status %d", resp.StatusCode)
	}
	return fmt.Errorf("generative: http status %d body=%s", resp.StatusCode, body)
}
