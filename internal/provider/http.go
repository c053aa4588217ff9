package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPClient interface for HTTP requests (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// HTTPProvider talks to an OpenAI-compatible chat completions endpoint.
type HTTPProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  HTTPClient
}

// NewHTTPProvider builds a provider for an OpenAI-compatible endpoint.
// apiKeyEnv names the environment variable holding the key; an empty value
// sends no Authorization header, which local inference servers accept.
func NewHTTPProvider(name, baseURL, apiKeyEnv string) *HTTPProvider {
	return NewHTTPProviderWithClient(name, baseURL, apiKeyEnv, &http.Client{Timeout: 120 * time.Second})
}

func NewHTTPProviderWithClient(name, baseURL, apiKeyEnv string, client HTTPClient) *HTTPProvider {
	apiKey := ""
	if apiKeyEnv != "" {
		apiKey = os.Getenv(apiKeyEnv)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasSuffix(baseURL, "/chat/completions") {
		if strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/chat/completions"
		} else {
			baseURL += "/v1/chat/completions"
		}
	}
	return &HTTPProvider{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func (p *HTTPProvider) Complete(ctx context.Context, req Request) (Response, error) {
	msgs := make([]chatMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Correlation ID for tracing one attempt across provider-side logs.
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, WrapError(KindTransient, p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{}, p.statusError(resp, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, NewError(KindInvalidOutput, p.name, fmt.Sprintf("decoding response: %v", err))
	}
	if len(parsed.Choices) == 0 {
		return Response{}, NewError(KindInvalidOutput, p.name, "response contained no choices")
	}

	model := parsed.Model
	if model == "" {
		model = req.Model
	}
	return Response{
		Content:    parsed.Choices[0].Message.Content,
		Provider:   p.name,
		Model:      model,
		TokensUsed: parsed.Usage.TotalTokens,
		Latency:    time.Since(start),
	}, nil
}

// statusError maps an HTTP failure status to an error kind.
func (p *HTTPProvider) statusError(resp *http.Response, detail string) error {
	msg := fmt.Sprintf("API error %d: %s", resp.StatusCode, detail)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e := NewError(KindRateLimited, p.name, msg)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
		return e
	case resp.StatusCode == http.StatusServiceUnavailable:
		return NewError(KindUnavailable, p.name, msg)
	case resp.StatusCode >= 500:
		return NewError(KindTransient, p.name, msg)
	default:
		return NewError(KindPermanent, p.name, msg)
	}
}
