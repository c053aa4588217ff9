package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// stubClient returns canned responses without touching the network.
type stubClient struct {
	status  int
	headers http.Header
	body    string

	gotURL   string
	gotAuth  string
	gotReqID string
}

func (c *stubClient) Do(req *http.Request) (*http.Response, error) {
	c.gotURL = req.URL.String()
	c.gotAuth = req.Header.Get("Authorization")
	c.gotReqID = req.Header.Get("X-Request-Id")
	h := c.headers
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode: c.status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(c.body)),
	}, nil
}

const okBody = `{"choices":[{"message":{"content":"package main"}}],"usage":{"total_tokens":42},"model":"gpt-4o"}`

func TestHTTPProviderComplete(t *testing.T) {
	client := &stubClient{status: http.StatusOK, body: okBody}
	p := NewHTTPProviderWithClient("primary", "https://api.example.com/v1", "", client)

	resp, err := p.Complete(context.Background(), Request{Prompt: "generate", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "package main" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.TokensUsed != 42 {
		t.Errorf("tokens = %d, want 42", resp.TokensUsed)
	}
	if client.gotURL != "https://api.example.com/v1/chat/completions" {
		t.Errorf("URL = %q, want chat completions endpoint", client.gotURL)
	}
	if client.gotAuth != "" {
		t.Errorf("Authorization = %q, want none without a key", client.gotAuth)
	}
	if client.gotReqID == "" {
		t.Error("X-Request-Id header not set")
	}
}

func TestHTTPProviderBaseURLNormalization(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://api.example.com/v1", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/v1/", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/v1/chat/completions", "https://api.example.com/v1/chat/completions"},
	}

	for _, tt := range tests {
		client := &stubClient{status: http.StatusOK, body: okBody}
		p := NewHTTPProviderWithClient("p", tt.in, "", client)
		_, _ = p.Complete(context.Background(), Request{Prompt: "x"})
		if client.gotURL != tt.want {
			t.Errorf("baseURL %q resolved to %q, want %q", tt.in, client.gotURL, tt.want)
		}
	}
}

func TestHTTPProviderStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		want   ErrorKind
	}{
		{"429 is rate limited", http.StatusTooManyRequests, nil, KindRateLimited},
		{"503 is unavailable", http.StatusServiceUnavailable, nil, KindUnavailable},
		{"500 is transient", http.StatusInternalServerError, nil, KindTransient},
		{"502 is transient", http.StatusBadGateway, nil, KindTransient},
		{"400 is permanent", http.StatusBadRequest, nil, KindPermanent},
		{"401 is permanent", http.StatusUnauthorized, nil, KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{status: tt.status, headers: tt.header, body: `{"error":"nope"}`}
			p := NewHTTPProviderWithClient("p", "https://api.example.com/v1", "", client)

			_, err := p.Complete(context.Background(), Request{Prompt: "x"})
			if Classify(err) != tt.want {
				t.Errorf("kind = %s, want %s", Classify(err), tt.want)
			}
		})
	}
}

func TestHTTPProviderRetryAfterHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")
	client := &stubClient{status: http.StatusTooManyRequests, headers: h, body: "slow down"}
	p := NewHTTPProviderWithClient("p", "https://api.example.com/v1", "", client)

	_, err := p.Complete(context.Background(), Request{Prompt: "x"})
	if got := RetryAfter(err); got != 7*time.Second {
		t.Errorf("retry-after = %s, want 7s", got)
	}
}

func TestHTTPProviderInvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Malformed JSON", "not json at all"},
		{"No choices", `{"choices":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{status: http.StatusOK, body: tt.body}
			p := NewHTTPProviderWithClient("p", "https://api.example.com/v1", "", client)

			_, err := p.Complete(context.Background(), Request{Prompt: "x"})
			if Classify(err) != KindInvalidOutput {
				t.Errorf("kind = %s, want invalid_output", Classify(err))
			}
		})
	}
}

type failingClient struct{ err error }

func (c *failingClient) Do(req *http.Request) (*http.Response, error) { return nil, c.err }

func TestHTTPProviderTransportError(t *testing.T) {
	p := NewHTTPProviderWithClient("p", "https://api.example.com/v1", "", &failingClient{err: errors.New("connection refused")})
	_, err := p.Complete(context.Background(), Request{Prompt: "x"})
	if Classify(err) != KindTransient {
		t.Errorf("kind = %s, want transient", Classify(err))
	}
}
