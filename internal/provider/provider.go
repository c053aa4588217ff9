package provider

import (
	"context"
	"time"
)

// Request is a uniform completion request sent to any provider.
type Request struct {
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is a uniform completion response.
type Response struct {
	Content    string
	Provider   string
	Model      string
	TokensUsed int
	Latency    time.Duration
}

// Provider is one external LLM completion service. Implementations must be
// safe for concurrent use; a call failing should return an *Error so the
// gateway can classify it, otherwise the failure is treated as transient.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Static is a deterministic provider used for dry runs and tests. It renders
// a canned completion derived from the request prompt.
type Static struct {
	ProviderName string
	Fail         *Error // when set, every call fails with this error
}

func (s *Static) Name() string {
	return s.ProviderName
}

func (s *Static) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if s.Fail != nil {
		e := *s.Fail
		e.Provider = s.ProviderName
		return Response{}, &e
	}
	content := req.Prompt
	if len(content) > 64 {
		content = content[:64]
	}
	return Response{
		Content:    "// generated by " + s.ProviderName + "\n" + content,
		Provider:   s.ProviderName,
		Model:      req.Model,
		TokensUsed: len(req.Prompt) / 4,
	}, nil
}
