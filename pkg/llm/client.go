// Package llm talks to the hosted language models used for editorial
// selection, narrative detection and breaking-news checks.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Completer sends a single-turn prompt and returns the model's text.
// Implementations do not retry.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Provider names accepted in configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Options configures a provider.
type Options struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	HTTPClient        *http.Client
}

// New builds the Completer for opts.Provider, rate limited when
// RequestsPerMinute is positive.
func New(opts Options) (Completer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required for provider %q", opts.Provider)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	var c Completer
	switch opts.Provider {
	case ProviderAnthropic, "":
		c = newAnthropic(opts)
	case ProviderOpenAI:
		c = newOpenAI(opts)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", opts.Provider)
	}

	if opts.RequestsPerMinute > 0 {
		c = RateLimited(c, rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1))
	}
	return c, nil
}

type limited struct {
	next    Completer
	limiter *rate.Limiter
}

// RateLimited wraps c so each call waits for a token from limiter.
func RateLimited(c Completer, limiter *rate.Limiter) Completer {
	return &limited{next: c, limiter: limiter}
}

func (l *limited) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}
	return l.next.Complete(ctx, prompt, maxTokens)
}

type unavailable struct{ err error }

// Unavailable returns a Completer that always fails with err. Jobs built on it
// take their no-model path.
func Unavailable(err error) Completer {
	return unavailable{err: err}
}

func (u unavailable) Complete(context.Context, string, int) (string, error) {
	return "", u.err
}
