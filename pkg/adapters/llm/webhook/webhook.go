// Package webhook delegates decisions to a remote HTTP endpoint.
//
// The endpoint receives the ports.GenerateRequest as a JSON body and must answer
// with the decision object. Prompt formatting and the model call live behind it.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aretw0/waypoint/pkg/ports"
)

// LLM posts decision requests to an endpoint.
type LLM struct {
	url    string
	client *resty.Client
}

// Option configures the LLM.
type Option func(*LLM)

// WithHeader adds a header to every request, typically for authentication.
func WithHeader(key, value string) Option {
	return func(l *LLM) {
		l.client.SetHeader(key, value)
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(l *LLM) {
		l.client.SetTimeout(d)
	}
}

// WithRetries retries failed requests count times, waiting wait between attempts.
func WithRetries(count int, wait time.Duration) Option {
	return func(l *LLM) {
		l.client.SetRetryCount(count).SetRetryWaitTime(wait)
	}
}

// New creates a webhook LLM targeting url.
func New(url string, opts ...Option) *LLM {
	l := &LLM{
		url:    url,
		client: resty.New().SetHeader("Content-Type", "application/json"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Generate posts req and returns the response body.
func (l *LLM) Generate(ctx context.Context, req *ports.GenerateRequest) ([]byte, error) {
	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(l.url)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("webhook returned %s: %s", resp.Status(), resp.String())
	}
	return resp.Body(), nil
}

var _ ports.LLM = (*LLM)(nil)
