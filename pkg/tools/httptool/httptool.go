// Package httptool exposes remote HTTP endpoints as agent tools.
package httptool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"

	"github.com/aretw0/waypoint/pkg/tools"
)

var validate = validator.New()

// Config describes one HTTP endpoint.
// URL may contain {key} placeholders filled from tool arguments; the remaining
// arguments become query parameters for GET and DELETE and a JSON body otherwise.
type Config struct {
	URL         string            `yaml:"url" json:"url" mapstructure:"url" validate:"required,url"`
	Method      string            `yaml:"method" json:"method" mapstructure:"method" default:"GET" validate:"oneof=GET POST PUT PATCH DELETE"`
	Headers     map[string]string `yaml:"headers" json:"headers" mapstructure:"headers"`
	Timeout     time.Duration     `yaml:"timeout" json:"timeout" mapstructure:"timeout" default:"30s" validate:"gte=1ms"`
	MaxRetries  int               `yaml:"max_retries" json:"max_retries" mapstructure:"max_retries" default:"0" validate:"gte=0,lte=10"`
	RetryWaitMS int               `yaml:"retry_wait_ms" json:"retry_wait_ms" mapstructure:"retry_wait_ms" default:"100" validate:"gte=0,lte=10000"`
}

// Tool calls a configured endpoint.
type Tool struct {
	cfg    Config
	client *resty.Client
}

// New applies defaults, validates cfg and builds the client.
func New(cfg Config) (*Tool, error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply http tool defaults: %w", err)
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid http tool config: %w", err)
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryWaitMS) * time.Millisecond).
		SetHeaders(cfg.Headers)

	return &Tool{cfg: cfg, client: client}, nil
}

// Capability returns t as a tool capability.
func (t *Tool) Capability() tools.Capability {
	return t.Call
}

// Call performs the request. Responses with a status of 400 or above are errors.
// JSON responses are decoded; anything else is returned as text.
func (t *Tool) Call(ctx context.Context, args map[string]any) (any, error) {
	target, rest := expand(t.cfg.URL, args)

	req := t.client.R().SetContext(ctx)
	switch t.cfg.Method {
	case "GET", "DELETE":
		for k, v := range rest {
			req.SetQueryParam(k, scalar(v))
		}
	default:
		req.SetHeader("Content-Type", "application/json").SetBody(rest)
	}

	resp, err := req.Execute(t.cfg.Method, target)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	body := decode(resp.Body())
	if resp.IsError() {
		return nil, fmt.Errorf("HTTP %s: %v", resp.Status(), body)
	}
	return body, nil
}

// expand fills {key} placeholders and returns the arguments left over.
func expand(raw string, args map[string]any) (string, map[string]any) {
	rest := make(map[string]any, len(args))
	for k, v := range args {
		placeholder := "{" + k + "}"
		if strings.Contains(raw, placeholder) {
			raw = strings.ReplaceAll(raw, placeholder, url.PathEscape(scalar(v)))
			continue
		}
		rest[k] = v
	}
	return raw, rest
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any, []any:
		b, _ := json.Marshal(x)
		return string(b)
	}
	return fmt.Sprint(v)
}

func decode(body []byte) any {
	var v any
	if len(body) > 0 && json.Unmarshal(body, &v) == nil {
		return v
	}
	return strings.TrimSpace(string(body))
}
