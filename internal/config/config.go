// Package config holds the runtime settings of an agent and their defaults.
//
// Settings come from the runtime block of an agent definition, then WAYPOINT_*
// environment variables, then struct-tag defaults, and are validated last.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WAYPOINT_"

var validate = validator.New()

// Config are the runtime settings.
type Config struct {
	MaxErrors       int           `yaml:"max_errors" mapstructure:"max_errors" default:"3" validate:"gte=0"`
	MaxChain        int           `yaml:"max_chain" mapstructure:"max_chain" default:"25" validate:"gte=1"`
	DefaultMaxIter  int           `yaml:"default_max_iter" mapstructure:"default_max_iter" default:"5" validate:"gte=1"`
	Fallback        string        `yaml:"fallback" mapstructure:"fallback" default:"apology" validate:"oneof=silent apology error"`
	FallbackMessage string        `yaml:"fallback_message" mapstructure:"fallback_message"`
	HistoryWindow   string        `yaml:"history_window" mapstructure:"history_window" default:"full" validate:"oneof=full flow"`
	LLMTimeout      time.Duration `yaml:"llm_timeout" mapstructure:"llm_timeout" default:"60s" validate:"gte=0"`
	ToolTimeout     time.Duration `yaml:"tool_timeout" mapstructure:"tool_timeout" default:"30s" validate:"gte=0"`
	Overlap         string        `yaml:"overlap" mapstructure:"overlap" default:"queue" validate:"oneof=queue reject"`

	Store      string        `yaml:"store" mapstructure:"store" default:"memory" validate:"oneof=memory file redis sqlite postgres"`
	StoreDSN   string        `yaml:"store_dsn" mapstructure:"store_dsn" validate:"required_if=Store sqlite,required_if=Store postgres"`
	StorePath  string        `yaml:"store_path" mapstructure:"store_path"`
	RedisAddr  string        `yaml:"redis_addr" mapstructure:"redis_addr" validate:"required_if=Store redis"`
	SessionTTL time.Duration `yaml:"session_ttl" mapstructure:"session_ttl" validate:"gte=0"`

	// EncryptionKey is a 32-byte key, hex encoded, enabling encryption at rest.
	EncryptionKey string   `yaml:"encryption_key" mapstructure:"encryption_key" validate:"omitempty,hexadecimal,len=64"`
	PIIKeys       []string `yaml:"pii_keys" mapstructure:"pii_keys"`
	PIIPatterns   []string `yaml:"pii_patterns" mapstructure:"pii_patterns"`

	LLM LLMConfig `yaml:"llm" mapstructure:"llm"`

	Addr      string `yaml:"addr" mapstructure:"addr" default:":8080"`
	LogLevel  string `yaml:"log_level" mapstructure:"log_level" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format" default:"text" validate:"oneof=text json"`
}

// LLMConfig selects the decision capability.
type LLMConfig struct {
	Kind    string            `yaml:"kind" mapstructure:"kind" default:"scripted" validate:"oneof=scripted webhook"`
	Script  string            `yaml:"script" mapstructure:"script"`
	URL     string            `yaml:"url" mapstructure:"url" validate:"required_if=Kind webhook,omitempty,url"`
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
	Retries int               `yaml:"retries" mapstructure:"retries" validate:"gte=0,lte=10"`
}

// Load merges raw (the decoded runtime block, may be nil) with environment
// overrides, applies defaults and validates the result.
func Load(raw map[string]any) (*Config, error) {
	return load(raw, os.Environ())
}

func load(raw map[string]any, environ []string) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	merged := make(map[string]any, len(raw))
	for k, v := range raw {
		merged[k] = v
	}
	for k, v := range envOverrides(environ) {
		setPath(merged, k, v)
	}

	if len(merged) > 0 {
		if err := Decode(merged, &cfg); err != nil {
			return nil, fmt.Errorf("failed to apply config values: %w", err)
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	cfg, err := load(nil, nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Decode copies a loosely typed map into out, converting duration strings.
func Decode(input any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Validate checks cfg and formats every failing field.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("field '%s' failed validation (rule: %s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// envOverrides maps WAYPOINT_* variables to dotted keys: WAYPOINT_LLM__URL -> llm.url.
func envOverrides(environ []string) map[string]string {
	known := yamlKeys(reflect.TypeOf(Config{}), "")
	out := make(map[string]string)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if known[key] {
			out[key] = v
		}
	}
	return out
}

func yamlKeys(t reflect.Type, prefix string) map[string]bool {
	keys := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || f.Type.Kind() == reflect.Map {
			continue
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			for k := range yamlKeys(f.Type, prefix+name+".") {
				keys[k] = true
			}
			continue
		}
		keys[prefix+name] = true
	}
	return keys
}

func setPath(m map[string]any, path, value string) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		m[head] = value
		return
	}
	sub := make(map[string]any)
	if existing, ok := m[head].(map[string]any); ok {
		for k, v := range existing {
			sub[k] = v
		}
	}
	m[head] = sub
	setPath(sub, rest, value)
}
