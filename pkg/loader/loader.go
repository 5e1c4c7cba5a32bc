// Package loader reads YAML agent definitions and compiles them into a
// validated step graph, a tool registry and runtime settings.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/waypoint/internal/config"
	"github.com/aretw0/waypoint/pkg/adapters/process"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/graph"
	"github.com/aretw0/waypoint/pkg/tools"
	"github.com/aretw0/waypoint/pkg/tools/httptool"
)

// Tool kinds.
const (
	KindBuiltin = "builtin"
	KindHTTP    = "http"
	KindProcess = "process"
)

// Definition is the decoded form of an agent file.
type Definition struct {
	Name     string             `yaml:"name" mapstructure:"name"`
	Persona  string             `yaml:"persona" mapstructure:"persona"`
	Start    string             `yaml:"start" mapstructure:"start"`
	Initiate bool               `yaml:"initiate" mapstructure:"initiate"`
	Runtime  map[string]any     `yaml:"runtime" mapstructure:"runtime"`
	Tools    []ToolDef          `yaml:"tools" mapstructure:"tools"`
	Steps    []domain.Step      `yaml:"steps" mapstructure:"steps"`
	Flows    []domain.FlowGroup `yaml:"flows" mapstructure:"flows"`
}

// ToolDef declares a tool and the capability backing it.
// Without http or process settings the tool is builtin: it must name a builtin
// tool or a capability passed with WithCapability.
type ToolDef struct {
	domain.Tool `yaml:",inline" mapstructure:",squash"`
	HTTP        *httptool.Config `yaml:"http" mapstructure:"http"`
	Process     *process.Config  `yaml:"process" mapstructure:"process"`
}

// Kind reports how the tool is executed.
func (t ToolDef) Kind() string {
	switch {
	case t.HTTP != nil:
		return KindHTTP
	case t.Process != nil:
		return KindProcess
	default:
		return KindBuiltin
	}
}

// Bundle is a compiled agent definition.
type Bundle struct {
	Name     string
	Persona  string
	Initiate bool
	// BaseDir is the directory relative paths in the definition resolve against.
	BaseDir string
	Graph   *graph.Graph
	Tools   *tools.Registry
	Config  *config.Config
}

// Option configures compilation.
type Option func(*options)

type options struct {
	baseDir      string
	capabilities map[string]tools.Capability
}

// WithBaseDir sets the working directory of process tools.
// Load defaults it to the directory of the agent file.
func WithBaseDir(dir string) Option {
	return func(o *options) {
		o.baseDir = dir
	}
}

// WithCapability binds a Go function to a builtin tool declared by name.
func WithCapability(name string, fn tools.Capability) Option {
	return func(o *options) {
		o.capabilities[name] = fn
	}
}

// Load reads and compiles the agent file at path.
func Load(path string, opts ...Option) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	opts = append([]Option{WithBaseDir(filepath.Dir(path))}, opts...)
	return Compile(def, opts...)
}

// Parse decodes an agent definition without compiling it.
// Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("agent definition is empty")
	}

	var def Definition
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &def,
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			routeShorthand,
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid agent definition: %w", err)
	}
	return &def, nil
}

// Compile builds the tool registry, the graph and the runtime settings of def.
func Compile(def *Definition, opts ...Option) (*Bundle, error) {
	o := &options{capabilities: make(map[string]tools.Capability)}
	for _, opt := range opts {
		opt(o)
	}

	cfg, err := config.Load(def.Runtime)
	if err != nil {
		return nil, err
	}

	registry, err := buildTools(def.Tools, o)
	if err != nil {
		return nil, err
	}

	g, err := graph.New(def.Steps, def.Start, graph.WithTools(registry), graph.WithFlows(def.Flows...))
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Name:     def.Name,
		Persona:  def.Persona,
		Initiate: def.Initiate,
		BaseDir:  o.baseDir,
		Graph:    g,
		Tools:    registry,
		Config:   cfg,
	}, nil
}

func buildTools(defs []ToolDef, o *options) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	runner := process.NewRunner(process.WithBaseDir(o.baseDir))

	for _, td := range defs {
		tool := td.Tool
		var fn tools.Capability

		switch td.Kind() {
		case KindHTTP:
			ht, err := httptool.New(*td.HTTP)
			if err != nil {
				return nil, fmt.Errorf("tool %q: %w", tool.Name, err)
			}
			fn = ht.Capability()
		case KindProcess:
			if td.Process.Command == "" {
				return nil, fmt.Errorf("tool %q: process command is required", tool.Name)
			}
			runner.RegisterConfig(tool.Name, *td.Process)
			fn = runner.Capability(tool.Name)
		default:
			if c, ok := o.capabilities[tool.Name]; ok {
				fn = c
			} else if b, ok := tools.Builtins[tool.Name]; ok {
				fn = b.Fn
				if tool.Description == "" {
					tool.Description = b.Tool.Description
				}
				if tool.Parameters == nil {
					tool.Parameters = b.Tool.Parameters
				}
			} else {
				return nil, fmt.Errorf("tool %q: no builtin or bound capability with that name", tool.Name)
			}
		}

		if err := registry.Register(tool, fn); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// routeShorthand lets a route be written as its bare target name.
func routeShorthand(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.String && to == reflect.TypeOf(domain.Route{}) {
		return map[string]any{"target": data}, nil
	}
	return data, nil
}
