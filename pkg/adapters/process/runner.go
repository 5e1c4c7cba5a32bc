// Package process runs allow-listed local commands as agent tools.
//
// Tool arguments never reach the command line. Each argument is passed as an
// environment variable named WAYPOINT_ARG_<KEY>, which rules out flag injection.
// Standard output becomes the tool result, parsed as JSON when it looks like JSON.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/waypoint/pkg/tools"
)

// WaitDelay bounds how long a killed command may keep its output pipes open.
const WaitDelay = 500 * time.Millisecond

// Runner executes local processes.
// It follows a Strict Registry pattern for security (Allow-Listing).
type Runner struct {
	mu       sync.RWMutex
	registry map[string]Config
	baseDir  string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list.
func WithRegistry(cmds map[string]Config) RunnerOption {
	return func(r *Runner) {
		for name, c := range cmds {
			r.registry[name] = c
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]Config),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.RegisterConfig(name, Config{Command: command, Args: args})
}

// RegisterConfig adds a trusted command with its full configuration.
func (r *Runner) RegisterConfig(name string, c Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[name] = c
}

// Capability returns the tool capability running the command registered as name.
func (r *Runner) Capability(name string) tools.Capability {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return r.Execute(ctx, name, args)
	}
}

// Execute runs the command registered as name with args in its environment.
// A non-zero exit status is an error carrying the command's stderr.
func (r *Runner) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	proc, ok := r.registry[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("process tool not registered: %s", name)
	}

	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = r.baseDir
	if proc.Dir != "" {
		cmd.Dir = proc.Dir
	}
	cmd.Env = append(cmd.Environ(), Env(proc.Environment, args)...)
	cmd.WaitDelay = WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("execution interrupted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("execution failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseOutput(stdout.String()), nil
}

// Env renders static variables and tool arguments as KEY=VALUE pairs in a stable order.
// Scalars are formatted as-is; maps and slices are JSON encoded.
func Env(static map[string]string, args map[string]any) []string {
	env := make([]string, 0, len(static)+len(args))
	for k, v := range static {
		env = append(env, k+"="+v)
	}
	for k, v := range args {
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		case nil:
			val = ""
		default:
			if b, err := json.Marshal(v); err == nil {
				val = string(b)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, EnvPrefix+strings.ToUpper(k)+"="+val)
	}
	sort.Strings(env)
	return env
}

func parseOutput(output string) any {
	trimmed := strings.TrimSpace(output)
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return trimmed
}
