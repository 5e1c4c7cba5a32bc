// Package scripted provides an LLM that replays canned decisions per step.
//
// It drives demos and end-to-end tests without a model provider. Replies are
// consumed in order for the step being decided; once a step's list is exhausted
// its last reply repeats. The "*" key holds replies for steps without their own.
package scripted

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/waypoint/pkg/ports"
)

// AnyStep keys the replies used for steps without their own list.
const AnyStep = "*"

// LLM replays scripted decisions. Safe for concurrent use.
type LLM struct {
	mu      sync.Mutex
	replies map[string][][]byte
	cursor  map[string]int
}

// New creates a scripted LLM from raw JSON replies per step id.
func New(replies map[string][]string) *LLM {
	l := &LLM{
		replies: make(map[string][][]byte, len(replies)),
		cursor:  make(map[string]int),
	}
	for step, list := range replies {
		for _, r := range list {
			l.replies[step] = append(l.replies[step], []byte(r))
		}
	}
	return l
}

// Load reads a YAML script mapping step ids to decision objects.
func Load(path string) (*LLM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML script mapping step ids to decision objects.
func Parse(data []byte) (*LLM, error) {
	var doc map[string][]map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	replies := make(map[string][]string, len(doc))
	for step, list := range doc {
		for i, d := range list {
			b, err := json.Marshal(d)
			if err != nil {
				return nil, fmt.Errorf("step %s reply %d: %w", step, i, err)
			}
			replies[step] = append(replies[step], string(b))
		}
	}
	return New(replies), nil
}

// Generate returns the next reply for req.StepID.
func (l *LLM) Generate(ctx context.Context, req *ports.GenerateRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := req.StepID
	list, ok := l.replies[key]
	if !ok || len(list) == 0 {
		key = AnyStep
		list = l.replies[key]
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no scripted reply for step %q", req.StepID)
	}

	i := l.cursor[key]
	if i >= len(list) {
		i = len(list) - 1
	} else {
		l.cursor[key] = i + 1
	}
	return list[i], nil
}

var _ ports.LLM = (*LLM)(nil)
