package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

// Mask replaces every masked value.
const Mask = "***"

type piiMiddleware struct {
	next    ports.SessionStore
	keys    []*regexp.Regexp
	content []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks sensitive history data before it is stored.
// Values under map keys matching keyPatterns are replaced in structured answers and tool
// arguments and results. Substrings matching contentPatterns are replaced in entry text.
// Masking is one-way: Load returns what was stored.
func NewPIIMiddleware(keyPatterns []string, contentPatterns ...string) (Middleware, error) {
	keys, err := compileAll(keyPatterns)
	if err != nil {
		return nil, err
	}
	content, err := compileAll(contentPatterns)
	if err != nil {
		return nil, err
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &piiMiddleware{next: next, keys: keys, content: content}
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pii pattern %q: %w", p, err)
		}
		out[i] = re
	}
	return out, nil
}

func (m *piiMiddleware) Save(ctx context.Context, s *domain.Session) error {
	// Clone so the session held by the engine stays untouched.
	cloned := s.Clone()
	for i := range cloned.History {
		e := &cloned.History[i]
		e.Content = m.maskText(e.Content)
		if e.Data != nil {
			e.Data = deepCopyMap(e.Data)
			m.maskMap(e.Data)
		}
		if e.Tool != nil {
			if e.Tool.Args != nil {
				e.Tool.Args = deepCopyMap(e.Tool.Args)
				m.maskMap(e.Tool.Args)
			}
			if res, ok := e.Tool.Result.(map[string]any); ok {
				res = deepCopyMap(res)
				m.maskMap(res)
				e.Tool.Result = res
			} else if str, ok := e.Tool.Result.(string); ok {
				e.Tool.Result = m.maskText(str)
			}
		}
	}
	return m.next.Save(ctx, cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.next.Load(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// Helpers

func (m *piiMiddleware) maskText(s string) string {
	for _, p := range m.content {
		s = p.ReplaceAllString(s, Mask)
	}
	return s
}

func (m *piiMiddleware) maskMap(data map[string]any) {
	for k, v := range data {
		masked := false
		for _, p := range m.keys {
			if p.MatchString(k) {
				data[k] = Mask
				masked = true
				break
			}
		}
		if masked {
			continue
		}
		switch x := v.(type) {
		case map[string]any:
			m.maskMap(x)
		case string:
			data[k] = m.maskText(x)
		}
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}
