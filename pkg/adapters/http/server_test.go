package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/waypoint"
	"github.com/aretw0/waypoint/pkg/adapters/llm/scripted"
	"github.com/aretw0/waypoint/pkg/loader"
	"github.com/aretw0/waypoint/pkg/metrics"
)

const definition = `
start: greet
steps:
  - id: greet
    description: Greet the visitor.
    routes: [bye]
  - id: bye
    description: Say goodbye.
`

func newAgent(t *testing.T, opts ...waypoint.Option) *waypoint.Agent {
	t.Helper()
	def, err := loader.Parse([]byte(definition))
	require.NoError(t, err)
	b, err := loader.Compile(def)
	require.NoError(t, err)

	llm := scripted.New(map[string][]string{
		"greet": {`{"action":"ASK","response":"Hello!"}`, `{"action":"MOVE","next_step_id":"bye"}`},
		"bye":   {`{"action":"END"}`},
	})
	agent, err := waypoint.New(context.Background(), b, append([]waypoint.Option{waypoint.WithLLM(llm)}, opts...)...)
	require.NoError(t, err)
	return agent
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestServer_SessionLifecycle(t *testing.T) {
	h := NewHandler(newAgent(t))

	w := do(t, h, "POST", "/sessions", `{"session_id":"s1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[TurnResponse](t, w)
	assert.Equal(t, "s1", created.SessionID)
	assert.Equal(t, "greet", created.CurrentStepID)
	assert.Nil(t, created.Decision)

	w = do(t, h, "POST", "/sessions", `{"session_id":"s1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, "POST", "/sessions/s1/turns", `{"input":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	turn := decode[TurnResponse](t, w)
	require.NotNil(t, turn.Decision)
	assert.Equal(t, "ASK", string(turn.Decision.Action))
	assert.Equal(t, "Hello!", turn.Decision.Response)
	require.NotNil(t, turn.Diff)
	assert.Len(t, turn.Diff.Appended, 2)

	w = do(t, h, "POST", "/sessions/s1/turns", `{"input":"bye"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bye", decode[TurnResponse](t, w).CurrentStepID)

	w = do(t, h, "POST", "/sessions/s1/turns", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "terminated", string(decode[TurnResponse](t, w).Status))

	w = do(t, h, "POST", "/sessions/s1/turns", `{"input":"again"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "session_terminated", decode[ErrorResponse](t, w).Code)

	w = do(t, h, "GET", "/sessions/s1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[HistoryResponse](t, w)
	assert.Equal(t, "hi", history.History[0].Content)

	w = do(t, h, "GET", "/sessions/s1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "GET", "/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"s1"}, decode[SessionsResponse](t, w).Sessions)

	w = do(t, h, "DELETE", "/sessions/s1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/sessions/s1/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_CreateWithoutBody(t *testing.T) {
	h := NewHandler(newAgent(t, waypoint.WithIDGenerator(func() string { return "generated" })))

	w := do(t, h, "POST", "/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "generated", decode[TurnResponse](t, w).SessionID)
}

func TestServer_CreateWithInitiate(t *testing.T) {
	h := NewHandler(newAgent(t, waypoint.WithIDGenerator(func() string { return "generated" })))

	w := do(t, h, "POST", "/sessions", `{"session_id":"s1","initiate":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[TurnResponse](t, w)
	require.NotNil(t, created.Decision)
	assert.Equal(t, "ASK", string(created.Decision.Action))
	assert.Equal(t, "Hello!", created.Decision.Response)

	w = do(t, h, "POST", "/sessions", `{"initiate":false}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created = decode[TurnResponse](t, w)
	assert.Equal(t, "generated", created.SessionID)
	assert.Nil(t, created.Decision)
}

func TestServer_Errors(t *testing.T) {
	h := NewHandler(newAgent(t))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown session", "POST", "/sessions/nope/turns", `{"input":"x"}`, http.StatusNotFound, "session_not_found"},
		{"bad body", "POST", "/sessions/nope/turns", `{"input":`, http.StatusBadRequest, "bad_request"},
		{"unknown step", "GET", "/steps/nope/schema", "", http.StatusNotFound, "step_not_found"},
		{"delete unknown", "DELETE", "/sessions/nope", "", http.StatusNotFound, "session_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestServer_InputTooLarge(t *testing.T) {
	h := NewHandler(newAgent(t))
	require.Equal(t, http.StatusCreated, do(t, h, "POST", "/sessions", `{"session_id":"big"}`).Code)

	body, err := json.Marshal(TurnRequest{Input: strings.Repeat("a", waypoint.DefaultMaxInputSize+1)})
	require.NoError(t, err)
	w := do(t, h, "POST", "/sessions/big/turns", string(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestServer_Schema(t *testing.T) {
	h := NewHandler(newAgent(t))

	w := do(t, h, "GET", "/steps/greet/schema", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sc))
	assert.Equal(t, "greet", sc["step_id"])

	w = do(t, h, "GET", "/steps/greet/schema?format=openapi", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "oneOf")
}

func TestServer_HealthAndInfo(t *testing.T) {
	h := NewHandler(newAgent(t))

	w := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = do(t, h, "GET", "/info", "")
	assert.Equal(t, waypoint.Version, decode[map[string]string](t, w)["version"])
}

func TestServer_Metrics(t *testing.T) {
	collector := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	h := NewHandler(newAgent(t, waypoint.WithLifecycleHooks(collector.Hooks())), WithMetrics(reg))
	require.Equal(t, http.StatusCreated, do(t, h, "POST", "/sessions", `{"session_id":"m"}`).Code)

	w := do(t, h, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `waypoint_step_visits_total{step_id="greet"} 1`)

	w = do(t, NewHandler(newAgent(t)), "GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_CORS(t *testing.T) {
	h := NewHandler(newAgent(t))

	req := httptest.NewRequest("OPTIONS", "/sessions", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubscribeEvents_Session(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newAgent(t)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sessions", "application/json", strings.NewReader(`{"session_id":"live"}`))
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/sessions/live/events?watch=history", nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	lines := bufio.NewScanner(stream.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: ping", lines.Text())

	resp, err = http.Post(srv.URL+"/sessions/live/turns", "application/json", bytes.NewReader([]byte(`{"input":"hi"}`)))
	require.NoError(t, err)
	resp.Body.Close()

	var data string
	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "data: {") {
			data = strings.TrimPrefix(lines.Text(), "data: ")
			break
		}
	}
	require.NotEmpty(t, data)
	assert.Contains(t, data, `"session_id":"live"`)
	assert.Contains(t, data, "Hello!")
}

func TestMatches(t *testing.T) {
	msg := `{"session_id":"s","status":"terminated"}`
	assert.True(t, matches(msg, []string{"status"}))
	assert.False(t, matches(msg, []string{"history", "step"}))
}
