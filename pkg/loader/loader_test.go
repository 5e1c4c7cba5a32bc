package loader_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/loader"
	"github.com/aretw0/waypoint/pkg/tools"
)

func TestLoad(t *testing.T) {
	b, err := loader.Load("testdata/support.yaml")
	require.NoError(t, err)

	assert.Equal(t, "support", b.Name)
	assert.True(t, b.Initiate)
	assert.Contains(t, b.Persona, "support agent")
	assert.Equal(t, "greet", b.Graph.Start())

	greet, err := b.Graph.Get("greet")
	require.NoError(t, err)
	assert.Equal(t, []domain.Route{
		{Target: "lookup"},
		{Target: "bye", Condition: "the customer has nothing else to ask"},
	}, greet.Routes)

	lookup, err := b.Graph.Get("lookup")
	require.NoError(t, err)
	assert.Equal(t, 3, lookup.MaxIter)
	require.Len(t, lookup.AnswerModel, 1)
	assert.True(t, lookup.AnswerModel[0].Required)

	flows := b.Graph.Flows()
	require.Len(t, flows, 1)
	require.NotNil(t, flows[0].Memory)
	assert.Equal(t, domain.MemoryRecent, flows[0].Memory.Method)
	assert.Equal(t, 4, flows[0].Memory.Capacity)

	assert.Equal(t, 2, b.Config.MaxErrors)
	assert.Equal(t, "silent", b.Config.Fallback)
	assert.Equal(t, 10*time.Second, b.Config.LLMTimeout)

	echo, ok := b.Tools.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, tools.EchoTool.Description, echo.Description, "builtin definition fills the gaps")
}

func TestLoad_ProcessTool(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	b, err := loader.Load("testdata/support.yaml")
	require.NoError(t, err)

	inv := tools.NewInvoker(b.Tools)
	out, err := inv.Invoke(context.Background(), "disk_usage", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "MB", out)
}

func TestCompile_HTTPTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path": %q}`, r.URL.Path)
	}))
	defer srv.Close()

	def, err := loader.Parse([]byte(fmt.Sprintf(`
start: a
tools:
  - name: order
    description: Fetch an order.
    parameters:
      - {key: id, type: string, required: true}
    http:
      url: %s/orders/{id}
      timeout: 2s
steps:
  - id: a
    description: only step
    available_tools: [order]
`, srv.URL)))
	require.NoError(t, err)
	assert.Equal(t, loader.KindHTTP, def.Tools[0].Kind())
	assert.Equal(t, 2*time.Second, def.Tools[0].HTTP.Timeout)

	b, err := loader.Compile(def)
	require.NoError(t, err)

	out, err := tools.NewInvoker(b.Tools).Invoke(context.Background(), "order", map[string]any{"id": "42"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "/orders/42"}, out)
}

func TestCompile_BoundCapability(t *testing.T) {
	def, err := loader.Parse([]byte(`
start: a
tools:
  - name: weather
    description: Current weather.
steps:
  - id: a
    description: only step
    available_tools: [weather]
`))
	require.NoError(t, err)

	_, err = loader.Compile(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weather")

	b, err := loader.Compile(def, loader.WithCapability("weather", func(context.Context, map[string]any) (any, error) {
		return "sunny", nil
	}))
	require.NoError(t, err)
	out, err := tools.NewInvoker(b.Tools).Invoke(context.Background(), "weather", nil)
	require.NoError(t, err)
	assert.Equal(t, "sunny", out)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", ``, "empty"},
		{"bad yaml", "steps: [", "invalid yaml"},
		{"unknown key", "start: a\nstepz: []", "stepz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompile_InvalidGraph(t *testing.T) {
	def, err := loader.Parse([]byte(`
start: a
steps:
  - id: a
    description: first
    routes: [missing]
    available_tools: [nope]
`))
	require.NoError(t, err)

	_, err = loader.Compile(def)
	var gerr *domain.GraphError
	require.ErrorAs(t, err, &gerr)
	assert.GreaterOrEqual(t, len(gerr.Problems), 2)
}

func TestCompile_InvalidRuntime(t *testing.T) {
	def, err := loader.Parse([]byte(`
start: a
runtime:
  fallback: panic
steps:
  - id: a
    description: first
`))
	require.NoError(t, err)

	_, err = loader.Compile(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Fallback")
}
