package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/waypoint/pkg/adapters/llm/webhook"
	"github.com/aretw0/waypoint/pkg/decision"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

func TestWebhook_Generate(t *testing.T) {
	var got ports.GenerateRequest
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("X-Api-Key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"action":"ASK","response":"Hi"}`))
	}))
	defer srv.Close()

	step := domain.Step{ID: "greet", Description: "Say hi"}
	llm := webhook.New(srv.URL, webhook.WithHeader("X-Api-Key", "k1"), webhook.WithTimeout(time.Second))
	out, err := llm.Generate(context.Background(), &ports.GenerateRequest{
		SessionID:       "s1",
		StepID:          step.ID,
		StepDescription: step.Description,
		History:         []domain.HistoryEntry{{Role: domain.RoleUser, Content: "hello"}},
		Schema:          decision.Build(step, nil),
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"action":"ASK","response":"Hi"}`, string(out))
	assert.Equal(t, "k1", key)
	assert.Equal(t, "greet", got.StepID)
	require.Len(t, got.History, 1)
	assert.Equal(t, "hello", got.History[0].Content)
	require.NotNil(t, got.Schema)
	assert.Equal(t, []domain.Action{domain.ActionAsk, domain.ActionAnswer, domain.ActionEnd}, got.Schema.Actions)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := webhook.New(srv.URL).Generate(context.Background(), &ports.GenerateRequest{StepID: "greet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestWebhook_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := webhook.New(srv.URL).Generate(ctx, &ports.GenerateRequest{StepID: "greet"})
	assert.Error(t, err)
}
