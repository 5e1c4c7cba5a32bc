package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/waypoint/pkg/domain"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore
// implementation adheres to the interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405.000000")

	t.Run("Save and Load Round Trip", func(t *testing.T) {
		s := domain.NewSession(sessionID, "start")
		s.CurrentStepID = "card"
		s.FlowStack = []string{"checkout", "payment"}
		s.ConsecutiveErrors = 2
		s.StepIterations = 3
		s.Append(domain.HistoryEntry{Role: domain.RoleUser, Content: "hi"})
		s.Append(domain.HistoryEntry{Role: domain.RoleAssistant, Content: "Hello!", Action: domain.ActionAsk})
		s.Append(domain.HistoryEntry{
			Role:    domain.RoleTool,
			Content: "bye",
			Tool:    &domain.ToolResult{Tool: "echo", Args: map[string]any{"text": "bye"}, Result: "bye"},
		})

		require.NoError(t, store.Save(ctx, s), "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, s.ID, loaded.ID)
		assert.Equal(t, "card", loaded.CurrentStepID)
		assert.Equal(t, domain.StatusAwaitingInput, loaded.Status)
		assert.Equal(t, []string{"checkout", "payment"}, loaded.FlowStack)
		assert.Equal(t, 2, loaded.ConsecutiveErrors)
		assert.Equal(t, 3, loaded.StepIterations)
		require.Len(t, loaded.History, 3)
		for i := range s.History {
			assert.Equal(t, s.History[i].Role, loaded.History[i].Role)
			assert.Equal(t, s.History[i].Content, loaded.History[i].Content)
			assert.Equal(t, s.History[i].StepID, loaded.History[i].StepID)
			assert.Equal(t, s.History[i].FlowID, loaded.History[i].FlowID)
			assert.True(t, s.History[i].Timestamp.Equal(loaded.History[i].Timestamp))
		}
		require.NotNil(t, loaded.History[2].Tool)
		assert.Equal(t, "bye", loaded.History[2].Tool.Result)

		require.NoError(t, store.Save(ctx, loaded))
		again, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, loaded.CurrentStepID, again.CurrentStepID)
		assert.Equal(t, loaded.FlowStack, again.FlowStack)
		assert.Len(t, again.History, len(loaded.History))
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		s := domain.NewSession(sessionID, "start")
		require.NoError(t, store.Save(ctx, s))
		s.CurrentStepID = "end"
		s.Status = domain.StatusTerminated
		require.NoError(t, store.Save(ctx, s))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "end", loaded.CurrentStepID)
		assert.Equal(t, domain.StatusTerminated, loaded.Status)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, domain.NewSession(sessionID, "start")))

		require.NoError(t, store.Delete(ctx, sessionID), "Delete should not return error")

		_, err := store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		require.NoError(t, store.Save(ctx, domain.NewSession(id1, "start")))
		require.NoError(t, store.Save(ctx, domain.NewSession(id2, "start")))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
