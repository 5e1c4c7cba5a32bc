package domain

import "slices"

// SessionDiff represents the changes a turn made to a session.
// It is designed to be serialized to JSON for partial updates on the client.
type SessionDiff struct {
	// SessionID is always present to identify the target.
	SessionID string `json:"session_id"`

	CurrentStepID *string        `json:"current_step_id,omitempty"`
	Status        *SessionStatus `json:"status,omitempty"`
	FlowStack     []string       `json:"flow_stack,omitempty"`

	// Appended contains the history entries added since the old snapshot.
	// History is append-only.
	Appended []HistoryEntry `json:"appended,omitempty"`
}

// Diff calculates the difference between oldSession and newSession.
// If oldSession is nil, it returns a diff representing the entire newSession (initial load).
func Diff(oldSession, newSession *Session) *SessionDiff {
	if newSession == nil {
		return nil
	}

	diff := &SessionDiff{SessionID: newSession.ID}

	if oldSession == nil || oldSession.CurrentStepID != newSession.CurrentStepID {
		diff.CurrentStepID = &newSession.CurrentStepID
	}
	if oldSession == nil || oldSession.Status != newSession.Status {
		diff.Status = &newSession.Status
	}
	if oldSession == nil || !slices.Equal(oldSession.FlowStack, newSession.FlowStack) {
		diff.FlowStack = slices.Clone(newSession.FlowStack)
		if diff.FlowStack == nil {
			diff.FlowStack = []string{}
		}
	}

	oldLen := 0
	if oldSession != nil {
		oldLen = len(oldSession.History)
	}
	if len(newSession.History) > oldLen {
		diff.Appended = slices.Clone(newSession.History[oldLen:])
	}

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *SessionDiff) IsEmpty() bool {
	return d.CurrentStepID == nil &&
		d.Status == nil &&
		d.FlowStack == nil &&
		len(d.Appended) == 0
}
