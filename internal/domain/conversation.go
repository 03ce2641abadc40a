package domain

import "time"

// ConversationStatus is the durable status persisted by the session store.
type ConversationStatus string

const (
	ConversationOngoing   ConversationStatus = "ongoing"
	ConversationCompleted ConversationStatus = "completed"
)

// ConversationSummary is a durable conversation record as persisted by the
// session store. CorrelationID links the record to an in-flight agent run
// (empty once the run is gone).
type ConversationSummary struct {
	ID            string             `json:"id"`
	CorrelationID string             `json:"correlationId,omitempty"`
	Title         string             `json:"title"`
	Status        ConversationStatus `json:"status"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// LiveStatus is a best-effort push signal describing the current state of a
// streaming agent run. It never touches the durable store.
type LiveStatus struct {
	CorrelationID string    `json:"correlationId"`
	Phase         string    `json:"phase"`
	Connected     bool      `json:"connected"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Live phases reported by the streaming feed. A dropped connection in a
// terminal phase means the run finished and the durable record just
// hasn't landed.
const (
	PhaseRunning   = "running"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseAborted   = "aborted"
)

// TerminalPhase reports whether ph marks the end of a run.
func TerminalPhase(ph string) bool {
	switch ph {
	case PhaseCompleted, PhaseFailed, PhaseAborted:
		return true
	}
	return false
}

// ConversationView is the merged projection served to the UI: the durable
// summary overlaid with transient live state. DisplayStatus may be promoted
// ahead of the durable Status; the durable record wins once it lands.
type ConversationView struct {
	ConversationSummary
	DisplayStatus ConversationStatus `json:"displayStatus"`
	Live          *LiveStatus        `json:"live,omitempty"`
}
