package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// RequestKind discriminates the two mediation variants.
type RequestKind string

const (
	KindPermission RequestKind = "permission"
	KindQuestion   RequestKind = "question"
)

// RequestStatus is monotonic: once a request leaves StatusPending it never
// returns to it. Permission requests end in approved/denied, question
// requests in answered.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusDenied   RequestStatus = "denied"
	StatusAnswered RequestStatus = "answered"
)

var (
	// ErrNotFound covers both "never existed" and "already decided".
	// The two cases are deliberately collapsed; see DESIGN.md.
	ErrNotFound = errors.New("mediation request not found or already decided")

	// ErrValidation marks malformed notify/decide payloads. Callers must
	// reject these before entering any poll loop.
	ErrValidation = errors.New("invalid mediation payload")
)

// PermissionPayload asks a human to approve a tool invocation.
type PermissionPayload struct {
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
}

type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type QuestionItem struct {
	Header      string           `json:"header"`
	Prompt      string           `json:"prompt"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multiSelect,omitempty"`
}

// QuestionPayload asks a human to answer an ordered set of questions.
type QuestionPayload struct {
	Questions []QuestionItem `json:"questions"`
}

// Decision is written exactly once, by the decide operation. For the
// permission variant Approved is non-nil; for the question variant Answers
// is non-nil (multi-select answers are pre-flattened into one string).
type Decision struct {
	Approved      *bool             `json:"approved,omitempty"`
	ModifiedInput json.RawMessage   `json:"modifiedInput,omitempty"`
	DenyReason    string            `json:"denyReason,omitempty"`
	Answers       map[string]string `json:"answers,omitempty"`
}

// MediationRequest is the envelope shared by both variants. Exactly one of
// Permission/Question is non-nil, matching Kind. Payload fields are
// immutable after creation; Status and Decision mutate exactly once.
type MediationRequest struct {
	ID            string        `json:"id"`
	CorrelationID string        `json:"correlationId"`
	Kind          RequestKind   `json:"kind"`
	Status        RequestStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`

	Permission *PermissionPayload `json:"permission,omitempty"`
	Question   *QuestionPayload   `json:"question,omitempty"`

	Decision  *Decision  `json:"decision,omitempty"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
}

// Pending reports whether the request still awaits a decision.
func (r *MediationRequest) Pending() bool {
	return r.Status == StatusPending
}

// DecidedStatus derives the terminal status a decision produces for the
// request's kind.
func (r *MediationRequest) DecidedStatus(d Decision) RequestStatus {
	if r.Kind == KindQuestion {
		return StatusAnswered
	}
	if d.Approved != nil && *d.Approved {
		return StatusApproved
	}
	return StatusDenied
}

// Event types emitted by the pending-request store.
type EventType string

const (
	EventRequestCreated EventType = "request_created"
	EventRequestDecided EventType = "request_decided"
)

// Event carries a snapshot of the full record at emission time.
type Event struct {
	Type    EventType        `json:"type"`
	Request MediationRequest `json:"request"`
}
