package calls

import (
	"encoding/json"
	"time"
)

// CallRecord is one row per distinct call attempt at the voice provider.
//
// Identity invariant: exactly one CallRecord exists per ProviderCallID, no matter
// how many times the call is observed through webhooks or polling.
//
// Monotonicity invariants:
// - timestamps never move backwards once set
// - a terminal Status is never replaced
// - ActivityID is written once, in the same transaction that creates the activity
type CallRecord struct {
	ID             string `json:"id" db:"id"`
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`
	ConversationID string `json:"conversation_id,omitempty" db:"conversation_id"`

	OrgID     string `json:"org_id" db:"org_id"`
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`
	AgentID   string `json:"agent_id,omitempty" db:"agent_id"`

	Direction  Direction `json:"direction,omitempty" db:"direction"`
	FromNumber string    `json:"from_number,omitempty" db:"from_number"`
	ToNumber   string    `json:"to_number,omitempty" db:"to_number"`

	Status Status `json:"status" db:"status"`

	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	CallDurationSec         *int `json:"call_duration_sec,omitempty" db:"call_duration_sec"`
	ConversationDurationSec *int `json:"conversation_duration_sec,omitempty" db:"conversation_duration_sec"`
	RingDurationSec         *int `json:"ring_duration_sec,omitempty" db:"ring_duration_sec"`

	RecordingURL         string `json:"recording_url,omitempty" db:"recording_url"`
	RecordingDurationSec *int   `json:"recording_duration_sec,omitempty" db:"recording_duration_sec"`

	// RawProviderPayload is the last payload received. Audit only, never read for decisions.
	RawProviderPayload json.RawMessage `json:"raw_provider_payload,omitempty" db:"raw_provider_payload"`
	LastSource         Source          `json:"last_source,omitempty" db:"last_source"`

	ActivityID string `json:"activity_id,omitempty" db:"activity_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Status is the provider-agnostic call lifecycle status.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
	StatusUnknown    Status = "unknown"
)

// IsTerminal reports whether no further state change is expected after s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// rank orders statuses along the lifecycle. All terminal statuses share the top rank.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 1
	case StatusRinging:
		return 2
	case StatusInProgress:
		return 3
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return 4
	default:
		return 0
	}
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Source tags where an observation came from. It is kept for audit, not for behavior.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

// AgentCallSession is the durable replacement for in-memory "current call" tracking.
// One row per provider call id; it moves with the owning CallRecord and is closed
// as soon as the record reaches a terminal status.
type AgentCallSession struct {
	ID             string        `json:"id" db:"id"`
	ProviderCallID string        `json:"provider_call_id" db:"provider_call_id"`
	CallRecordID   string        `json:"call_record_id" db:"call_record_id"`
	OrgID          string        `json:"org_id" db:"org_id"`
	AgentID        string        `json:"agent_id" db:"agent_id"`
	Status         SessionStatus `json:"status" db:"status"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

type SessionStatus string

const (
	SessionInitiating SessionStatus = "initiating"
	SessionRinging    SessionStatus = "ringing"
	SessionConnected  SessionStatus = "connected"
	SessionEnded      SessionStatus = "ended"
)

// SessionStatusFor derives the agent session status from a call status.
func SessionStatusFor(s Status) SessionStatus {
	switch {
	case s.IsTerminal():
		return SessionEnded
	case s == StatusRinging:
		return SessionRinging
	case s == StatusInProgress:
		return SessionConnected
	default:
		return SessionInitiating
	}
}

// ContactActivity is the CRM timeline entry derived from a finished call.
// Created exactly once per CallRecord (unique on call_record_id).
type ContactActivity struct {
	ID           string    `json:"id" db:"id"`
	OrgID        string    `json:"org_id" db:"org_id"`
	ContactID    string    `json:"contact_id,omitempty" db:"contact_id"`
	CallRecordID string    `json:"call_record_id" db:"call_record_id"`
	AgentID      string    `json:"agent_id,omitempty" db:"agent_id"`
	Type         string    `json:"type" db:"type"`
	Direction    Direction `json:"direction,omitempty" db:"direction"`
	Outcome      Status    `json:"outcome" db:"outcome"`
	Subject      string    `json:"subject" db:"subject"`
	DurationSec  int       `json:"duration_sec" db:"duration_sec"`
	OccurredAt   time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

const ActivityTypeCall = "call"

// Contact is the subset of the CRM contact row read for phone matching.
type Contact struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"org_id" db:"org_id"`
	Phone string `json:"phone" db:"phone"`
}
