package calls

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingProviderCallID = errors.New("calls: provider call id required")
	ErrInsufficientData      = errors.New("calls: not enough data to create call record")
	ErrNotFound              = errors.New("calls: not found")
	ErrDuplicateCall         = errors.New("calls: call record already exists")
)

// CallUpdate is the canonical observation of a call, produced by the webhook and poll
// adapters. Absent fields mean "not observed": nil pointers and empty strings never
// clear stored values.
type CallUpdate struct {
	Source         Source
	ProviderCallID string
	ConversationID string

	OrgID     string
	AgentID   string
	ContactID string

	Direction  Direction
	FromNumber string
	ToNumber   string

	Status Status

	StartedAt  *time.Time
	AnsweredAt *time.Time
	EndedAt    *time.Time

	CallDurationSec         *int
	ConversationDurationSec *int
	RingDurationSec         *int

	RecordingURL         string
	RecordingDurationSec *int

	RawPayload json.RawMessage
	ObservedAt time.Time
}

// Validate checks the minimum needed to locate a record.
func (u CallUpdate) Validate() error {
	if strings.TrimSpace(u.ProviderCallID) == "" {
		return ErrMissingProviderCallID
	}
	return nil
}

// Derive fills values that follow from other observed fields. It never overrides
// an observed value.
func (u *CallUpdate) Derive() {
	if u.RingDurationSec == nil && u.CallDurationSec != nil && u.ConversationDurationSec != nil {
		if ring := *u.CallDurationSec - *u.ConversationDurationSec; ring >= 0 {
			u.RingDurationSec = &ring
		}
	}
	if u.AnsweredAt == nil && u.EndedAt != nil && u.ConversationDurationSec != nil && *u.ConversationDurationSec > 0 {
		at := u.EndedAt.Add(-time.Duration(*u.ConversationDurationSec) * time.Second)
		u.AnsweredAt = &at
	}
}

// CounterpartyNumber is the number on the far side of the call from the org's point of view.
func CounterpartyNumber(dir Direction, from, to string) string {
	if dir == DirectionOutbound {
		return to
	}
	return from
}

var statusAliases = map[string]Status{
	"queued":      StatusQueued,
	"initiated":   StatusQueued,
	"ringing":     StatusRinging,
	"in-progress": StatusInProgress,
	"in_progress": StatusInProgress,
	"inprogress":  StatusInProgress,
	"answered":    StatusInProgress,
	"completed":   StatusCompleted,
	"failed":      StatusFailed,
	"busy":        StatusBusy,
	"no-answer":   StatusNoAnswer,
	"no_answer":   StatusNoAnswer,
	"noanswer":    StatusNoAnswer,
	"canceled":    StatusCanceled,
	"cancelled":   StatusCanceled,
	"unknown":     StatusUnknown,
}

// ParseStatus maps a provider status string through the fixed vocabulary.
// Empty input is "not observed"; anything unrecognized is StatusUnknown.
func ParseStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if st, ok := statusAliases[s]; ok {
		return st
	}
	return StatusUnknown
}

// ParseDirection accepts provider variants such as "outbound-api" and "outbound-dial".
func ParseDirection(raw string) Direction {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "inbound"), s == "incoming":
		return DirectionInbound
	case strings.HasPrefix(s, "outbound"), s == "outgoing":
		return DirectionOutbound
	default:
		return ""
	}
}

// ParseSeconds parses a duration in seconds. Missing, non-numeric, negative and
// out-of-range (beyond a 32-bit column) values are "not observed" (nil), never zero.
func ParseSeconds(raw string) *int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > math.MaxInt32 {
			return nil
		}
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt32 {
		return nil
	}
	n := int(math.Round(f))
	return &n
}
