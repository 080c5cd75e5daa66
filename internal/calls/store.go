package calls

import (
	"context"
	"strings"
	"time"
)

// Store is the durable call record store.
//
// WithCall is the only write path. It serializes read-merge-write for a single
// provider call id across goroutines and replicas and runs fn atomically: either
// every write made through Tx is persisted or none is.
type Store interface {
	WithCall(ctx context.Context, providerCallID string, fn func(ctx context.Context, tx Tx) error) error

	Get(ctx context.Context, orgID, id string) (CallRecord, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error)
	List(ctx context.Context, f ListFilter) ([]CallRecord, error)
	ActivityForCall(ctx context.Context, callRecordID string) (ContactActivity, error)
	SessionForCall(ctx context.Context, providerCallID string) (AgentCallSession, error)
}

// Tx is the unit of work handed to WithCall. All methods are scoped to the
// provider call id WithCall was opened with.
type Tx interface {
	// GetCall returns ErrNotFound when no record exists yet.
	GetCall(ctx context.Context) (CallRecord, error)
	InsertCall(ctx context.Context, rec CallRecord) error
	UpdateCall(ctx context.Context, rec CallRecord) error

	// FindContactByPhone returns ErrNotFound when no contact matches.
	FindContactByPhone(ctx context.Context, orgID, phone string) (Contact, error)

	// InsertActivity is a no-op when an activity already exists for the call record.
	InsertActivity(ctx context.Context, a ContactActivity) error
	// UpsertAgentSession never moves an ended session back to a live status.
	UpsertAgentSession(ctx context.Context, s AgentCallSession) error
}

type ListFilter struct {
	OrgID string
	From  time.Time
	To    time.Time
	Limit int
}

func (f ListFilter) matches(rec CallRecord) bool {
	if f.OrgID != "" && rec.OrgID != f.OrgID {
		return false
	}
	if !f.From.IsZero() && rec.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !rec.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// phoneKey reduces a phone number to its last ten digits so "+91 98765-43210",
// "09876543210" and "9876543210" match the same contact.
func phoneKey(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) > 10 {
		d = d[len(d)-10:]
	}
	return d
}

// mergeSession applies the upsert rule shared by every store implementation.
func mergeSession(cur *AgentCallSession, in AgentCallSession) AgentCallSession {
	if cur == nil {
		return in
	}
	out := *cur
	out.CallRecordID = firstString(cur.CallRecordID, in.CallRecordID)
	out.OrgID = firstString(cur.OrgID, in.OrgID)
	out.AgentID = firstString(cur.AgentID, in.AgentID)
	if out.StartedAt == nil {
		out.StartedAt = copyTime(in.StartedAt)
	}
	if cur.Status != SessionEnded {
		out.Status = in.Status
		if in.EndedAt != nil {
			out.EndedAt = copyTime(in.EndedAt)
		}
	}
	out.UpdatedAt = in.UpdatedAt
	return out
}
