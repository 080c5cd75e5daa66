package calls

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EffectKind names a side effect the caller must execute after persisting the record.
type EffectKind string

const (
	EffectCreateActivity EffectKind = "create_activity"
	EffectUpsertSession  EffectKind = "upsert_agent_session"
)

type SideEffect struct {
	Kind     EffectKind
	Activity *ContactActivity
	Session  *AgentCallSession
}

// Reconciler merges canonical updates into stored call records.
//
// Reconcile has no I/O. Every decision that must survive restarts (activity already
// created, terminal already reached) is read from the stored record itself.
type Reconciler struct {
	NewID func() string
	Now   func() time.Time
}

func NewReconciler() Reconciler {
	return Reconciler{NewID: uuid.NewString, Now: time.Now}
}

// Reconcile applies upd to current (nil when no record exists yet) and returns the
// record to persist plus the side effects derived from it.
func (r Reconciler) Reconcile(current *CallRecord, upd CallUpdate) (CallRecord, []SideEffect) {
	newID := r.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}

	var next CallRecord
	if current == nil {
		next = seed(upd, newID(), now)
	} else {
		next = merge(*current, upd, now)
	}

	effects := make([]SideEffect, 0, 2)

	hadActivity := current != nil && current.ActivityID != ""
	if next.Status.IsTerminal() && !hadActivity {
		act := activityFor(next, newID(), now)
		next.ActivityID = act.ID
		effects = append(effects, SideEffect{Kind: EffectCreateActivity, Activity: &act})
	}

	sess := sessionFor(next, now)
	effects = append(effects, SideEffect{Kind: EffectUpsertSession, Session: &sess})

	return next, effects
}

func seed(upd CallUpdate, id string, now time.Time) CallRecord {
	status := upd.Status
	if status == "" {
		status = StatusUnknown
	}
	return CallRecord{
		ID:                      id,
		ProviderCallID:          strings.TrimSpace(upd.ProviderCallID),
		ConversationID:          upd.ConversationID,
		OrgID:                   upd.OrgID,
		ContactID:               upd.ContactID,
		AgentID:                 upd.AgentID,
		Direction:               upd.Direction,
		FromNumber:              upd.FromNumber,
		ToNumber:                upd.ToNumber,
		Status:                  status,
		StartedAt:               copyTime(upd.StartedAt),
		AnsweredAt:              copyTime(upd.AnsweredAt),
		EndedAt:                 copyTime(upd.EndedAt),
		CallDurationSec:         copyInt(upd.CallDurationSec),
		ConversationDurationSec: copyInt(upd.ConversationDurationSec),
		RingDurationSec:         copyInt(upd.RingDurationSec),
		RecordingURL:            upd.RecordingURL,
		RecordingDurationSec:    copyInt(upd.RecordingDurationSec),
		RawProviderPayload:      bytes.Clone(upd.RawPayload),
		LastSource:              upd.Source,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

func merge(cur CallRecord, upd CallUpdate, now time.Time) CallRecord {
	next := cur
	// Set timestamps freeze once the stored record is terminal; unset ones may still fill in.
	frozen := cur.Status.IsTerminal()

	next.Status = mergeStatus(cur.Status, upd.Status)

	next.StartedAt = mergeTime(cur.StartedAt, upd.StartedAt, frozen)
	next.AnsweredAt = mergeTime(cur.AnsweredAt, upd.AnsweredAt, frozen)
	next.EndedAt = mergeTime(cur.EndedAt, upd.EndedAt, frozen)

	next.CallDurationSec = lastInt(cur.CallDurationSec, upd.CallDurationSec)
	next.ConversationDurationSec = lastInt(cur.ConversationDurationSec, upd.ConversationDurationSec)
	next.RingDurationSec = lastInt(cur.RingDurationSec, upd.RingDurationSec)
	next.RecordingDurationSec = lastInt(cur.RecordingDurationSec, upd.RecordingDurationSec)
	if upd.RecordingURL != "" {
		next.RecordingURL = upd.RecordingURL
	}

	next.OrgID = firstString(cur.OrgID, upd.OrgID)
	next.ConversationID = firstString(cur.ConversationID, upd.ConversationID)
	next.AgentID = firstString(cur.AgentID, upd.AgentID)
	next.ContactID = firstString(cur.ContactID, upd.ContactID)
	next.FromNumber = firstString(cur.FromNumber, upd.FromNumber)
	next.ToNumber = firstString(cur.ToNumber, upd.ToNumber)
	if next.Direction == "" {
		next.Direction = upd.Direction
	}

	if len(upd.RawPayload) > 0 {
		next.RawProviderPayload = bytes.Clone(upd.RawPayload)
	}
	if upd.Source != "" {
		next.LastSource = upd.Source
	}
	next.UpdatedAt = now
	return next
}

// mergeStatus keeps terminal statuses sticky and otherwise only moves forward.
// StatusUnknown never replaces a known status.
func mergeStatus(cur, in Status) Status {
	switch {
	case in == "":
		return cur
	case cur == "":
		return in
	case cur.IsTerminal():
		return cur
	case in.rank() >= cur.rank():
		return in
	default:
		return cur
	}
}

func mergeTime(cur, in *time.Time, frozen bool) *time.Time {
	if in == nil {
		return cur
	}
	if cur == nil {
		return copyTime(in)
	}
	if frozen || !in.After(*cur) {
		return cur
	}
	return copyTime(in)
}

func lastInt(cur, in *int) *int {
	if in == nil {
		return cur
	}
	return copyInt(in)
}

func firstString(cur, in string) string {
	if cur != "" {
		return cur
	}
	return in
}

func activityFor(rec CallRecord, id string, now time.Time) ContactActivity {
	occurred := now
	if rec.EndedAt != nil {
		occurred = rec.EndedAt.UTC()
	}
	duration := 0
	switch {
	case rec.ConversationDurationSec != nil:
		duration = *rec.ConversationDurationSec
	case rec.CallDurationSec != nil:
		duration = *rec.CallDurationSec
	}
	return ContactActivity{
		ID:           id,
		OrgID:        rec.OrgID,
		ContactID:    rec.ContactID,
		CallRecordID: rec.ID,
		AgentID:      rec.AgentID,
		Type:         ActivityTypeCall,
		Direction:    rec.Direction,
		Outcome:      rec.Status,
		Subject:      activitySubject(rec),
		DurationSec:  duration,
		OccurredAt:   occurred,
		CreatedAt:    now,
	}
}

func activitySubject(rec CallRecord) string {
	dir := "Call"
	switch rec.Direction {
	case DirectionInbound:
		dir = "Inbound call"
	case DirectionOutbound:
		dir = "Outbound call"
	}
	number := CounterpartyNumber(rec.Direction, rec.FromNumber, rec.ToNumber)
	if number == "" {
		return fmt.Sprintf("%s (%s)", dir, rec.Status)
	}
	return fmt.Sprintf("%s with %s (%s)", dir, number, rec.Status)
}

func sessionFor(rec CallRecord, now time.Time) AgentCallSession {
	s := AgentCallSession{
		ProviderCallID: rec.ProviderCallID,
		CallRecordID:   rec.ID,
		OrgID:          rec.OrgID,
		AgentID:        rec.AgentID,
		Status:         SessionStatusFor(rec.Status),
		StartedAt:      copyTime(rec.StartedAt),
		UpdatedAt:      now,
	}
	if s.Status == SessionEnded {
		ended := now
		if rec.EndedAt != nil {
			ended = rec.EndedAt.UTC()
		}
		s.EndedAt = &ended
	}
	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func copyInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
