package telephony

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"crm-platform/internal/calls"
)

// StatusCallback captures the voice status callback fields we care about.
// The provider posts application/x-www-form-urlencoded; several fields have aliases
// depending on the applet that produced the callback.
type StatusCallback struct {
	CallSid              string `json:"CallSid"`
	AccountSid           string `json:"AccountSid,omitempty"`
	ConversationID       string `json:"ConversationId,omitempty"`
	Status               string `json:"Status,omitempty"`
	From                 string `json:"From,omitempty"`
	To                   string `json:"To,omitempty"`
	Direction            string `json:"Direction,omitempty"`
	StartTime            string `json:"StartTime,omitempty"`
	AnswerTime           string `json:"AnswerTime,omitempty"`
	EndTime              string `json:"EndTime,omitempty"`
	Duration             string `json:"Duration,omitempty"`
	ConversationDuration string `json:"ConversationDuration,omitempty"`
	RingDuration         string `json:"RingDuration,omitempty"`
	RecordingURL         string `json:"RecordingUrl,omitempty"`
	RecordingDuration    string `json:"RecordingDuration,omitempty"`
	AgentID              string `json:"AgentId,omitempty"`

	// Fields holds every posted field for the audit payload.
	Fields map[string]string `json:"-"`
}

func ParseStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, err
	}
	form := r.Form
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(form.Get(k)); v != "" {
				return v
			}
		}
		return ""
	}

	cb := StatusCallback{
		CallSid:              first("CallSid", "CallSID", "Sid"),
		AccountSid:           first("AccountSid", "AccountSID"),
		ConversationID:       first("ParentCallSid", "ConversationId"),
		Status:               first("Status", "CallStatus", "DialCallStatus"),
		From:                 normalizePhone(first("From", "CallFrom")),
		To:                   normalizePhone(first("To", "CallTo", "DialWhomNumber")),
		Direction:            first("Direction", "CallType"),
		StartTime:            first("StartTime", "DateCreated"),
		AnswerTime:           first("AnswerTime"),
		EndTime:              first("EndTime"),
		Duration:             first("DialCallDuration", "Duration"),
		ConversationDuration: first("ConversationDuration"),
		RingDuration:         first("RingDuration"),
		RecordingURL:         first("RecordingUrl", "RecordingURL"),
		RecordingDuration:    first("RecordingDuration"),
		AgentID:              first("AgentId", "CustomField"),
		Fields:               map[string]string{},
	}
	for k := range form {
		cb.Fields[k] = form.Get(k)
	}
	return cb, nil
}

// ToCallUpdate maps the callback into the canonical update.
func (cb StatusCallback) ToCallUpdate(orgID string, loc *time.Location, observedAt time.Time) calls.CallUpdate {
	raw, _ := json.Marshal(cb.Fields)
	return calls.CallUpdate{
		Source:                  calls.SourceWebhook,
		ProviderCallID:          cb.CallSid,
		ConversationID:          cb.ConversationID,
		OrgID:                   orgID,
		AgentID:                 cb.AgentID,
		Direction:               calls.ParseDirection(cb.Direction),
		FromNumber:              cb.From,
		ToNumber:                cb.To,
		Status:                  calls.ParseStatus(cb.Status),
		StartedAt:               ParseProviderTime(cb.StartTime, loc),
		AnsweredAt:              ParseProviderTime(cb.AnswerTime, loc),
		EndedAt:                 ParseProviderTime(cb.EndTime, loc),
		CallDurationSec:         calls.ParseSeconds(cb.Duration),
		ConversationDurationSec: calls.ParseSeconds(cb.ConversationDuration),
		RingDurationSec:         calls.ParseSeconds(cb.RingDuration),
		RecordingURL:            cb.RecordingURL,
		RecordingDurationSec:    calls.ParseSeconds(cb.RecordingDuration),
		RawPayload:              raw,
		ObservedAt:              observedAt,
	}
}
