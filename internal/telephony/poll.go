package telephony

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"crm-platform/internal/calls"
)

// PollCall is one element of the provider's call-list response.
type PollCall struct {
	Sid           string       `json:"Sid"`
	ParentCallSid string       `json:"ParentCallSid"`
	AccountSid    string       `json:"AccountSid"`
	DateCreated   string       `json:"DateCreated"`
	DateUpdated   string       `json:"DateUpdated"`
	From          string       `json:"From"`
	To            string       `json:"To"`
	Status        string       `json:"Status"`
	Direction     string       `json:"Direction"`
	StartTime     string       `json:"StartTime"`
	EndTime       string       `json:"EndTime"`
	Duration      FlexSeconds  `json:"Duration"`
	RecordingURL  string       `json:"RecordingUrl"`
	CustomField   string       `json:"CustomField"`
	Details       *PollDetails `json:"Details"`

	Raw json.RawMessage `json:"-"`
}

type PollDetails struct {
	ConversationDuration FlexSeconds `json:"ConversationDuration"`
	RingDuration         FlexSeconds `json:"RingDuration"`
	RecordingDuration    FlexSeconds `json:"RecordingDuration"`
}

// FlexSeconds decodes a duration that may arrive as a number, a numeric string or null.
// Anything that is not a usable count of seconds stays unset.
type FlexSeconds struct {
	Value *int
}

func (f *FlexSeconds) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		f.Value = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			f.Value = nil
			return nil
		}
		f.Value = calls.ParseSeconds(s)
		return nil
	}
	f.Value = calls.ParseSeconds(string(b))
	return nil
}

func (f FlexSeconds) MarshalJSON() ([]byte, error) {
	if f.Value == nil {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(*f.Value)), nil
}

// DecodePollCall decodes one list element and keeps its raw bytes for audit.
func DecodePollCall(raw json.RawMessage) (PollCall, error) {
	var pc PollCall
	if err := json.Unmarshal(raw, &pc); err != nil {
		return PollCall{}, err
	}
	pc.Raw = append(json.RawMessage(nil), raw...)
	return pc, nil
}

// ToCallUpdate maps the poll element into the canonical update. Provider wall-clock
// timestamps are read in loc.
func (pc PollCall) ToCallUpdate(orgID string, loc *time.Location, observedAt time.Time) calls.CallUpdate {
	u := calls.CallUpdate{
		Source:          calls.SourcePoll,
		ProviderCallID:  strings.TrimSpace(pc.Sid),
		ConversationID:  strings.TrimSpace(pc.ParentCallSid),
		OrgID:           orgID,
		AgentID:         strings.TrimSpace(pc.CustomField),
		Direction:       calls.ParseDirection(pc.Direction),
		FromNumber:      normalizePhone(pc.From),
		ToNumber:        normalizePhone(pc.To),
		Status:          calls.ParseStatus(pc.Status),
		StartedAt:       ParseProviderTime(pc.StartTime, loc),
		EndedAt:         ParseProviderTime(pc.EndTime, loc),
		CallDurationSec: pc.Duration.Value,
		RecordingURL:    strings.TrimSpace(pc.RecordingURL),
		RawPayload:      pc.Raw,
		ObservedAt:      observedAt,
	}
	if u.StartedAt == nil {
		u.StartedAt = ParseProviderTime(pc.DateCreated, loc)
	}
	if pc.Details != nil {
		u.ConversationDurationSec = pc.Details.ConversationDuration.Value
		u.RingDurationSec = pc.Details.RingDuration.Value
		u.RecordingDurationSec = pc.Details.RecordingDuration.Value
	}
	if len(u.RawPayload) == 0 {
		u.RawPayload, _ = json.Marshal(pc)
	}
	return u
}

const providerTimeLayout = "2006-01-02 15:04:05"

// ParseProviderTime accepts RFC3339, "2006-01-02 15:04:05" in loc, or unix seconds.
// Unparsable or empty input is nil.
func ParseProviderTime(raw string, loc *time.Location) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" || s == "0000-00-00 00:00:00" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.ParseInLocation(providerTimeLayout, s, loc); err == nil {
		t = t.UTC()
		return &t
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		t := time.Unix(n, 0).UTC()
		return &t
	}
	return nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "anonymous") {
		return ""
	}
	return s
}
