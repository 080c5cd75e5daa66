package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Org isolation: OrgID is required.
type CallsSummaryRequest struct {
	OrgID   string    `json:"org_id"`
	Range   TimeRange `json:"range"`
	AgentID string    `json:"agent_id,omitempty"`
}

type CallsSummary struct {
	OrgID   string `json:"org_id"`
	AgentID string `json:"agent_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	// OpenCalls are queued, ringing or not yet classified.
	OpenCalls int `json:"open_calls"`

	InboundCalls  int `json:"inbound_calls"`
	OutboundCalls int `json:"outbound_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls    int `json:"recorded_calls"`
	ActivitiesLogged int `json:"activities_logged"`
}

// AgentBreakdownRequest requests per-agent connection metrics.
type AgentBreakdownRequest struct {
	OrgID string    `json:"org_id"`
	Range TimeRange `json:"range"`
}

type AgentMetrics struct {
	AgentID string `json:"agent_id"`

	CallsAttempted int `json:"calls_attempted"`
	CallsConnected int `json:"calls_connected"`
	TalkSeconds    int `json:"talk_seconds"`

	ConnectionRate float64 `json:"connection_rate"`
}

type AgentBreakdown struct {
	OrgID  string         `json:"org_id"`
	Agents []AgentMetrics `json:"agents"`
}
