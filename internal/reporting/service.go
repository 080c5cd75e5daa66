package reporting

import (
	"context"
	"errors"
	"sort"

	"crm-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. calls.Store satisfies it.
//
// IMPORTANT:
// - Implementations must honor ListFilter.OrgID.
// - Reports read call records only; they never write.
type Repository interface {
	List(ctx context.Context, f calls.ListFilter) ([]calls.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	rows, err := s.list(ctx, req.OrgID, req.Range)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{OrgID: req.OrgID, AgentID: req.AgentID}
	for _, c := range rows {
		if req.AgentID != "" && c.AgentID != req.AgentID {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += talkSeconds(c)
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.ActivityID != "" {
			out.ActivitiesLogged++
		}
		switch c.Direction {
		case calls.DirectionInbound:
			out.InboundCalls++
		case calls.DirectionOutbound:
			out.OutboundCalls++
		}
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusCanceled:
			out.CanceledCalls++
		case calls.StatusInProgress:
			out.InProgressCalls++
		default:
			out.OpenCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

func (s *Service) AgentBreakdown(ctx context.Context, req AgentBreakdownRequest) (AgentBreakdown, error) {
	rows, err := s.list(ctx, req.OrgID, req.Range)
	if err != nil {
		return AgentBreakdown{}, err
	}

	byAgent := map[string]*AgentMetrics{}
	for _, c := range rows {
		if c.AgentID == "" {
			continue
		}
		m, ok := byAgent[c.AgentID]
		if !ok {
			m = &AgentMetrics{AgentID: c.AgentID}
			byAgent[c.AgentID] = m
		}
		m.CallsAttempted++
		if c.Status == calls.StatusCompleted {
			m.CallsConnected++
		}
		m.TalkSeconds += talkSeconds(c)
	}

	out := AgentBreakdown{OrgID: req.OrgID, Agents: make([]AgentMetrics, 0, len(byAgent))}
	for _, m := range byAgent {
		if m.CallsAttempted > 0 {
			m.ConnectionRate = float64(m.CallsConnected) / float64(m.CallsAttempted)
		}
		out.Agents = append(out.Agents, *m)
	}
	sort.Slice(out.Agents, func(i, j int) bool { return out.Agents[i].AgentID < out.Agents[j].AgentID })
	return out, nil
}

func (s *Service) list(ctx context.Context, orgID string, r TimeRange) ([]calls.CallRecord, error) {
	if orgID == "" {
		return nil, ErrInvalidRequest
	}
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	return s.repo.List(ctx, calls.ListFilter{OrgID: orgID, From: r.From, To: r.To})
}

// talkSeconds prefers the connected duration and falls back to the whole call.
func talkSeconds(c calls.CallRecord) int {
	switch {
	case c.ConversationDurationSec != nil:
		return *c.ConversationDurationSec
	case c.CallDurationSec != nil:
		return *c.CallDurationSec
	default:
		return 0
	}
}
