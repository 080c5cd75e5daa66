package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crm-platform/pkg/logger"
)

// Recorder receives sync counters. The metrics package provides the Prometheus implementation.
type Recorder interface {
	UpdateApplied(source Source, result string)
	ActivityCreated(source Source)
}

type nopRecorder struct{}

func (nopRecorder) UpdateApplied(Source, string) {}
func (nopRecorder) ActivityCreated(Source)       {}

// Result labels passed to Recorder.UpdateApplied.
const (
	ResultCreated = "created"
	ResultUpdated = "updated"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Outcome describes what Apply did.
type Outcome struct {
	Record          CallRecord
	Created         bool
	ActivityCreated bool
}

// Service is the single write path for call updates. Webhook ingress and the
// polling sweep both call Apply.
type Service struct {
	Store      Store
	Reconciler Reconciler
	Metrics    Recorder
}

func NewService(store Store, metrics Recorder) *Service {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{Store: store, Reconciler: NewReconciler(), Metrics: metrics}
}

// Apply runs load, contact match, reconcile, persist and side effects for one update
// inside a single store transaction serialized on the provider call id.
// On error nothing is persisted and the record keeps its last-known-good state.
func (s *Service) Apply(ctx context.Context, upd CallUpdate) (Outcome, error) {
	metrics := s.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if err := upd.Validate(); err != nil {
		metrics.UpdateApplied(upd.Source, ResultInvalid)
		return Outcome{}, err
	}
	upd.Derive()

	log := logger.From(ctx).With("provider_call_id", upd.ProviderCallID, "source", string(upd.Source))

	var out Outcome
	err := s.Store.WithCall(ctx, upd.ProviderCallID, func(ctx context.Context, tx Tx) error {
		out = Outcome{}

		var current *CallRecord
		rec, err := tx.GetCall(ctx)
		switch {
		case err == nil:
			current = &rec
		case errors.Is(err, ErrNotFound):
			if upd.OrgID == "" {
				return ErrInsufficientData
			}
		default:
			return fmt.Errorf("load call: %w", err)
		}

		if upd.ContactID == "" && (current == nil || current.ContactID == "") {
			upd.ContactID = s.matchContact(ctx, tx, current, upd, log)
		}

		next, effects := s.Reconciler.Reconcile(current, upd)

		if current == nil {
			if err := tx.InsertCall(ctx, next); err != nil {
				return fmt.Errorf("insert call: %w", err)
			}
			out.Created = true
		} else if err := tx.UpdateCall(ctx, next); err != nil {
			return fmt.Errorf("update call: %w", err)
		}

		for _, eff := range effects {
			switch eff.Kind {
			case EffectCreateActivity:
				if err := tx.InsertActivity(ctx, *eff.Activity); err != nil {
					return fmt.Errorf("insert activity: %w", err)
				}
				out.ActivityCreated = true
			case EffectUpsertSession:
				if eff.Session.AgentID == "" {
					continue
				}
				if err := tx.UpsertAgentSession(ctx, *eff.Session); err != nil {
					return fmt.Errorf("upsert agent session: %w", err)
				}
			}
		}
		out.Record = next
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrMissingProviderCallID) {
			metrics.UpdateApplied(upd.Source, ResultInvalid)
		} else {
			metrics.UpdateApplied(upd.Source, ResultError)
		}
		log.Warn("call update not applied", "err", err)
		return Outcome{}, err
	}

	if out.Created {
		metrics.UpdateApplied(upd.Source, ResultCreated)
	} else {
		metrics.UpdateApplied(upd.Source, ResultUpdated)
	}
	if out.ActivityCreated {
		metrics.ActivityCreated(upd.Source)
		log.Info("contact activity created", "call_id", out.Record.ID, "activity_id", out.Record.ActivityID, "status", string(out.Record.Status))
	}
	log.Debug("call update applied", "call_id", out.Record.ID, "status", string(out.Record.Status), "created", out.Created)
	return out, nil
}

// matchContact resolves a contact by the counterparty number. A miss or a lookup
// error leaves the contact unset.
func (s *Service) matchContact(ctx context.Context, tx Tx, current *CallRecord, upd CallUpdate, log *slog.Logger) string {
	orgID, dir, from, to := upd.OrgID, upd.Direction, upd.FromNumber, upd.ToNumber
	if current != nil {
		orgID = firstString(current.OrgID, orgID)
		if current.Direction != "" {
			dir = current.Direction
		}
		from = firstString(current.FromNumber, from)
		to = firstString(current.ToNumber, to)
	}
	phone := CounterpartyNumber(dir, from, to)
	if orgID == "" || phone == "" {
		return ""
	}
	c, err := tx.FindContactByPhone(ctx, orgID, phone)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn("contact match failed", "err", err)
		}
		return ""
	}
	return c.ID
}
