package callsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crm-platform/internal/calls"
	"crm-platform/internal/observability/metrics"
	"crm-platform/internal/telephony"
	"crm-platform/pkg/logger"
	"crm-platform/pkg/utils"

	"golang.org/x/sync/errgroup"
)

var ErrInvalidConfig = errors.New("callsync: invalid sweeper config")

// Locker elects one replica per sweep. *utils.Locker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Recorder receives sweep counters. *metrics.SyncMetrics satisfies it.
type Recorder interface {
	SweepRun(result string, took time.Duration)
	SweepConfig(result string)
	SweepCalls(result string, n int)
}

type Config struct {
	Interval    time.Duration
	Window      time.Duration
	PageSize    int
	Concurrency int
	// Timeout bounds one whole sweep.
	Timeout time.Duration
	// Location is the provider's wall-clock zone; the window is expressed in it.
	Location *time.Location
	LockKey  string
}

func (c Config) withDefaults() Config {
	out := c
	if out.Interval <= 0 {
		out.Interval = 5 * time.Minute
	}
	if out.Window <= 0 {
		out.Window = 3 * out.Interval
	}
	if out.PageSize <= 0 {
		out.PageSize = 100
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 4
	}
	if out.Timeout <= 0 {
		out.Timeout = out.Interval
	}
	if out.Location == nil {
		out.Location = time.UTC
	}
	if out.LockKey == "" {
		out.LockKey = utils.SweepLockKey
	}
	return out
}

// Sweeper periodically pulls recent calls for every active provider configuration
// and feeds them through the same apply path as webhooks.
type Sweeper struct {
	Settings telephony.SettingsStore
	Clients  telephony.ClientFactory
	Calls    telephony.CallApplier
	Locker   Locker
	Metrics  Recorder
	Log      *slog.Logger
	Now      func() time.Time

	cfg Config
}

type Params struct {
	Settings telephony.SettingsStore
	Clients  telephony.ClientFactory
	Calls    telephony.CallApplier
	// Locker is optional; without it every replica sweeps.
	Locker  Locker
	Metrics Recorder
	Log     *slog.Logger
	Config  Config
}

func New(p Params) (*Sweeper, error) {
	if p.Settings == nil || p.Clients == nil || p.Calls == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if cfg.Window <= cfg.Interval {
		return nil, fmt.Errorf("%w: window %s must be greater than interval %s", ErrInvalidConfig, cfg.Window, cfg.Interval)
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		Settings: p.Settings,
		Clients:  p.Clients,
		Calls:    p.Calls,
		Locker:   p.Locker,
		Metrics:  p.Metrics,
		Log:      log.With("component", "callsync"),
		Now:      time.Now,
		cfg:      cfg,
	}, nil
}

// SweepReport is the outcome of one RunOnce.
type SweepReport struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Skipped    bool           `json:"skipped"`
	Results    []ConfigResult `json:"results"`
}

// ConfigResult reports one provider configuration's part of a sweep.
type ConfigResult struct {
	ConfigID string `json:"config_id"`
	OrgID    string `json:"org_id"`
	OK       bool   `json:"ok"`
	Fetched  int    `json:"fetched"`
	Applied  int    `json:"applied"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

// Failures counts configurations that did not complete.
func (r SweepReport) Failures() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK {
			n++
		}
	}
	return n
}

// RunForever sweeps immediately and then on every tick until ctx is done.
func (s *Sweeper) RunForever(ctx context.Context) {
	s.Log.Info("call sync sweeper started", "interval", s.cfg.Interval, "window", s.cfg.Window)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.Log.Error("call sync sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			s.Log.Info("call sync sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sweep over every active configuration. A configuration failure
// is reported in its ConfigResult and never aborts the others; the returned error is
// reserved for failures that prevented the sweep from starting.
func (s *Sweeper) RunOnce(parent context.Context) (SweepReport, error) {
	return s.run(parent, true, s.Settings.ListActive)
}

// RunOnceForOrg sweeps only orgID's active configuration, without the leader lock.
// The error wraps
// telephony.ErrSettingsNotFound when the org has no active configuration.
func (s *Sweeper) RunOnceForOrg(parent context.Context, orgID string) (SweepReport, error) {
	if orgID == "" {
		return SweepReport{}, errors.New("callsync: org id is required")
	}
	return s.run(parent, false, func(ctx context.Context) ([]telephony.ProviderSettings, error) {
		cfg, err := s.Settings.ByOrgID(ctx, orgID)
		if err != nil {
			return nil, err
		}
		return []telephony.ProviderSettings{cfg}, nil
	})
}

func (s *Sweeper) run(parent context.Context, leader bool, list func(context.Context) ([]telephony.ProviderSettings, error)) (SweepReport, error) {
	now := s.now()
	report := SweepReport{StartedAt: now}

	ctx, cancel := context.WithTimeout(parent, s.cfg.Timeout)
	defer cancel()

	if leader {
		release, ok := s.acquire(ctx)
		if !ok {
			report.Skipped = true
			report.FinishedAt = s.now()
			s.recordRun(metrics.SweepResultSkipped, 0)
			s.Log.Debug("call sync sweep skipped: another replica holds the lock")
			return report, nil
		}
		defer release()
	}

	settings, err := list(ctx)
	if err != nil {
		report.FinishedAt = s.now()
		s.recordRun(metrics.SweepResultError, report.FinishedAt.Sub(now))
		return report, fmt.Errorf("callsync: list active settings: %w", err)
	}

	from := now.Add(-s.cfg.Window).In(s.cfg.Location)
	to := now.In(s.cfg.Location)

	report.Results = make([]ConfigResult, len(settings))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, cfg := range settings {
		i, cfg := i, cfg
		g.Go(func() error {
			report.Results[i] = s.sweepConfig(ctx, cfg, from, to)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = s.now()
	result := metrics.SweepResultOK
	if report.Failures() > 0 {
		result = metrics.SweepResultError
	}
	s.recordRun(result, report.FinishedAt.Sub(now))
	s.Log.Info("call sync sweep finished",
		"configs", len(settings),
		"failed_configs", report.Failures(),
		"took", report.FinishedAt.Sub(now),
	)
	return report, nil
}

func (s *Sweeper) sweepConfig(ctx context.Context, cfg telephony.ProviderSettings, from, to time.Time) ConfigResult {
	res := ConfigResult{ConfigID: cfg.ID, OrgID: cfg.OrgID}
	log := s.Log.With("config_id", cfg.ID, "org_id", cfg.OrgID)

	client, err := s.Clients(cfg)
	if err != nil {
		return s.failConfig(log, res, err)
	}

	applyCtx := logger.With(ctx, log)
	fetched, err := client.ListCalls(ctx, telephony.ListCallsRequest{From: from, To: to, PageSize: s.cfg.PageSize}, func(pc telephony.PollCall) error {
		upd := pc.ToCallUpdate(cfg.OrgID, s.cfg.Location, s.now().UTC())
		out, err := s.Calls.Apply(applyCtx, upd)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			res.Failed++
			s.recordCalls(calls.ResultError, 1)
			log.Warn("sweep apply failed", "provider_call_id", upd.ProviderCallID, "err", err)
			return nil
		}
		res.Applied++
		if out.Created {
			s.recordCalls(calls.ResultCreated, 1)
		} else {
			s.recordCalls(calls.ResultUpdated, 1)
		}
		return nil
	})
	res.Fetched = fetched
	if err != nil {
		return s.failConfig(log, res, err)
	}

	res.OK = true
	s.recordConfig(metrics.ConfigResultOK)
	log.Debug("sweep config finished", "fetched", res.Fetched, "applied", res.Applied, "failed", res.Failed)
	return res
}

func (s *Sweeper) failConfig(log *slog.Logger, res ConfigResult, err error) ConfigResult {
	res.OK = false
	res.Error = err.Error()
	switch {
	case telephony.IsAuthError(err):
		s.recordConfig(metrics.ConfigResultAuthError)
		log.Error("sweep config rejected: invalid credentials", "err", err)
	case telephony.IsTransient(err):
		s.recordConfig(metrics.ConfigResultTransient)
		log.Warn("sweep config failed, retrying next tick", "err", err)
	default:
		s.recordConfig(metrics.ConfigResultClientError)
		log.Error("sweep config failed", "err", err)
	}
	return res
}

// acquire takes the leader lock when a Locker is configured. Lock backend errors do not
// block the sweep: applying the same calls twice is harmless.
func (s *Sweeper) acquire(ctx context.Context) (func(), bool) {
	if s.Locker == nil {
		return func() {}, true
	}
	ttl := s.cfg.Timeout + 30*time.Second
	token, ok, err := s.Locker.TryLock(ctx, s.cfg.LockKey, ttl)
	if err != nil {
		s.Log.Warn("sweep lock unavailable, sweeping without it", "err", err)
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := s.Locker.Release(context.WithoutCancel(ctx), s.cfg.LockKey, token); err != nil {
			s.Log.Warn("sweep lock release failed", "err", err)
		}
	}, true
}

func (s *Sweeper) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Sweeper) recordRun(result string, took time.Duration) {
	if s.Metrics != nil {
		s.Metrics.SweepRun(result, took)
	}
}

func (s *Sweeper) recordConfig(result string) {
	if s.Metrics != nil {
		s.Metrics.SweepConfig(result)
	}
}

func (s *Sweeper) recordCalls(result string, n int) {
	if s.Metrics != nil {
		s.Metrics.SweepCalls(result, n)
	}
}
