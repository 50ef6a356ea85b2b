// Package worker runs the deadline sweep: a periodic pass over open
// obligations that moves pendente into avencer when the deadline enters the
// warning horizon, and avencer into vencido once the deadline passes.
package worker

import (
	"context"
	"log/slog"
	"time"

	"conformo/internal/obligation/metrics"
	"conformo/internal/obligation/models"
	"conformo/pkg/requestcontext"
)

const (
	// DefaultHorizon is how far ahead of a deadline an obligation turns
	// avencer. 30 days matches the dashboard's warning window.
	DefaultHorizon = 30 * 24 * time.Hour

	DefaultInterval = time.Hour
)

// ObligationService is the slice of the obligation service the sweep needs.
type ObligationService interface {
	ListSweepCandidates(ctx context.Context) ([]*models.Obligation, error)
	AutoTransition(ctx context.Context, o *models.Obligation, next models.ComplianceStatus, note string) error
}

type Sweeper struct {
	service  ObligationService
	horizon  time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Sweeper)

func WithHorizon(horizon time.Duration) Option {
	return func(s *Sweeper) {
		if horizon > 0 {
			s.horizon = horizon
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

func New(service ObligationService, opts ...Option) *Sweeper {
	s := &Sweeper{
		service:  service,
		horizon:  DefaultHorizon,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on a ticker until the context is cancelled. One pass runs
// immediately on start so a restart does not wait out a full interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass. Failures on individual obligations are
// logged and skipped so one bad record never stalls the rest.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := requestcontext.Now(ctx)
	s.metrics.IncrementSweepRun()

	candidates, err := s.service.ListSweepCandidates(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "list sweep candidates", slog.String("error", err.Error()))
		return
	}

	var transitions int
	for _, o := range candidates {
		n, err := s.sweep(ctx, o, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "sweep obligation",
				slog.String("obligation_id", o.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		transitions += n
	}

	if transitions > 0 {
		s.logger.InfoContext(ctx, "deadline sweep applied transitions",
			slog.Int("count", transitions),
			slog.Int("candidates", len(candidates)))
	}
}

func (s *Sweeper) sweep(ctx context.Context, o *models.Obligation, now time.Time) (int, error) {
	if o.Deadline == nil {
		return 0, nil
	}
	deadline := *o.Deadline
	note := "prazo " + deadline.Format("2006-01-02")
	var transitions int

	// A pendente obligation whose deadline already passed still goes through
	// avencer; the table has no pendente→vencido edge.
	if o.Status == models.StatusPendente && deadline.Sub(now) <= s.horizon {
		if err := s.service.AutoTransition(ctx, o, models.StatusAVencer, note); err != nil {
			return transitions, err
		}
		s.metrics.IncrementSweepTransition(string(models.StatusAVencer))
		transitions++
	}

	if o.Status == models.StatusAVencer && now.After(deadline) {
		if err := s.service.AutoTransition(ctx, o, models.StatusVencido, note); err != nil {
			return transitions, err
		}
		s.metrics.IncrementSweepTransition(string(models.StatusVencido))
		transitions++
	}

	return transitions, nil
}
