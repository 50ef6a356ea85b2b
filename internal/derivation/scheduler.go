package derivation

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	catalogmodels "conformo/internal/catalog/models"
	"conformo/internal/derivation/metrics"
	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
)

// DefaultFanOutLimit bounds concurrent runs during a catalog upgrade so the
// stores are not flooded.
const DefaultFanOutLimit = 8

// Reevaluator lets the scheduler be tested without a full service.
type Reevaluator interface {
	Reevaluate(ctx context.Context, companyID domain.CompanyID, trigger string) (Result, error)
}

// Scheduler decides which companies to re-derive and when. Profile changes
// touch one company; a catalog upgrade fans out over every company the
// version diff can affect.
type Scheduler struct {
	service     Reevaluator
	profiles    ProfileReader
	fanOutLimit int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func WithFanOutLimit(limit int) SchedulerOption {
	return func(s *Scheduler) {
		if limit > 0 {
			s.fanOutLimit = limit
		}
	}
}

func NewScheduler(service Reevaluator, profiles ProfileReader, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		service:     service,
		profiles:    profiles,
		fanOutLimit: DefaultFanOutLimit,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnProfileChanged re-derives one company after its profile was updated.
func (s *Scheduler) OnProfileChanged(ctx context.Context, companyID domain.CompanyID) (Result, error) {
	return s.service.Reevaluate(ctx, companyID, TriggerProfileChange)
}

// UpgradeReport summarizes one catalog fan-out.
type UpgradeReport struct {
	Companies   int `json:"companies"`
	Reevaluated int `json:"reevaluated"`
	Skipped     int `json:"skipped"`
	Busy        int `json:"busy"`
	Failed      int `json:"failed"`
}

// OnCatalogUpgraded re-derives every company the version change can affect.
// Companies whose profiles cannot intersect the changed rules are skipped;
// the check is best-effort and errs toward re-deriving. Busy companies are
// counted, not retried: they hold obligations from the previous version,
// which stays correct, and the next trigger catches them up.
func (s *Scheduler) OnCatalogUpgraded(ctx context.Context, old, current *catalogmodels.CatalogVersion) (UpgradeReport, error) {
	s.metrics.IncrementCatalogUpgrade()

	companyIDs, err := s.profiles.ListCompanyIDs(ctx)
	if err != nil {
		return UpgradeReport{}, dErrors.Wrap(err, dErrors.CodeInternal, "list companies")
	}

	touched := touchedApplicability(old, current)
	var reevaluated, skipped, busy, failed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOutLimit)
	for _, companyID := range companyIDs {
		g.Go(func() error {
			if !s.affected(ctx, companyID, touched) {
				skipped.Add(1)
				return nil
			}
			_, err := s.service.Reevaluate(ctx, companyID, TriggerCatalogUpgrade)
			switch {
			case err == nil:
				reevaluated.Add(1)
			case dErrors.Is(err, dErrors.CodeBusy):
				busy.Add(1)
			default:
				failed.Add(1)
				s.logger.ErrorContext(ctx, "catalog upgrade re-evaluation failed",
					slog.String("company_id", string(companyID)),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	// Goroutines report through the counters; the group only propagates
	// context cancellation.
	if err := g.Wait(); err != nil {
		return UpgradeReport{}, err
	}

	report := UpgradeReport{
		Companies:   len(companyIDs),
		Reevaluated: int(reevaluated.Load()),
		Skipped:     int(skipped.Load()),
		Busy:        int(busy.Load()),
		Failed:      int(failed.Load()),
	}
	s.logger.InfoContext(ctx, "catalog upgrade fan-out finished",
		slog.Int("companies", report.Companies),
		slog.Int("reevaluated", report.Reevaluated),
		slog.Int("skipped", report.Skipped),
		slog.Int("busy", report.Busy),
		slog.Int("failed", report.Failed))
	return report, nil
}

// affected reports whether the company's profile can intersect the changed
// rules. Any doubt, including a failed profile read, means re-derive.
func (s *Scheduler) affected(ctx context.Context, companyID domain.CompanyID, touched []catalogmodels.Applicability) bool {
	for _, a := range touched {
		if a.Unconditional {
			return true
		}
	}

	profile, err := s.profiles.Snapshot(ctx, companyID)
	if err != nil {
		return true
	}
	normalized := profile.Normalized()
	states := make(map[string]struct{}, len(normalized.States))
	for _, uf := range normalized.States {
		states[uf] = struct{}{}
	}
	for _, a := range touched {
		if applies(a, normalized.CNAECodes, states) {
			return true
		}
	}
	return false
}

// touchedApplicability collects the applicability of every rule the upgrade
// added, removed, changed or superseded. For changed rules both versions'
// shapes matter: narrowing a rule affects companies that only match the old
// shape. On the first load every rule counts as added.
func touchedApplicability(old, current *catalogmodels.CatalogVersion) []catalogmodels.Applicability {
	if old == nil {
		var out []catalogmodels.Applicability
		for _, rule := range current.Rules() {
			out = append(out, rule.Applicability)
		}
		return out
	}

	diff := catalogmodels.DiffVersions(old, current)
	var out []catalogmodels.Applicability
	appendRule := func(v *catalogmodels.CatalogVersion, code domain.RequirementCode) {
		if rule, ok := v.ByCode(code); ok {
			out = append(out, rule.Applicability)
		}
	}
	for _, code := range diff.Added {
		appendRule(current, code)
	}
	for _, code := range diff.Removed {
		appendRule(old, code)
	}
	for _, code := range diff.Changed {
		appendRule(old, code)
		appendRule(current, code)
	}
	for oldCode, newCode := range diff.Superseded {
		appendRule(old, oldCode)
		appendRule(current, newCode)
	}
	return out
}
