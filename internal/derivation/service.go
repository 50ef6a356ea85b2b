package derivation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	catalogmodels "conformo/internal/catalog/models"
	companymodels "conformo/internal/company/models"
	"conformo/internal/derivation/lock"
	"conformo/internal/derivation/metrics"
	obligationmodels "conformo/internal/obligation/models"
	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
	"conformo/pkg/platform/sentinel"
	"conformo/pkg/requestcontext"
)

// Triggers label what started a run. They feed metrics and the result
// payload, nothing else branches on them.
const (
	TriggerProfileChange  = "profile_change"
	TriggerCatalogUpgrade = "catalog_upgrade"
	TriggerManual         = "manual"
)

// CatalogReader supplies the current catalog snapshot. Every run reads the
// snapshot exactly once, so a catalog swap mid-run is impossible.
type CatalogReader interface {
	Current(ctx context.Context) (*catalogmodels.CatalogVersion, error)
}

// ProfileReader supplies company profile snapshots.
type ProfileReader interface {
	Snapshot(ctx context.Context, companyID domain.CompanyID) (companymodels.CompanyProfile, error)
	ListCompanyIDs(ctx context.Context) ([]domain.CompanyID, error)
}

// ObligationWriter is the slice of the obligation service synthesis needs.
type ObligationWriter interface {
	List(ctx context.Context, companyID domain.CompanyID) ([]*obligationmodels.Obligation, error)
	ApplyDiff(ctx context.Context, added, retired []*obligationmodels.Obligation) error
}

// Result summarizes one derivation run for the caller.
type Result struct {
	CompanyID      domain.CompanyID `json:"company_id"`
	CatalogVersion int              `json:"catalog_version"`
	Trigger        string           `json:"trigger"`
	Matched        int              `json:"matched"`
	Added          int              `json:"added"`
	Retired        int              `json:"retired"`
	Retained       int              `json:"retained"`
	EvaluatedAt    time.Time        `json:"evaluated_at"`
}

type Service struct {
	catalog     CatalogReader
	profiles    ProfileReader
	obligations ObligationWriter
	runLock     lock.RunLock
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLock(l lock.RunLock) Option {
	return func(s *Service) { s.runLock = l }
}

func New(catalog CatalogReader, profiles ProfileReader, obligations ObligationWriter, opts ...Option) (*Service, error) {
	if catalog == nil {
		return nil, errors.New("catalog reader is required")
	}
	if profiles == nil {
		return nil, errors.New("profile reader is required")
	}
	if obligations == nil {
		return nil, errors.New("obligation writer is required")
	}
	s := &Service{
		catalog:     catalog,
		profiles:    profiles,
		obligations: obligations,
		runLock:     lock.NewMemory(),
		logger:      slog.Default(),
		tracer:      otel.Tracer("conformo/derivation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reevaluate runs the full derivation pipeline for one company: snapshot the
// profile and catalog, match, synthesize, persist the diff. At most one run
// per company is in flight; a concurrent request gets a busy error and no
// partial writes.
func (s *Service) Reevaluate(ctx context.Context, companyID domain.CompanyID, trigger string) (Result, error) {
	if companyID == "" {
		return Result{}, dErrors.New(dErrors.CodeBadRequest, "company id is required")
	}
	if trigger == "" {
		trigger = TriggerManual
	}

	acquired, err := s.runLock.Acquire(ctx, companyID)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "acquire run lock")
	}
	if !acquired {
		s.metrics.IncrementBusy()
		s.metrics.IncrementRun(trigger, "busy")
		return Result{}, dErrors.New(dErrors.CodeBusy, "re-evaluation already running for company "+string(companyID))
	}
	defer func() {
		if err := s.runLock.Release(ctx, companyID); err != nil {
			s.logger.ErrorContext(ctx, "release run lock",
				slog.String("company_id", string(companyID)),
				slog.String("error", err.Error()))
		}
	}()

	ctx, span := s.tracer.Start(ctx, "derivation.Reevaluate",
		trace.WithAttributes(
			attribute.String("company.id", string(companyID)),
			attribute.String("derivation.trigger", trigger),
		))
	defer span.End()

	started := time.Now()
	result, err := s.run(ctx, companyID, trigger)
	s.metrics.ObserveRunDuration(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		s.metrics.IncrementRun(trigger, "error")
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Int("derivation.matched", result.Matched),
		attribute.Int("derivation.added", result.Added),
		attribute.Int("derivation.retired", result.Retired),
	)
	s.metrics.IncrementRun(trigger, "ok")
	return result, nil
}

func (s *Service) run(ctx context.Context, companyID domain.CompanyID, trigger string) (Result, error) {
	version, err := s.catalog.Current(ctx)
	if err != nil {
		return Result{}, err
	}

	profile, err := s.profiles.Snapshot(ctx, companyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Result{}, dErrors.New(dErrors.CodeNotFound, "company profile not found")
		}
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "snapshot company profile")
	}

	matched, err := Match(profile, version)
	if err != nil {
		return Result{}, err
	}

	existing, err := s.obligations.List(ctx, companyID)
	if err != nil {
		return Result{}, err
	}

	now := requestcontext.Now(ctx)
	diff := Synthesize(companyID, matched, existing, version, now)
	if !diff.Empty() {
		if err := s.obligations.ApplyDiff(ctx, diff.Added, diff.Retired); err != nil {
			return Result{}, err
		}
	}

	s.metrics.AddObligations("added", len(diff.Added))
	s.metrics.AddObligations("retired", len(diff.Retired))

	s.logger.InfoContext(ctx, "derivation run completed",
		slog.String("company_id", string(companyID)),
		slog.String("trigger", trigger),
		slog.Int("catalog_version", version.Number()),
		slog.Int("matched", len(matched)),
		slog.Int("added", len(diff.Added)),
		slog.Int("retired", len(diff.Retired)))

	return Result{
		CompanyID:      companyID,
		CatalogVersion: version.Number(),
		Trigger:        trigger,
		Matched:        len(matched),
		Added:          len(diff.Added),
		Retired:        len(diff.Retired),
		Retained:       len(matched) - len(diff.Added),
		EvaluatedAt:    now,
	}, nil
}
