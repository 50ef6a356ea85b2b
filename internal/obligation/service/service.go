// Package service implements the obligation lifecycle: manual status
// transitions, the adverse-status action-plan side effect, and the
// persistence of synthesis diffs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	catalogmodels "conformo/internal/catalog/models"
	"conformo/internal/events"
	"conformo/internal/obligation/metrics"
	"conformo/internal/obligation/models"
	"conformo/pkg/domain"
	dErrors "conformo/pkg/domain-errors"
	"conformo/pkg/platform/sentinel"
	"conformo/pkg/requestcontext"
)

// Store persists obligations, their history, and action plans.
type Store interface {
	Get(ctx context.Context, id domain.ObligationID) (*models.Obligation, error)
	ListByCompany(ctx context.Context, companyID domain.CompanyID) ([]*models.Obligation, error)
	ApplyDiff(ctx context.Context, added, retired []*models.Obligation) error
	Update(ctx context.Context, o *models.Obligation) error
	ListSweepCandidates(ctx context.Context) ([]*models.Obligation, error)
	ActivePlanByObligation(ctx context.Context, obligationID domain.ObligationID) (*models.ActionPlan, error)
	SavePlan(ctx context.Context, plan *models.ActionPlan) error
	ListPlansByCompany(ctx context.Context, companyID domain.CompanyID) ([]*models.ActionPlan, error)
}

// CatalogReader resolves the risk level behind an obligation's requirement
// code. Only the current snapshot is consulted.
type CatalogReader interface {
	Current(ctx context.Context) (*catalogmodels.CatalogVersion, error)
}

type Service struct {
	store     Store
	catalog   CatalogReader
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, catalog CatalogReader, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if catalog == nil {
		return nil, errors.New("catalog reader is required")
	}
	s := &Service{
		store:     store,
		catalog:   catalog,
		publisher: events.NopPublisher{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetStatusInput carries the optional fields a status change may update
// alongside the transition itself.
type SetStatusInput struct {
	Status      models.ComplianceStatus `json:"status"`
	Responsible *string                 `json:"responsible,omitempty"`
	Deadline    *time.Time              `json:"deadline,omitempty"`
	Note        string                  `json:"note,omitempty"`
}

// SetStatus applies a manual lifecycle transition. The actor comes from the
// request context. On success the obligation carries exactly one new history
// entry; if the destination is adverse and the requirement is high-risk, an
// action plan is opened as a side effect.
func (s *Service) SetStatus(ctx context.Context, id domain.ObligationID, in SetStatusInput) (*models.Obligation, error) {
	o, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	actor := requestcontext.ActorID(ctx)
	before := o.Status

	if err := o.ApplyTransition(in.Status, actor, in.Note, now); err != nil {
		return nil, err
	}
	if in.Responsible != nil {
		o.Responsible = *in.Responsible
	}
	if in.Deadline != nil {
		o.Deadline = in.Deadline
	}

	if err := s.store.Update(ctx, o); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update obligation")
	}

	s.metrics.IncrementTransition(string(before), string(o.Status), "manual")
	s.publish(ctx, events.EventObligationStatusChanged, o, actor, before, o.Status, now)

	if o.Status.IsAdverse() {
		if err := s.ensureActionPlan(ctx, o, now); err != nil {
			// The transition already committed; the plan can be retried on
			// the next adverse transition.
			s.logger.ErrorContext(ctx, "open action plan",
				slog.String("obligation_id", o.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	s.logger.InfoContext(ctx, "obligation status changed",
		slog.String("obligation_id", o.ID.String()),
		slog.String("company_id", string(o.CompanyID)),
		slog.String("from", string(before)),
		slog.String("to", string(o.Status)),
		slog.String("actor", actor))

	return o, nil
}

// Reactivate puts a retired obligation back into the evaluation flow. It is
// the manual nao_aplicavel to nao_avaliado edge; synthesis never revives a
// retired obligation on its own.
func (s *Service) Reactivate(ctx context.Context, id domain.ObligationID, note string) (*models.Obligation, error) {
	return s.SetStatus(ctx, id, SetStatusInput{Status: models.StatusNaoAvaliado, Note: note})
}

// AutoTransition applies a deadline-driven transition on behalf of the sweep.
// The caller owns the obligation value; the service persists and publishes.
func (s *Service) AutoTransition(ctx context.Context, o *models.Obligation, next models.ComplianceStatus, note string) error {
	now := requestcontext.Now(ctx)
	before := o.Status

	if err := o.ApplyTransition(next, requestcontext.SystemActor, note, now); err != nil {
		return err
	}
	if err := s.store.Update(ctx, o); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "update obligation")
	}

	s.metrics.IncrementTransition(string(before), string(next), "sweep")
	s.publish(ctx, events.EventObligationStatusChanged, o, requestcontext.SystemActor, before, next, now)

	if next.IsAdverse() {
		if err := s.ensureActionPlan(ctx, o, now); err != nil {
			s.logger.ErrorContext(ctx, "open action plan",
				slog.String("obligation_id", o.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// ApplyDiff persists a synthesis diff atomically and fans out the resulting
// events. Added obligations that carry a carried-forward history entry are
// announced as carry-forwards rather than fresh creations.
func (s *Service) ApplyDiff(ctx context.Context, added, retired []*models.Obligation) error {
	if len(added) == 0 && len(retired) == 0 {
		return nil
	}
	if err := s.store.ApplyDiff(ctx, added, retired); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "obligation already exists for company and requirement")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "apply obligation diff")
	}

	now := requestcontext.Now(ctx)
	for _, o := range added {
		eventType := events.EventObligationCreated
		if carriedForward(o) {
			eventType = events.EventObligationCarriedForward
		}
		s.publish(ctx, eventType, o, requestcontext.SystemActor, "", o.Status, now)
	}
	for _, o := range retired {
		s.publish(ctx, events.EventObligationRetired, o, requestcontext.SystemActor, "", o.Status, now)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id domain.ObligationID) (*models.Obligation, error) {
	return s.get(ctx, id)
}

func (s *Service) List(ctx context.Context, companyID domain.CompanyID) ([]*models.Obligation, error) {
	if companyID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "company id is required")
	}
	obligations, err := s.store.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list obligations")
	}
	return obligations, nil
}

// History returns the append-only audit trail for one obligation, oldest
// entry first.
func (s *Service) History(ctx context.Context, id domain.ObligationID) ([]models.ObligationHistory, error) {
	o, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.History, nil
}

func (s *Service) ListPlans(ctx context.Context, companyID domain.CompanyID) ([]*models.ActionPlan, error) {
	if companyID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "company id is required")
	}
	plans, err := s.store.ListPlansByCompany(ctx, companyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list action plans")
	}
	return plans, nil
}

// ListSweepCandidates exposes deadline-bearing open obligations to the sweep
// worker.
func (s *Service) ListSweepCandidates(ctx context.Context) ([]*models.Obligation, error) {
	return s.store.ListSweepCandidates(ctx)
}

func (s *Service) get(ctx context.Context, id domain.ObligationID) (*models.Obligation, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "obligation id is required")
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "obligation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get obligation")
	}
	return o, nil
}

// ensureActionPlan opens one plan per obligation at most. The plan is only
// warranted for adverse statuses on alto/critico requirements.
func (s *Service) ensureActionPlan(ctx context.Context, o *models.Obligation, now time.Time) error {
	version, err := s.catalog.Current(ctx)
	if err != nil {
		return fmt.Errorf("resolve catalog: %w", err)
	}
	rule, ok := version.ByCode(o.RequirementCode)
	if !ok || !rule.RiskLevel.RequiresActionPlan() {
		return nil
	}

	existing, err := s.store.ActivePlanByObligation(ctx, o.ID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("look up active plan: %w", err)
	}
	if existing != nil {
		return nil
	}

	plan := models.NewActionPlan(o, "Regularizar "+string(o.RequirementCode), now)
	if err := s.store.SavePlan(ctx, plan); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Another writer opened the plan first; the invariant holds.
			return nil
		}
		return fmt.Errorf("save plan: %w", err)
	}

	s.metrics.IncrementPlansOpened()
	s.publisher.Publish(ctx, events.Event{
		Type:            events.EventActionPlanOpened,
		CompanyID:       o.CompanyID,
		ObligationID:    o.ID,
		RequirementCode: o.RequirementCode,
		Actor:           requestcontext.SystemActor,
		OccurredAt:      now,
	})
	return nil
}

func (s *Service) publish(ctx context.Context, t events.EventType, o *models.Obligation, actor string, before, after models.ComplianceStatus, now time.Time) {
	s.publisher.Publish(ctx, events.Event{
		Type:            t,
		CompanyID:       o.CompanyID,
		ObligationID:    o.ID,
		RequirementCode: o.RequirementCode,
		Actor:           actor,
		StatusBefore:    string(before),
		StatusAfter:     string(after),
		OccurredAt:      now,
	})
}

func carriedForward(o *models.Obligation) bool {
	for _, h := range o.History {
		if h.Action == models.ActionCarriedForward {
			return true
		}
	}
	return false
}
