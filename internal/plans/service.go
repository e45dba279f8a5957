package plans

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
)

// ServiceParams groups dependencies for the plan service.
type ServiceParams struct {
	Repo Repository
}

// Service manages the plan catalog.
type Service struct {
	repo Repository
}

// NewService builds a plan service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// CreatePlanInput captures the data required to publish a plan.
type CreatePlanInput struct {
	Name            string
	Description     *string
	Price           decimal.Decimal
	BillingInterval enums.BillingInterval
	TrialPeriodDays int
	Features        models.FeatureMap
	StripePriceID   *string
}

// UpdatePlanInput carries optional field updates for an existing plan.
type UpdatePlanInput struct {
	Name            *string
	Description     *string
	Price           *decimal.Decimal
	TrialPeriodDays *int
	Features        models.FeatureMap
	StripePriceID   *string
}

// Create validates and persists a new active plan.
func (s *Service) Create(ctx context.Context, input CreatePlanInput) (*models.Plan, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name is required")
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan price must not be negative")
	}
	if !input.BillingInterval.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing interval must be month or year")
	}
	if input.TrialPeriodDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trial period days must not be negative")
	}

	plan := &models.Plan{
		Name:            name,
		Description:     input.Description,
		Status:          enums.PlanStatusActive,
		Price:           input.Price,
		BillingInterval: input.BillingInterval,
		TrialPeriodDays: input.TrialPeriodDays,
		Features:        input.Features,
		StripePriceID:   input.StripePriceID,
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating plan")
	}
	return plan, nil
}

// Update applies partial changes to an existing plan.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdatePlanInput) (*models.Plan, error) {
	plan, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name must not be empty")
		}
		plan.Name = name
	}
	if input.Description != nil {
		plan.Description = input.Description
	}
	if input.Price != nil {
		if input.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan price must not be negative")
		}
		plan.Price = *input.Price
	}
	if input.TrialPeriodDays != nil {
		if *input.TrialPeriodDays < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "trial period days must not be negative")
		}
		plan.TrialPeriodDays = *input.TrialPeriodDays
	}
	if input.Features != nil {
		plan.Features = input.Features
	}
	if input.StripePriceID != nil {
		plan.StripePriceID = input.StripePriceID
	}

	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating plan")
	}
	return plan, nil
}

// Archive retires a plan from sale. Existing subscriptions keep referencing
// the archived row, so plans are never deleted.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	plan, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status == enums.PlanStatusArchived {
		return plan, nil
	}

	plan.Status = enums.PlanStatusArchived
	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "archiving plan")
	}
	return plan, nil
}

// Get returns a plan by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.mustFind(ctx, id)
}

// List returns plans, optionally restricted to active ones.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	query := ListPlansQuery{}
	if activeOnly {
		active := enums.PlanStatusActive
		query.Status = &active
	}
	plans, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing plans")
	}
	return plans, nil
}

func (s *Service) mustFind(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}
