package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amohamed/cashier-backend/internal/plans"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
	"github.com/amohamed/cashier-backend/pkg/logger"
	"github.com/amohamed/cashier-backend/pkg/outbox"
	"github.com/amohamed/cashier-backend/pkg/outbox/payloads"
	"github.com/amohamed/cashier-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              Repository
	PlanRepo          plans.Repository
	Outbox            *outbox.Service
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service drives the subscription lifecycle.
type Service struct {
	repo     Repository
	planRepo plans.Repository
	outbox   *outbox.Service
	txRunner txRunner
	logg     *logger.Logger
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.PlanRepo == nil {
		return nil, errors.New("plan repo is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox service is required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner is required")
	}
	return &Service{
		repo:     params.Repo,
		planRepo: params.PlanRepo,
		outbox:   params.Outbox,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

// CreateSubscriptionInput captures the data required to start a subscription.
type CreateSubscriptionInput struct {
	UserID        uuid.UUID
	PlanID        uuid.UUID
	PaymentMethod enums.PaymentMethod
	StripeID      *string
}

// Create starts a subscription in trial when the plan carries a trial window,
// pending otherwise.
func (s *Service) Create(ctx context.Context, input CreateSubscriptionInput) (*models.Subscription, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}

	plan, err := s.planRepo.FindByID(ctx, input.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "plan is not open for subscription")
	}

	sub := &models.Subscription{
		UserID:        input.UserID,
		PlanID:        plan.ID,
		Status:        enums.SubscriptionStatusPending,
		PaymentMethod: input.PaymentMethod,
		StripeID:      input.StripeID,
	}
	if plan.HasTrial() {
		trialEnd := time.Now().AddDate(0, 0, plan.TrialPeriodDays)
		sub.Status = enums.SubscriptionStatusTrial
		sub.TrialEndsAt = &trialEnd
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating subscription")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCreated,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionCreatedEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				PlanID:         sub.PlanID,
				Status:         sub.Status,
				PaymentMethod:  sub.PaymentMethod,
				TrialEndsAt:    sub.TrialEndsAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "subscription created")
	}
	return sub, nil
}

// Cancel marks the subscription cancelled. With immediate set, ends_at is
// stamped now; otherwise ends_at is left unset and the billing-period boundary
// stays with the scheduler that owns it. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, immediate bool) (*models.Subscription, error) {
	sub, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == enums.SubscriptionStatusCancelled {
		return sub, nil
	}

	sub.Status = enums.SubscriptionStatusCancelled
	if immediate {
		now := time.Now()
		sub.EndsAt = &now
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancelling subscription")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCanceled,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionCanceledEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				PlanID:         sub.PlanID,
				EndsAt:         sub.EndsAt,
				Immediate:      immediate,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Resume reactivates a cancelled or paused subscription. Any other starting
// state is a precondition failure, not an internal error.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.Status.IsResumable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription cannot be resumed from its current state").
			WithDetails(map[string]any{"status": sub.Status})
	}

	sub.Status = enums.SubscriptionStatusActive
	sub.EndsAt = nil

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resuming subscription")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionResumed,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionResumedEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				PlanID:         sub.PlanID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Pause moves the subscription to paused from any state.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == enums.SubscriptionStatusPaused {
		return sub, nil
	}

	sub.Status = enums.SubscriptionStatusPaused
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "pausing subscription")
	}
	return sub, nil
}

// Expire moves the subscription to expired and stamps ends_at.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == enums.SubscriptionStatusExpired {
		return sub, nil
	}

	now := time.Now()
	sub.Status = enums.SubscriptionStatusExpired
	sub.EndsAt = &now

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "expiring subscription")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionExpired,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.SubscriptionExpiredEvent{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				PlanID:         sub.PlanID,
				ExpiredAt:      now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ChangePlan repoints the subscription at a new plan without touching status,
// trial state or proration.
func (s *Service) ChangePlan(ctx context.Context, id, newPlanID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}

	plan, err := s.planRepo.FindByID(ctx, newPlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if plan.Status != enums.PlanStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "plan is not open for subscription")
	}
	if sub.PlanID == plan.ID {
		return sub, nil
	}

	sub.PlanID = plan.ID
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "changing plan")
	}
	return sub, nil
}

// Get returns a subscription owned by the given user.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != uuid.Nil && sub.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

// ListForUserParams configures ListForUser.
type ListForUserParams struct {
	UserID uuid.UUID
	Status *enums.SubscriptionStatus
	Limit  int
	Cursor string
}

// ListForUserResult is a page of subscriptions plus the next cursor.
type ListForUserResult struct {
	Items  []models.Subscription
	Cursor string
}

// ListForUser returns the user's subscriptions, newest first.
func (s *Service) ListForUser(ctx context.Context, params ListForUserParams) (*ListForUserResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	items, next, err := s.repo.ListByUser(ctx, ListSubscriptionsQuery{
		UserID: params.UserID,
		Status: params.Status,
		Limit:  params.Limit,
		Cursor: cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing subscriptions")
	}

	result := &ListForUserResult{Items: items}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *Service) mustFind(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}
