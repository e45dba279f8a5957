package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/amohamed/cashier-backend/internal/invoices"
	"github.com/amohamed/cashier-backend/internal/subscriptions"
	dbpkg "github.com/amohamed/cashier-backend/pkg/db"
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

// ServiceParams groups dependencies for the payment service.
type ServiceParams struct {
	Repo              Repository
	SubscriptionRepo  subscriptions.Repository
	Invoices          *invoices.Service
	Outbox            *outbox.Service
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service records charges and drives confirmation side effects.
type Service struct {
	repo     Repository
	subRepo  subscriptions.Repository
	invoices *invoices.Service
	outbox   *outbox.Service
	txRunner txRunner
	logg     *logger.Logger
}

// NewService builds a payment service with the required dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.SubscriptionRepo == nil {
		return nil, errors.New("subscription repo is required")
	}
	if params.Invoices == nil {
		return nil, errors.New("invoice service is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox service is required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner is required")
	}
	return &Service{
		repo:     params.Repo,
		subRepo:  params.SubscriptionRepo,
		invoices: params.Invoices,
		outbox:   params.Outbox,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

// CreateOfflineInput captures an operator-recorded charge attempt.
type CreateOfflineInput struct {
	SubscriptionID  uuid.UUID
	Amount          decimal.Decimal
	PaymentMethod   enums.PaymentMethod
	ReferenceNumber *string
	Notes           *string
}

// CreateOffline records a manual payment in pending until an operator
// confirms the funds arrived.
func (s *Service) CreateOffline(ctx context.Context, input CreateOfflineInput) (*models.Payment, error) {
	if !input.PaymentMethod.IsValid() || !input.PaymentMethod.IsManual() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method must be a manual method")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	sub, err := s.mustFindSubscription(ctx, input.SubscriptionID)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		SubscriptionID:  sub.ID,
		Amount:          input.Amount,
		PaymentMethod:   input.PaymentMethod,
		Status:          enums.PaymentStatusPending,
		ReferenceNumber: input.ReferenceNumber,
		Notes:           input.Notes,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating payment")
	}
	return payment, nil
}

// Confirm transitions a pending payment to completed, activates a pending or
// trialing subscription, and issues the single invoice owed to the payment.
// Confirming an already-completed payment is a safe no-op.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var confirmed *models.Payment
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		payment, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment")
		}
		if payment == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		if payment.Status == enums.PaymentStatusCompleted {
			confirmed = payment
			return nil
		}
		if payment.Status == enums.PaymentStatusFailed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "failed payments cannot be confirmed")
		}

		now := time.Now()
		payment.Status = enums.PaymentStatusCompleted
		payment.PaidAt = &now
		if err := repo.Update(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirming payment")
		}

		if err := s.settle(ctx, tx, payment); err != nil {
			return err
		}
		confirmed = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "payment_id", confirmed.ID.String()), "payment confirmed")
	}
	return confirmed, nil
}

// CreateGatewayInput captures a gateway-settled charge.
type CreateGatewayInput struct {
	SubscriptionID  uuid.UUID
	StripePaymentID string
	AmountCents     int64
}

// CreateGateway records a payment the card gateway already settled. The
// amount arrives in minor units. Replays of the same stripe payment id return
// the stored row without side effects.
func (s *Service) CreateGateway(ctx context.Context, input CreateGatewayInput) (*models.Payment, error) {
	if input.StripePaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe payment id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	if existing, err := s.repo.FindByStripePaymentID(ctx, input.StripePaymentID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking for replayed payment")
	} else if existing != nil {
		return existing, nil
	}

	sub, err := s.mustFindSubscription(ctx, input.SubscriptionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stripeID := input.StripePaymentID
	payment := &models.Payment{
		SubscriptionID:  sub.ID,
		Amount:          decimal.NewFromInt(input.AmountCents).Div(decimal.NewFromInt(100)),
		PaymentMethod:   enums.PaymentMethodStripe,
		Status:          enums.PaymentStatusCompleted,
		StripePaymentID: &stripeID,
		PaidAt:          &now,
	}

	var raced bool
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_payments_stripe_payment_id") ||
				dbpkg.IsUniqueViolation(err, "payments.stripe_payment_id") {
				raced = true
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating gateway payment")
		}
		return s.settle(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	if raced {
		// Lost the race with a concurrent delivery of the same event; return
		// the row that won, not the local struct that was never inserted.
		return s.repo.FindByStripePaymentID(ctx, input.StripePaymentID)
	}
	return payment, nil
}

// MarkGatewayFailure records a failed gateway charge and pushes the
// subscription to past_due.
func (s *Service) MarkGatewayFailure(ctx context.Context, subscriptionID uuid.UUID, stripePaymentID string) error {
	sub, err := s.mustFindSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		now := time.Now()
		var paymentID uuid.UUID

		if stripePaymentID != "" {
			payment, err := s.repo.WithTx(tx).FindByStripePaymentID(ctx, stripePaymentID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading gateway payment")
			}
			if payment != nil && payment.Status == enums.PaymentStatusPending {
				payment.Status = enums.PaymentStatusFailed
				if err := s.repo.WithTx(tx).Update(ctx, payment); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failing payment")
				}
				paymentID = payment.ID
			}
		}

		sub.Status = enums.SubscriptionStatusPastDue
		if err := s.subRepo.WithTx(tx).Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking subscription past due")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   sub.ID,
			Version:       1,
			Data: payloads.PaymentFailedEvent{
				PaymentID:       paymentID,
				SubscriptionID:  sub.ID,
				UserID:          sub.UserID,
				StripePaymentID: stripePaymentID,
				FailedAt:        now,
			},
		})
	})
}

// settle runs the shared post-completion effects: subscription activation,
// invoice generation, outbox events. Must be called inside tx with the
// payment already completed.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	sub, err := s.subRepo.WithTx(tx).FindByID(ctx, payment.SubscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
	}
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}

	if sub.Status == enums.SubscriptionStatusPending || sub.Status == enums.SubscriptionStatusTrial {
		sub.Status = enums.SubscriptionStatusActive
		sub.TrialEndsAt = nil
		if err := s.subRepo.WithTx(tx).Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activating subscription")
		}
	}

	invoice, err := s.invoices.GenerateForPayment(ctx, tx, payment)
	if err != nil {
		return err
	}

	paidAt := time.Now()
	if payment.PaidAt != nil {
		paidAt = *payment.PaidAt
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentReceived,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Data: payloads.PaymentReceivedEvent{
			PaymentID:      payment.ID,
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			Amount:         payment.Amount,
			PaymentMethod:  payment.PaymentMethod,
			PaidAt:         paidAt,
		},
	}); err != nil {
		return err
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvoiceIssued,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoice.ID,
		Version:       1,
		Data: payloads.InvoiceIssuedEvent{
			InvoiceID: invoice.ID,
			PaymentID: payment.ID,
			Number:    invoice.Number,
			Total:     invoice.Total,
			DueDate:   invoice.DueDate,
		},
	})
}

// Get returns a payment by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

// ListParams configures List.
type ListParams struct {
	SubscriptionID *uuid.UUID
	Status         *enums.PaymentStatus
	Limit          int
	Cursor         string
}

// ListResult is a page of payments plus the next cursor.
type ListResult struct {
	Items  []models.Payment
	Cursor string
}

// List returns payments, newest first.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	items, next, err := s.repo.List(ctx, ListPaymentsQuery{
		SubscriptionID: params.SubscriptionID,
		Status:         params.Status,
		Limit:          params.Limit,
		Cursor:         cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payments")
	}

	result := &ListResult{Items: items}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *Service) mustFindSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	sub, err := s.subRepo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}
