package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/amohamed/cashier-backend/internal/payments"
	"github.com/amohamed/cashier-backend/internal/plans"
	"github.com/amohamed/cashier-backend/internal/subscriptions"
	"github.com/amohamed/cashier-backend/pkg/config"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
	"github.com/amohamed/cashier-backend/pkg/logger"
)

// subscriptionMetadataKey is the correlation field stamped on every payment
// intent this service creates.
const subscriptionMetadataKey = "subscription_id"

var decimalHundred = decimal.NewFromInt(100)

// ServiceParams groups dependencies for the webhook service.
type ServiceParams struct {
	Payments         *payments.Service
	SubscriptionRepo subscriptions.Repository
	PlanRepo         plans.Repository
	StripeClient     PaymentIntentClient
	Billing          config.BillingConfig
	Logger           *logger.Logger
}

// Service translates gateway events into billing state changes.
type Service struct {
	payments *payments.Service
	subRepo  subscriptions.Repository
	planRepo plans.Repository
	stripe   PaymentIntentClient
	billing  config.BillingConfig
	logg     *logger.Logger
}

// NewService builds a webhook service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment service required")
	}
	if params.SubscriptionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.PlanRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan repo required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	return &Service{
		payments: params.Payments,
		subRepo:  params.SubscriptionRepo,
		planRepo: params.PlanRepo,
		stripe:   params.StripeClient,
		billing:  params.Billing,
		logg:     params.Logger,
	}, nil
}

// HandleEvent dispatches a verified gateway event. Events that cannot be
// correlated to a stored subscription are dropped without error so the
// gateway stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		intent, err := decodePaymentIntent(event)
		if err != nil {
			return err
		}
		return s.handlePaymentSucceeded(ctx, intent)
	case stripe.EventTypePaymentIntentPaymentFailed:
		intent, err := decodePaymentIntent(event)
		if err != nil {
			return err
		}
		return s.handlePaymentFailed(ctx, intent)
	default:
		return nil
	}
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, intent *stripe.PaymentIntent) error {
	sub, err := s.correlate(ctx, intent)
	if err != nil {
		return err
	}
	if sub == nil {
		s.dropUnmatched(ctx, intent)
		return nil
	}

	_, err = s.payments.CreateGateway(ctx, payments.CreateGatewayInput{
		SubscriptionID:  sub.ID,
		StripePaymentID: intent.ID,
		AmountCents:     intent.Amount,
	})
	return err
}

func (s *Service) handlePaymentFailed(ctx context.Context, intent *stripe.PaymentIntent) error {
	sub, err := s.correlate(ctx, intent)
	if err != nil {
		return err
	}
	if sub == nil {
		s.dropUnmatched(ctx, intent)
		return nil
	}
	return s.payments.MarkGatewayFailure(ctx, sub.ID, intent.ID)
}

// correlate resolves the subscription a payment intent belongs to, first via
// the metadata stamp, then via the stored gateway id.
func (s *Service) correlate(ctx context.Context, intent *stripe.PaymentIntent) (*models.Subscription, error) {
	if raw, ok := intent.Metadata[subscriptionMetadataKey]; ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err == nil {
			sub, err := s.subRepo.FindByID(ctx, id)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
			}
			if sub != nil {
				return sub, nil
			}
		}
	}
	return s.subRepo.FindByStripeID(ctx, intent.ID)
}

func (s *Service) dropUnmatched(ctx context.Context, intent *stripe.PaymentIntent) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "payment_intent", intent.ID), "dropping uncorrelated gateway event")
}

func decodePaymentIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent event")
	}
	return &intent, nil
}

// PaymentIntentResult carries the gateway handle back to the client.
type PaymentIntentResult struct {
	IntentID     string
	ClientSecret string
	AmountCents  int64
	Currency     string
}

// CreatePaymentIntent opens a gateway charge for the subscription's plan
// price, stamped with the correlation metadata the webhook path relies on.
func (s *Service) CreatePaymentIntent(ctx context.Context, userID, subscriptionID uuid.UUID) (*PaymentIntentResult, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	sub, err := s.subRepo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading subscription")
	}
	if sub == nil || (userID != uuid.Nil && sub.UserID != userID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}

	plan, err := s.planRepo.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}

	amountCents := plan.Price.Mul(decimalHundred).IntPart()
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "plan price is not chargeable")
	}

	currency := s.billing.Currency
	if currency == "" {
		currency = "usd"
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	params.AddMetadata(subscriptionMetadataKey, sub.ID.String())

	intent, err := s.stripe.CreatePaymentIntent(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	return &PaymentIntentResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  amountCents,
		Currency:     currency,
	}, nil
}
