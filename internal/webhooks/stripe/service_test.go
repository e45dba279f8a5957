package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/amohamed/cashier-backend/internal/invoices"
	"github.com/amohamed/cashier-backend/internal/payments"
	"github.com/amohamed/cashier-backend/internal/plans"
	"github.com/amohamed/cashier-backend/internal/subscriptions"
	"github.com/amohamed/cashier-backend/pkg/config"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	"github.com/amohamed/cashier-backend/pkg/outbox"
)

func setupWebhookTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  price NUMERIC NOT NULL,
  billing_interval TEXT NOT NULL,
  trial_period_days INTEGER NOT NULL DEFAULT 0,
  features TEXT,
  stripe_price_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL,
  payment_method TEXT NOT NULL,
  trial_ends_at DATETIME,
  ends_at DATETIME,
  stripe_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  payment_method TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  reference_number TEXT,
  stripe_payment_id TEXT UNIQUE,
  paid_at DATETIME,
  notes TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  payment_id TEXT NOT NULL UNIQUE,
  number TEXT NOT NULL UNIQUE,
  total NUMERIC NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  due_date DATETIME NOT NULL,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	} {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

type fakePaymentIntentClient struct {
	lastParams *stripe.PaymentIntentParams
	result     *stripe.PaymentIntent
	err        error
}

func (f *fakePaymentIntentClient) CreatePaymentIntent(_ context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newWebhookService(t *testing.T, db *gorm.DB, client *fakePaymentIntentClient) *Service {
	t.Helper()

	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo: invoices.NewRepository(db),
		Billing: config.BillingConfig{
			Currency:         "usd",
			InvoiceNumPrefix: "INV-",
			InvoiceDueIn:     7 * 24 * time.Hour,
		},
	})
	require.NoError(t, err)

	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Repo:              payments.NewRepository(db),
		SubscriptionRepo:  subscriptions.NewRepository(db),
		Invoices:          invoiceSvc,
		Outbox:            outbox.NewService(outbox.NewRepository(db), nil),
		TransactionRunner: gormTxRunner{db: db},
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Payments:         paymentSvc,
		SubscriptionRepo: subscriptions.NewRepository(db),
		PlanRepo:         plans.NewRepository(db),
		StripeClient:     client,
		Billing:          config.BillingConfig{Currency: "usd"},
	})
	require.NoError(t, err)
	return svc
}

func seedWebhookSubscription(t *testing.T, db *gorm.DB, status enums.SubscriptionStatus, stripeID *string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		PlanID:        uuid.New(),
		Status:        status,
		PaymentMethod: enums.PaymentMethodStripe,
		StripeID:      stripeID,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func paymentIntentEvent(t *testing.T, eventType stripe.EventType, intent map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(intent)
	require.NoError(t, err)
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandlePaymentSucceededActivatesSubscription(t *testing.T) {
	db := setupWebhookTestDB(t)
	svc := newWebhookService(t, db, &fakePaymentIntentClient{})
	sub := seedWebhookSubscription(t, db, enums.SubscriptionStatusPending, nil)

	event := paymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, map[string]any{
		"id":       "pi_success_1",
		"amount":   4999,
		"metadata": map[string]string{"subscription_id": sub.ID.String()},
	})
	require.NoError(t, svc.HandleEvent(context.Background(), event))

	var payment models.Payment
	require.NoError(t, db.Where("stripe_payment_id = ?", "pi_success_1").First(&payment).Error)
	require.Equal(t, enums.PaymentStatusCompleted, payment.Status)
	require.True(t, payment.Amount.Equal(decimal.RequireFromString("49.99")))
	require.NotNil(t, payment.PaidAt)

	var reloaded models.Subscription
	require.NoError(t, db.Where("id = ?", sub.ID).First(&reloaded).Error)
	require.Equal(t, enums.SubscriptionStatusActive, reloaded.Status)

	var invoiceCount int64
	require.NoError(t, db.Model(&models.Invoice{}).Where("payment_id = ?", payment.ID).Count(&invoiceCount).Error)
	require.EqualValues(t, 1, invoiceCount)
}

func TestHandlePaymentSucceededReplayIsNoOp(t *testing.T) {
	db := setupWebhookTestDB(t)
	svc := newWebhookService(t, db, &fakePaymentIntentClient{})
	sub := seedWebhookSubscription(t, db, enums.SubscriptionStatusPending, nil)

	event := paymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, map[string]any{
		"id":       "pi_replay",
		"amount":   1500,
		"metadata": map[string]string{"subscription_id": sub.ID.String()},
	})
	require.NoError(t, svc.HandleEvent(context.Background(), event))
	require.NoError(t, svc.HandleEvent(context.Background(), event))

	var paymentCount, invoiceCount int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&paymentCount).Error)
	require.NoError(t, db.Model(&models.Invoice{}).Count(&invoiceCount).Error)
	require.EqualValues(t, 1, paymentCount)
	require.EqualValues(t, 1, invoiceCount)
}

func TestHandleEventCorrelatesByStoredGatewayID(t *testing.T) {
	db := setupWebhookTestDB(t)
	svc := newWebhookService(t, db, &fakePaymentIntentClient{})
	stripeID := "pi_stored"
	sub := seedWebhookSubscription(t, db, enums.SubscriptionStatusActive, &stripeID)

	event := paymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, map[string]any{
		"id":     stripeID,
		"amount": 2500,
	})
	require.NoError(t, svc.HandleEvent(context.Background(), event))

	var payment models.Payment
	require.NoError(t, db.Where("subscription_id = ?", sub.ID).First(&payment).Error)
	require.Equal(t, enums.PaymentStatusCompleted, payment.Status)
}

func TestHandleEventDropsUncorrelated(t *testing.T) {
	db := setupWebhookTestDB(t)
	svc := newWebhookService(t, db, &fakePaymentIntentClient{})

	event := paymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, map[string]any{
		"id":     "pi_orphan",
		"amount": 1000,
	})
	require.NoError(t, svc.HandleEvent(context.Background(), event))

	var paymentCount int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&paymentCount).Error)
	require.Zero(t, paymentCount)
}

func TestHandleEventIgnoresUnknownTypes(t *testing.T) {
	db := setupWebhookTestDB(t)
	svc := newWebhookService(t, db, &fakePaymentIntentClient{})

	event := paymentIntentEvent(t, stripe.EventType("customer.created"), map[string]any{"id": "cus_1"})
	require.NoError(t, svc.HandleEvent(context.Background(), event))
}

func TestHandlePaymentFailedMarksPastDue(t *testing.T) {
	db := setupWebhookTestDB(t)
	svc := newWebhookService(t, db, &fakePaymentIntentClient{})
	sub := seedWebhookSubscription(t, db, enums.SubscriptionStatusActive, nil)

	event := paymentIntentEvent(t, stripe.EventTypePaymentIntentPaymentFailed, map[string]any{
		"id":       "pi_failed",
		"amount":   4999,
		"metadata": map[string]string{"subscription_id": sub.ID.String()},
	})
	require.NoError(t, svc.HandleEvent(context.Background(), event))

	var reloaded models.Subscription
	require.NoError(t, db.Where("id = ?", sub.ID).First(&reloaded).Error)
	require.Equal(t, enums.SubscriptionStatusPastDue, reloaded.Status)
}

func TestCreatePaymentIntentStampsCorrelationMetadata(t *testing.T) {
	db := setupWebhookTestDB(t)
	client := &fakePaymentIntentClient{
		result: &stripe.PaymentIntent{ID: "pi_new", ClientSecret: "pi_new_secret"},
	}
	svc := newWebhookService(t, db, client)

	plan := &models.Plan{
		ID:              uuid.New(),
		Name:            "Pro",
		Status:          enums.PlanStatusActive,
		Price:           decimal.RequireFromString("49.99"),
		BillingInterval: enums.BillingIntervalMonth,
	}
	require.NoError(t, db.Create(plan).Error)

	sub := &models.Subscription{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		PlanID:        plan.ID,
		Status:        enums.SubscriptionStatusPending,
		PaymentMethod: enums.PaymentMethodStripe,
	}
	require.NoError(t, db.Create(sub).Error)

	result, err := svc.CreatePaymentIntent(context.Background(), sub.UserID, sub.ID)
	require.NoError(t, err)
	require.Equal(t, "pi_new", result.IntentID)
	require.Equal(t, "pi_new_secret", result.ClientSecret)
	require.EqualValues(t, 4999, result.AmountCents)
	require.Equal(t, "usd", result.Currency)

	require.NotNil(t, client.lastParams)
	require.EqualValues(t, 4999, *client.lastParams.Amount)
	require.Equal(t, sub.ID.String(), client.lastParams.Metadata["subscription_id"])
}

func TestCreatePaymentIntentRejectsForeignSubscription(t *testing.T) {
	db := setupWebhookTestDB(t)
	svc := newWebhookService(t, db, &fakePaymentIntentClient{})
	sub := seedWebhookSubscription(t, db, enums.SubscriptionStatusPending, nil)

	_, err := svc.CreatePaymentIntent(context.Background(), uuid.New(), sub.ID)
	require.Error(t, err)
}
