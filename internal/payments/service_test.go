package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/amohamed/cashier-backend/internal/invoices"
	"github.com/amohamed/cashier-backend/internal/subscriptions"
	"github.com/amohamed/cashier-backend/pkg/config"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
	"github.com/amohamed/cashier-backend/pkg/outbox"
)

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	for _, ddl := range []string{
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

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	return newTestServiceWithRepo(t, db, NewRepository(db))
}

func newTestServiceWithRepo(t *testing.T, db *gorm.DB, repo Repository) *Service {
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

	svc, err := NewService(ServiceParams{
		Repo:              repo,
		SubscriptionRepo:  subscriptions.NewRepository(db),
		Invoices:          invoiceSvc,
		Outbox:            outbox.NewService(outbox.NewRepository(db), nil),
		TransactionRunner: gormTxRunner{db: db},
	})
	require.NoError(t, err)
	return svc
}

func seedSubscription(t *testing.T, db *gorm.DB, status enums.SubscriptionStatus) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		PlanID:        uuid.New(),
		Status:        status,
		PaymentMethod: enums.PaymentMethodCash,
	}
	if status == enums.SubscriptionStatusTrial {
		trialEnd := time.Now().AddDate(0, 0, 7)
		sub.TrialEndsAt = &trialEnd
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func reloadSubscription(t *testing.T, db *gorm.DB, id uuid.UUID) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, db.Where("id = ?", id).First(&sub).Error)
	return &sub
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(model).Count(&count).Error)
	return count
}

func TestCreateOfflineStartsPending(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, db)
	sub := seedSubscription(t, db, enums.SubscriptionStatusPending)

	ref := "CASH-123"
	payment, err := svc.CreateOffline(context.Background(), CreateOfflineInput{
		SubscriptionID:  sub.ID,
		Amount:          decimal.RequireFromString("99.99"),
		PaymentMethod:   enums.PaymentMethodCash,
		ReferenceNumber: &ref,
	})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.Nil(t, payment.PaidAt)
}

func TestCreateOfflineRejectsGatewayMethod(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, db)
	sub := seedSubscription(t, db, enums.SubscriptionStatusPending)

	_, err := svc.CreateOffline(context.Background(), CreateOfflineInput{
		SubscriptionID: sub.ID,
		Amount:         decimal.NewFromInt(10),
		PaymentMethod:  enums.PaymentMethodStripe,
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestConfirmActivatesAndInvoices(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, db)
	sub := seedSubscription(t, db, enums.SubscriptionStatusPending)

	payment, err := svc.CreateOffline(context.Background(), CreateOfflineInput{
		SubscriptionID: sub.ID,
		Amount:         decimal.RequireFromString("99.99"),
		PaymentMethod:  enums.PaymentMethodCash,
	})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusCompleted, confirmed.Status)
	require.NotNil(t, confirmed.PaidAt)

	require.Equal(t, enums.SubscriptionStatusActive, reloadSubscription(t, db, sub.ID).Status)

	var invoice models.Invoice
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&invoice).Error)
	require.True(t, invoice.Total.Equal(confirmed.Amount))
	require.Equal(t, enums.InvoiceStatusPaid, invoice.Status)

	var events int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_type IN (?)", []enums.OutboxEventType{enums.EventPaymentReceived, enums.EventInvoiceIssued}).
		Count(&events).Error)
	require.EqualValues(t, 2, events)
}

func TestConfirmConvertsTrial(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, db)
	sub := seedSubscription(t, db, enums.SubscriptionStatusTrial)

	payment, err := svc.CreateOffline(context.Background(), CreateOfflineInput{
		SubscriptionID: sub.ID,
		Amount:         decimal.NewFromInt(50),
		PaymentMethod:  enums.PaymentMethodCheck,
	})
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), payment.ID)
	require.NoError(t, err)

	got := reloadSubscription(t, db, sub.ID)
	require.Equal(t, enums.SubscriptionStatusActive, got.Status)
	require.Nil(t, got.TrialEndsAt)
}

func TestConfirmTwiceProducesOneInvoice(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, db)
	sub := seedSubscription(t, db, enums.SubscriptionStatusPending)

	payment, err := svc.CreateOffline(context.Background(), CreateOfflineInput{
		SubscriptionID: sub.ID,
		Amount:         decimal.NewFromInt(20),
		PaymentMethod:  enums.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), payment.ID)
	require.NoError(t, err)
	_, err = svc.Confirm(context.Background(), payment.ID)
	require.NoError(t, err)

	require.EqualValues(t, 1, countRows(t, db, &models.Invoice{}))
}

func TestConfirmRejectsFailedPayment(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, db)
	sub := seedSubscription(t, db, enums.SubscriptionStatusActive)

	payment := &models.Payment{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Amount:         decimal.NewFromInt(5),
		PaymentMethod:  enums.PaymentMethodCash,
		Status:         enums.PaymentStatusFailed,
	}
	require.NoError(t, db.Create(payment).Error)

	_, err := svc.Confirm(context.Background(), payment.ID)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestCreateGatewayConvertsMinorUnits(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, db)
	sub := seedSubscription(t, db, enums.SubscriptionStatusPending)

	payment, err := svc.CreateGateway(context.Background(), CreateGatewayInput{
		SubscriptionID:  sub.ID,
		StripePaymentID: "pi_1",
		AmountCents:     9999,
	})
	require.NoError(t, err)
	require.True(t, payment.Amount.Equal(decimal.RequireFromString("99.99")))
	require.Equal(t, enums.PaymentStatusCompleted, payment.Status)
	require.Equal(t, enums.PaymentMethodStripe, payment.PaymentMethod)
	require.NotNil(t, payment.PaidAt)

	require.Equal(t, enums.SubscriptionStatusActive, reloadSubscription(t, db, sub.ID).Status)
	require.EqualValues(t, 1, countRows(t, db, &models.Invoice{}))
}

func TestCreateGatewayReplayIsNoOp(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, db)
	sub := seedSubscription(t, db, enums.SubscriptionStatusPending)

	first, err := svc.CreateGateway(context.Background(), CreateGatewayInput{
		SubscriptionID:  sub.ID,
		StripePaymentID: "pi_replay",
		AmountCents:     1000,
	})
	require.NoError(t, err)

	second, err := svc.CreateGateway(context.Background(), CreateGatewayInput{
		SubscriptionID:  sub.ID,
		StripePaymentID: "pi_replay",
		AmountCents:     1000,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	require.EqualValues(t, 1, countRows(t, db, &models.Payment{}))
	require.EqualValues(t, 1, countRows(t, db, &models.Invoice{}))
}

// raceWindowRepo hides the winning row from the first FindByStripePaymentID
// call, so the pre-insert check misses a payment another delivery committed
// just before ours.
type raceWindowRepo struct {
	Repository
	calls *int
}

func (r raceWindowRepo) WithTx(tx *gorm.DB) Repository {
	return raceWindowRepo{Repository: r.Repository.WithTx(tx), calls: r.calls}
}

func (r raceWindowRepo) FindByStripePaymentID(ctx context.Context, stripePaymentID string) (*models.Payment, error) {
	*r.calls++
	if *r.calls == 1 {
		return nil, nil
	}
	return r.Repository.FindByStripePaymentID(ctx, stripePaymentID)
}

func TestCreateGatewayReturnsWinnerAfterInsertRace(t *testing.T) {
	db := setupPaymentsTestDB(t)
	sub := seedSubscription(t, db, enums.SubscriptionStatusActive)

	stripeID := "pi_race"
	now := time.Now()
	winner := &models.Payment{
		ID:              uuid.New(),
		SubscriptionID:  sub.ID,
		Amount:          decimal.NewFromInt(10),
		PaymentMethod:   enums.PaymentMethodStripe,
		Status:          enums.PaymentStatusCompleted,
		StripePaymentID: &stripeID,
		PaidAt:          &now,
	}
	require.NoError(t, db.Create(winner).Error)

	calls := 0
	svc := newTestServiceWithRepo(t, db, raceWindowRepo{Repository: NewRepository(db), calls: &calls})

	payment, err := svc.CreateGateway(context.Background(), CreateGatewayInput{
		SubscriptionID:  sub.ID,
		StripePaymentID: stripeID,
		AmountCents:     1000,
	})
	require.NoError(t, err)
	require.Equal(t, winner.ID, payment.ID)

	// The returned row must be the committed one, not a phantom.
	var stored models.Payment
	require.NoError(t, db.Where("id = ?", payment.ID).First(&stored).Error)
	require.EqualValues(t, 1, countRows(t, db, &models.Payment{}))
}

func TestMarkGatewayFailureSetsPastDue(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, db)
	sub := seedSubscription(t, db, enums.SubscriptionStatusActive)

	stripeID := "pi_failed"
	pending := &models.Payment{
		ID:              uuid.New(),
		SubscriptionID:  sub.ID,
		Amount:          decimal.NewFromInt(10),
		PaymentMethod:   enums.PaymentMethodStripe,
		Status:          enums.PaymentStatusPending,
		StripePaymentID: &stripeID,
	}
	require.NoError(t, db.Create(pending).Error)

	require.NoError(t, svc.MarkGatewayFailure(context.Background(), sub.ID, stripeID))

	require.Equal(t, enums.SubscriptionStatusPastDue, reloadSubscription(t, db, sub.ID).Status)

	var failed models.Payment
	require.NoError(t, db.Where("id = ?", pending.ID).First(&failed).Error)
	require.Equal(t, enums.PaymentStatusFailed, failed.Status)
}

func TestEndToEndOfflineLifecycle(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newTestService(t, db)
	sub := seedSubscription(t, db, enums.SubscriptionStatusPending)

	ref := "CASH-123"
	payment, err := svc.CreateOffline(context.Background(), CreateOfflineInput{
		SubscriptionID:  sub.ID,
		Amount:          decimal.RequireFromString("99.99"),
		PaymentMethod:   enums.PaymentMethodCash,
		ReferenceNumber: &ref,
	})
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusPending, reloadSubscription(t, db, sub.ID).Status)

	confirmed, err := svc.Confirm(context.Background(), payment.ID)
	require.NoError(t, err)

	require.Equal(t, enums.SubscriptionStatusActive, reloadSubscription(t, db, sub.ID).Status)
	require.Equal(t, enums.PaymentStatusCompleted, confirmed.Status)

	var invoice models.Invoice
	require.NoError(t, db.Where("payment_id = ?", payment.ID).First(&invoice).Error)
	require.True(t, invoice.Total.Equal(decimal.RequireFromString("99.99")))
	require.Equal(t, enums.InvoiceStatusPaid, invoice.Status)
}
