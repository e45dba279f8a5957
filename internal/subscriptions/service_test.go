package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/amohamed/cashier-backend/internal/plans"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
	"github.com/amohamed/cashier-backend/pkg/outbox"
)

func setupSubscriptionsTestDB(t *testing.T) *gorm.DB {
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
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(db),
		PlanRepo:          plans.NewRepository(db),
		Outbox:            outbox.NewService(outbox.NewRepository(db), nil),
		TransactionRunner: gormTxRunner{db: db},
	})
	require.NoError(t, err)
	return svc
}

func seedPlan(t *testing.T, db *gorm.DB, trialDays int) *models.Plan {
	t.Helper()
	plan := &models.Plan{
		ID:              uuid.New(),
		Name:            "Pro",
		Status:          enums.PlanStatusActive,
		Price:           decimal.RequireFromString("99.99"),
		BillingInterval: enums.BillingIntervalMonth,
		TrialPeriodDays: trialDays,
	}
	require.NoError(t, db.Create(plan).Error)
	return plan
}

func countOutboxEvents(t *testing.T, db *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestCreateStartsTrialWhenPlanHasTrial(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	plan := seedPlan(t, db, 14)

	sub, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        plan.ID,
		PaymentMethod: enums.PaymentMethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusTrial, sub.Status)
	require.NotNil(t, sub.TrialEndsAt)
	require.True(t, sub.TrialEndsAt.After(time.Now().AddDate(0, 0, 13)))
	require.True(t, sub.OnTrial())
	require.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventSubscriptionCreated))
}

func TestCreateStartsPendingWithoutTrial(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	plan := seedPlan(t, db, 0)

	sub, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        plan.ID,
		PaymentMethod: enums.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusPending, sub.Status)
	require.Nil(t, sub.TrialEndsAt)
}

func TestCreateRejectsUnknownPaymentMethod(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	plan := seedPlan(t, db, 0)

	_, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        plan.ID,
		PaymentMethod: enums.PaymentMethod("barter"),
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestCreateRejectsMissingPlan(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        uuid.New(),
		PaymentMethod: enums.PaymentMethodCash,
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestCancelImmediateStampsEndsAt(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	plan := seedPlan(t, db, 0)

	sub, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        plan.ID,
		PaymentMethod: enums.PaymentMethodCash,
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), sub.ID, true)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.EndsAt)
}

func TestCancelDeferredLeavesEndsAtUnset(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	plan := seedPlan(t, db, 0)

	sub, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        plan.ID,
		PaymentMethod: enums.PaymentMethodCash,
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), sub.ID, false)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusCancelled, cancelled.Status)
	require.Nil(t, cancelled.EndsAt)
}

func TestCancelTwiceIsNoOp(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	plan := seedPlan(t, db, 0)

	sub, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        plan.ID,
		PaymentMethod: enums.PaymentMethodCash,
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), sub.ID, true)
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), sub.ID, true)
	require.NoError(t, err)
	require.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventSubscriptionCanceled))
}

func TestResumeOnlyFromCancelledOrPaused(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	plan := seedPlan(t, db, 0)

	sub, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        plan.ID,
		PaymentMethod: enums.PaymentMethodCash,
	})
	require.NoError(t, err)

	// pending is not resumable
	_, err = svc.Resume(context.Background(), sub.ID)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	_, err = svc.Cancel(context.Background(), sub.ID, true)
	require.NoError(t, err)

	resumed, err := svc.Resume(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusActive, resumed.Status)
	require.Nil(t, resumed.EndsAt)
}

func TestPauseThenResume(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	plan := seedPlan(t, db, 0)

	sub, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        plan.ID,
		PaymentMethod: enums.PaymentMethodCash,
	})
	require.NoError(t, err)

	paused, err := svc.Pause(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusPaused, paused.Status)

	resumed, err := svc.Resume(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusActive, resumed.Status)
}

func TestExpireStampsEndsAt(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	plan := seedPlan(t, db, 7)

	sub, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        plan.ID,
		PaymentMethod: enums.PaymentMethodCash,
	})
	require.NoError(t, err)

	expired, err := svc.Expire(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusExpired, expired.Status)
	require.NotNil(t, expired.EndsAt)
	require.True(t, expired.HasExpired())
	require.EqualValues(t, 1, countOutboxEvents(t, db, enums.EventSubscriptionExpired))
}

func TestChangePlanKeepsStatus(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	planA := seedPlan(t, db, 14)
	planB := seedPlan(t, db, 0)

	sub, err := svc.Create(context.Background(), CreateSubscriptionInput{
		UserID:        uuid.New(),
		PlanID:        planA.ID,
		PaymentMethod: enums.PaymentMethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusTrial, sub.Status)

	changed, err := svc.ChangePlan(context.Background(), sub.ID, planB.ID)
	require.NoError(t, err)
	require.Equal(t, planB.ID, changed.PlanID)
	require.Equal(t, enums.SubscriptionStatusTrial, changed.Status)
	require.NotNil(t, changed.TrialEndsAt)
}

func TestListForUserPaginates(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	svc := newTestService(t, db)
	plan := seedPlan(t, db, 0)
	userID := uuid.New()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		sub := &models.Subscription{
			ID:            uuid.New(),
			UserID:        userID,
			PlanID:        plan.ID,
			Status:        enums.SubscriptionStatusActive,
			PaymentMethod: enums.PaymentMethodCash,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(sub).Error)
	}

	page, err := svc.ListForUser(context.Background(), ListForUserParams{
		UserID: userID,
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.Cursor)

	rest, err := svc.ListForUser(context.Background(), ListForUserParams{
		UserID: userID,
		Limit:  2,
		Cursor: page.Cursor,
	})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	require.Empty(t, rest.Cursor)
}
