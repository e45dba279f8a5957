package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/amohamed/cashier-backend/internal/invoices"
	"github.com/amohamed/cashier-backend/internal/payments"
	"github.com/amohamed/cashier-backend/internal/subscriptions"
	"github.com/amohamed/cashier-backend/pkg/config"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	"github.com/amohamed/cashier-backend/pkg/outbox"
)

func setupControllerTestDB(t *testing.T) *gorm.DB {
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

type controllerTxRunner struct {
	db *gorm.DB
}

func (r controllerTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
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

func newPaymentsTestService(t *testing.T, db *gorm.DB) *payments.Service {
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

	svc, err := payments.NewService(payments.ServiceParams{
		Repo:              payments.NewRepository(db),
		SubscriptionRepo:  subscriptions.NewRepository(db),
		Invoices:          invoiceSvc,
		Outbox:            outbox.NewService(outbox.NewRepository(db), nil),
		TransactionRunner: controllerTxRunner{db: db},
	})
	require.NoError(t, err)
	return svc
}

func seedPendingSubscription(t *testing.T, db *gorm.DB) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		PlanID:        uuid.New(),
		Status:        enums.SubscriptionStatusPending,
		PaymentMethod: enums.PaymentMethodCash,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func postOfflinePayment(t *testing.T, handler http.HandlerFunc, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/payments", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPaymentCreateOfflineRequiresReferenceForManualMethods(t *testing.T) {
	db := setupControllerTestDB(t)
	handler := PaymentCreateOffline(newPaymentsTestService(t, db), nil)
	sub := seedPendingSubscription(t, db)

	for _, method := range []string{"cash", "check", "bank_transfer"} {
		t.Run(method, func(t *testing.T) {
			rec := postOfflinePayment(t, handler, map[string]any{
				"subscription_id": sub.ID.String(),
				"amount":          "25.00",
				"payment_method":  method,
			})
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var envelope struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
			require.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
		})
	}

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestPaymentCreateOfflineRejectsBlankReference(t *testing.T) {
	db := setupControllerTestDB(t)
	handler := PaymentCreateOffline(newPaymentsTestService(t, db), nil)
	sub := seedPendingSubscription(t, db)

	rec := postOfflinePayment(t, handler, map[string]any{
		"subscription_id":  sub.ID.String(),
		"amount":           "25.00",
		"payment_method":   "cash",
		"reference_number": "   ",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentCreateOfflineAcceptsReferencedManualPayment(t *testing.T) {
	db := setupControllerTestDB(t)
	handler := PaymentCreateOffline(newPaymentsTestService(t, db), nil)
	sub := seedPendingSubscription(t, db)

	rec := postOfflinePayment(t, handler, map[string]any{
		"subscription_id":  sub.ID.String(),
		"amount":           "25.00",
		"payment_method":   "cash",
		"reference_number": fmt.Sprintf("CASH-%d", time.Now().Unix()),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}
