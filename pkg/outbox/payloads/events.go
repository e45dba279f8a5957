package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amohamed/cashier-backend/pkg/enums"
)

// SubscriptionCreatedEvent signals a newly created subscription.
type SubscriptionCreatedEvent struct {
	SubscriptionID uuid.UUID                `json:"subscription_id"`
	UserID         uuid.UUID                `json:"user_id"`
	PlanID         uuid.UUID                `json:"plan_id"`
	Status         enums.SubscriptionStatus `json:"status"`
	PaymentMethod  enums.PaymentMethod      `json:"payment_method"`
	TrialEndsAt    *time.Time               `json:"trial_ends_at,omitempty"`
}

// SubscriptionCanceledEvent is emitted when a subscription is cancelled.
type SubscriptionCanceledEvent struct {
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	UserID         uuid.UUID  `json:"user_id"`
	PlanID         uuid.UUID  `json:"plan_id"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	Immediate      bool       `json:"immediate"`
}

// SubscriptionResumedEvent is emitted when a cancelled or paused subscription
// returns to active.
type SubscriptionResumedEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	PlanID         uuid.UUID `json:"plan_id"`
}

// SubscriptionExpiredEvent is emitted when a subscription reaches end of life.
type SubscriptionExpiredEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	PlanID         uuid.UUID `json:"plan_id"`
	ExpiredAt      time.Time `json:"expired_at"`
}

// PaymentReceivedEvent is emitted once a payment reaches completed.
type PaymentReceivedEvent struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	SubscriptionID uuid.UUID           `json:"subscription_id"`
	UserID         uuid.UUID           `json:"user_id"`
	Amount         decimal.Decimal     `json:"amount"`
	PaymentMethod  enums.PaymentMethod `json:"payment_method"`
	PaidAt         time.Time           `json:"paid_at"`
}

// PaymentFailedEvent is emitted when a gateway reports a failed charge.
type PaymentFailedEvent struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	SubscriptionID  uuid.UUID `json:"subscription_id"`
	UserID          uuid.UUID `json:"user_id"`
	StripePaymentID string    `json:"stripe_payment_id,omitempty"`
	FailedAt        time.Time `json:"failed_at"`
}

// InvoiceIssuedEvent is emitted when an invoice is generated for a payment.
type InvoiceIssuedEvent struct {
	InvoiceID uuid.UUID       `json:"invoice_id"`
	PaymentID uuid.UUID       `json:"payment_id"`
	Number    string          `json:"number"`
	Total     decimal.Decimal `json:"total"`
	DueDate   time.Time       `json:"due_date"`
}
