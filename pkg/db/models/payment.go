package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amohamed/cashier-backend/pkg/enums"
)

// Payment records one charge attempt against a subscription, whether settled
// offline by an operator or confirmed by the card gateway.
type Payment struct {
	ID              uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID  uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	PaymentMethod   enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	Status          enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	ReferenceNumber *string             `gorm:"column:reference_number"`
	StripePaymentID *string             `gorm:"column:stripe_payment_id;uniqueIndex:ux_payments_stripe_payment_id,where:stripe_payment_id IS NOT NULL"`
	PaidAt          *time.Time          `gorm:"column:paid_at"`
	Notes           *string             `gorm:"column:notes"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
