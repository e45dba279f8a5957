package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/amohamed/cashier-backend/pkg/enums"
)

// Subscription binds a user to a plan with a lifecycle status. Rows are never
// hard-deleted; cancellation and expiry are status changes.
type Subscription struct {
	ID            uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID        uuid.UUID                `gorm:"column:plan_id;type:uuid;not null;index"`
	Status        enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending'"`
	PaymentMethod enums.PaymentMethod      `gorm:"column:payment_method;type:payment_method;not null"`
	TrialEndsAt   *time.Time               `gorm:"column:trial_ends_at"`
	EndsAt        *time.Time               `gorm:"column:ends_at"`
	StripeID      *string                  `gorm:"column:stripe_id;uniqueIndex:ux_subscriptions_stripe_id,where:stripe_id IS NOT NULL"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// OnTrial reports whether the subscription is trialing with time remaining.
func (s *Subscription) OnTrial() bool {
	if s == nil || s.Status != enums.SubscriptionStatusTrial {
		return false
	}
	return s.TrialEndsAt != nil && s.TrialEndsAt.After(time.Now())
}

// HasExpired reports whether the trial window or the subscription itself has
// run out.
func (s *Subscription) HasExpired() bool {
	if s == nil {
		return false
	}
	now := time.Now()
	if s.Status == enums.SubscriptionStatusTrial && s.TrialEndsAt != nil && s.TrialEndsAt.Before(now) {
		return true
	}
	return s.EndsAt != nil && s.EndsAt.Before(now)
}
