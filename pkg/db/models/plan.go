package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amohamed/cashier-backend/pkg/enums"
)

// Plan captures a priced billing template: interval, trial length and
// entitlements. Plans referenced by subscriptions are never deleted; they are
// archived instead.
type Plan struct {
	ID              uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name            string                `gorm:"column:name;not null"`
	Description     *string               `gorm:"column:description"`
	Status          enums.PlanStatus      `gorm:"column:status;type:plan_status;not null;default:'active'"`
	Price           decimal.Decimal       `gorm:"column:price;type:numeric(12,2);not null"`
	BillingInterval enums.BillingInterval `gorm:"column:billing_interval;type:billing_interval;not null"`
	TrialPeriodDays int                   `gorm:"column:trial_period_days;not null;default:0"`
	Features        FeatureMap            `gorm:"column:features;type:jsonb;not null;default:'{}'"`
	StripePriceID   *string               `gorm:"column:stripe_price_id"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// HasTrial reports whether new subscriptions to this plan start in a trial.
func (p *Plan) HasTrial() bool {
	return p != nil && p.TrialPeriodDays > 0
}
