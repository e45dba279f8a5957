package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/logger"
)

const defaultExpiryLimit = 250

// SubscriptionExpiryJobParams configures the subscription expiry sweep.
type SubscriptionExpiryJobParams struct {
	Logger  *logger.Logger
	Lister  expirySubscriptionLister
	Expirer subscriptionExpirer
	Limit   int
	Now     func() time.Time
}

type expirySubscriptionLister interface {
	ListDueForExpiry(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)
}

type subscriptionExpirer interface {
	Expire(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
}

// NewSubscriptionExpiryJob builds the job that expires subscriptions whose
// trial window or end date has elapsed.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lister == nil {
		return nil, fmt.Errorf("subscription lister required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("subscription expirer required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultExpiryLimit
	}
	return &subscriptionExpiryJob{
		logg:    params.Logger,
		lister:  params.Lister,
		expirer: params.Expirer,
		now:     now,
		limit:   limit,
	}, nil
}

type subscriptionExpiryJob struct {
	logg    *logger.Logger
	lister  expirySubscriptionLister
	expirer subscriptionExpirer
	now     func() time.Time
	limit   int
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	due, err := j.lister.ListDueForExpiry(ctx, asOf, j.limit)
	if err != nil {
		return fmt.Errorf("list subscriptions due for expiry: %w", err)
	}

	var errs error
	expired := 0
	for i := range due {
		subCtx := j.logg.WithField(ctx, "subscription_id", due[i].ID.String())
		if _, err := j.expirer.Expire(subCtx, due[i].ID); err != nil {
			j.logg.Error(subCtx, "failed to expire subscription", err)
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", due[i].ID, err))
			continue
		}
		expired++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(due),
		"expired":    expired,
	})
	j.logg.Info(reportCtx, "subscription expiry sweep complete")
	return errs
}
