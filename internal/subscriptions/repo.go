package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	"github.com/amohamed/cashier-backend/pkg/pagination"
)

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, subscription *models.Subscription) error
	Update(ctx context.Context, subscription *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error)
	ListByUser(ctx context.Context, query ListSubscriptionsQuery) ([]models.Subscription, *pagination.Cursor, error)
	ListDueForExpiry(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)
}

// ListSubscriptionsQuery configures per-user subscription listings.
type ListSubscriptionsQuery struct {
	UserID uuid.UUID
	Status *enums.SubscriptionStatus
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) Update(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByStripeID(ctx context.Context, stripeID string) (*models.Subscription, error) {
	if stripeID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_id = ?", stripeID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListByUser(ctx context.Context, query ListSubscriptionsQuery) ([]models.Subscription, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(query.Limit)
	q := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ?", query.UserID)
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if query.Cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", query.Cursor.CreatedAt, query.Cursor.ID)
	}

	var subs []models.Subscription
	if err := q.Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&subs).Error; err != nil {
		return nil, nil, err
	}

	if len(subs) > limit {
		next := subs[limit]
		subs = subs[:limit]
		return subs, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}
	return subs, nil, nil
}

// ListDueForExpiry returns subscriptions whose trial window or end date has
// passed but whose status has not caught up yet.
func (r *repository) ListDueForExpiry(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where(
			"(status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at < ?) OR (status IN (?) AND ends_at IS NOT NULL AND ends_at < ?)",
			enums.SubscriptionStatusTrial, asOf,
			[]enums.SubscriptionStatus{
				enums.SubscriptionStatusActive,
				enums.SubscriptionStatusCancelled,
				enums.SubscriptionStatusPastDue,
			}, asOf,
		).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}
