package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amohamed/cashier-backend/api/middleware"
	"github.com/amohamed/cashier-backend/api/responses"
	"github.com/amohamed/cashier-backend/api/validators"
	"github.com/amohamed/cashier-backend/internal/subscriptions"
	stripewebhook "github.com/amohamed/cashier-backend/internal/webhooks/stripe"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
	"github.com/amohamed/cashier-backend/pkg/logger"
	"github.com/amohamed/cashier-backend/pkg/pagination"
)

func authedUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	uid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return uid, nil
}

func subscriptionIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "subscriptionId"))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subscription id")
	}
	return id, nil
}

type subscriptionCreateRequest struct {
	PlanID        string `json:"plan_id" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"required"`
}

// SubscriptionCreate starts a subscription for the authenticated user.
func SubscriptionCreate(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		uid, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload subscriptionCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		planID, err := uuid.Parse(strings.TrimSpace(payload.PlanID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan_id"))
			return
		}
		method, err := enums.ParsePaymentMethod(strings.TrimSpace(payload.PaymentMethod))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method"))
			return
		}

		created, err := svc.Create(r.Context(), subscriptions.CreateSubscriptionInput{
			UserID:        uid,
			PlanID:        planID,
			PaymentMethod: method,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, subscriptionResponseFromModel(created))
	}
}

// SubscriptionList returns the authenticated user's subscriptions.
func SubscriptionList(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		uid, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := subscriptions.ListForUserParams{
			UserID: uid,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseSubscriptionStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription status"))
				return
			}
			params.Status = &status
		}

		page, err := svc.ListForUser(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]subscriptionResponse, 0, len(page.Items))
		for i := range page.Items {
			items = append(items, subscriptionResponseFromModel(&page.Items[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": page.Cursor,
		})
	}
}

// SubscriptionDetail returns one of the user's subscriptions.
func SubscriptionDetail(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		uid, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Get(r.Context(), uid, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(sub))
	}
}

type subscriptionCancelRequest struct {
	Immediate bool `json:"immediate"`
}

// SubscriptionCancel cancels the subscription, immediately or at period end.
func SubscriptionCancel(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		uid, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := svc.Get(r.Context(), uid, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload subscriptionCancelRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		cancelled, err := svc.Cancel(r.Context(), id, payload.Immediate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(cancelled))
	}
}

// SubscriptionResume reactivates a cancelled or paused subscription.
func SubscriptionResume(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return subscriptionTransition(svc, logg, func(r *http.Request, id uuid.UUID) (*models.Subscription, error) {
		return svc.Resume(r.Context(), id)
	})
}

// SubscriptionPause suspends the subscription until it is resumed.
func SubscriptionPause(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return subscriptionTransition(svc, logg, func(r *http.Request, id uuid.UUID) (*models.Subscription, error) {
		return svc.Pause(r.Context(), id)
	})
}

func subscriptionTransition(svc *subscriptions.Service, logg *logger.Logger, op func(*http.Request, uuid.UUID) (*models.Subscription, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		uid, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := svc.Get(r.Context(), uid, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := op(r, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(sub))
	}
}

type subscriptionChangePlanRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// SubscriptionChangePlan moves the subscription onto a different active plan.
func SubscriptionChangePlan(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		uid, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := svc.Get(r.Context(), uid, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload subscriptionChangePlanRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		planID, err := uuid.Parse(strings.TrimSpace(payload.PlanID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan_id"))
			return
		}

		sub, err := svc.ChangePlan(r.Context(), id, planID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(sub))
	}
}

// SubscriptionPaymentIntent opens a card charge for the subscription's plan.
func SubscriptionPaymentIntent(svc *stripewebhook.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment intent service unavailable"))
			return
		}

		uid, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreatePaymentIntent(r.Context(), uid, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"intent_id":     result.IntentID,
			"client_secret": result.ClientSecret,
			"amount_cents":  result.AmountCents,
			"currency":      result.Currency,
		})
	}
}

type subscriptionResponse struct {
	ID            uuid.UUID                `json:"id"`
	UserID        uuid.UUID                `json:"user_id"`
	PlanID        uuid.UUID                `json:"plan_id"`
	Status        enums.SubscriptionStatus `json:"status"`
	PaymentMethod enums.PaymentMethod      `json:"payment_method"`
	TrialEndsAt   *time.Time               `json:"trial_ends_at"`
	EndsAt        *time.Time               `json:"ends_at"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

func subscriptionResponseFromModel(m *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:            m.ID,
		UserID:        m.UserID,
		PlanID:        m.PlanID,
		Status:        m.Status,
		PaymentMethod: m.PaymentMethod,
		TrialEndsAt:   m.TrialEndsAt,
		EndsAt:        m.EndsAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
