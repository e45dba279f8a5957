package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amohamed/cashier-backend/api/responses"
	"github.com/amohamed/cashier-backend/api/validators"
	"github.com/amohamed/cashier-backend/internal/payments"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
	"github.com/amohamed/cashier-backend/pkg/logger"
	"github.com/amohamed/cashier-backend/pkg/pagination"
)

type paymentCreateRequest struct {
	SubscriptionID  string  `json:"subscription_id" validate:"required"`
	Amount          string  `json:"amount" validate:"required"`
	PaymentMethod   string  `json:"payment_method" validate:"required"`
	ReferenceNumber *string `json:"reference_number"`
	Notes           *string `json:"notes"`
}

// PaymentCreateOffline records a manual payment awaiting confirmation.
func PaymentCreateOffline(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload paymentCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		subscriptionID, err := uuid.Parse(strings.TrimSpace(payload.SubscriptionID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subscription_id"))
			return
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(payload.Amount))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
			return
		}
		method, err := enums.ParsePaymentMethod(strings.TrimSpace(payload.PaymentMethod))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method"))
			return
		}
		if method.IsManual() && (payload.ReferenceNumber == nil || strings.TrimSpace(*payload.ReferenceNumber) == "") {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reference_number is required for manual payment methods"))
			return
		}

		created, err := svc.CreateOffline(r.Context(), payments.CreateOfflineInput{
			SubscriptionID:  subscriptionID,
			Amount:          amount,
			PaymentMethod:   method,
			ReferenceNumber: payload.ReferenceNumber,
			Notes:           payload.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, paymentResponseFromModel(created))
	}
}

// PaymentConfirm settles a pending offline payment.
func PaymentConfirm(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "paymentId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}

		confirmed, err := svc.Confirm(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, paymentResponseFromModel(confirmed))
	}
}

// PaymentDetail returns a payment by id.
func PaymentDetail(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "paymentId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}

		payment, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, paymentResponseFromModel(payment))
	}
}

// PaymentList returns payments filtered by subscription and status.
func PaymentList(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := payments.ListParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("subscription_id")); raw != "" {
			subscriptionID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subscription_id"))
				return
			}
			params.SubscriptionID = &subscriptionID
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParsePaymentStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status"))
				return
			}
			params.Status = &status
		}

		page, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]paymentResponse, 0, len(page.Items))
		for i := range page.Items {
			items = append(items, paymentResponseFromModel(&page.Items[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": page.Cursor,
		})
	}
}

type paymentResponse struct {
	ID              uuid.UUID           `json:"id"`
	SubscriptionID  uuid.UUID           `json:"subscription_id"`
	Amount          decimal.Decimal     `json:"amount"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	Status          enums.PaymentStatus `json:"status"`
	ReferenceNumber *string             `json:"reference_number"`
	StripePaymentID *string             `json:"stripe_payment_id"`
	PaidAt          *time.Time          `json:"paid_at"`
	Notes           *string             `json:"notes"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func paymentResponseFromModel(m *models.Payment) paymentResponse {
	return paymentResponse{
		ID:              m.ID,
		SubscriptionID:  m.SubscriptionID,
		Amount:          m.Amount,
		PaymentMethod:   m.PaymentMethod,
		Status:          m.Status,
		ReferenceNumber: m.ReferenceNumber,
		StripePaymentID: m.StripePaymentID,
		PaidAt:          m.PaidAt,
		Notes:           m.Notes,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
