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
	"github.com/amohamed/cashier-backend/internal/invoices"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
	"github.com/amohamed/cashier-backend/pkg/logger"
	"github.com/amohamed/cashier-backend/pkg/pagination"
)

// InvoiceList returns the invoices issued for the user's payments.
func InvoiceList(svc *invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
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

		page, err := svc.ListForUser(r.Context(), invoices.ListForUserParams{
			UserID: uid,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]invoiceResponse, 0, len(page.Items))
		for i := range page.Items {
			items = append(items, invoiceResponseFromModel(&page.Items[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": page.Cursor,
		})
	}
}

// InvoiceDetail returns an invoice by id.
func InvoiceDetail(svc *invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "invoiceId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invoice id"))
			return
		}

		invoice, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, invoiceResponseFromModel(invoice))
	}
}

// InvoiceMarkPaid settles an outstanding invoice.
func InvoiceMarkPaid(svc *invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return invoiceTransition(svc, logg, func(r *http.Request, id uuid.UUID) (*models.Invoice, error) {
		return svc.MarkPaid(r.Context(), id)
	})
}

// InvoiceVoid cancels an invoice that will never be collected.
func InvoiceVoid(svc *invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return invoiceTransition(svc, logg, func(r *http.Request, id uuid.UUID) (*models.Invoice, error) {
		return svc.Void(r.Context(), id)
	})
}

func invoiceTransition(svc *invoices.Service, logg *logger.Logger, op func(*http.Request, uuid.UUID) (*models.Invoice, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "invoiceId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invoice id"))
			return
		}

		invoice, err := op(r, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, invoiceResponseFromModel(invoice))
	}
}

type invoiceResponse struct {
	ID        uuid.UUID           `json:"id"`
	PaymentID uuid.UUID           `json:"payment_id"`
	Number    string              `json:"number"`
	Total     decimal.Decimal     `json:"total"`
	Status    enums.InvoiceStatus `json:"status"`
	DueDate   time.Time           `json:"due_date"`
	PaidAt    *time.Time          `json:"paid_at"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func invoiceResponseFromModel(m *models.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:        m.ID,
		PaymentID: m.PaymentID,
		Number:    m.Number,
		Total:     m.Total,
		Status:    m.Status,
		DueDate:   m.DueDate,
		PaidAt:    m.PaidAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
