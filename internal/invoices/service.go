package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amohamed/cashier-backend/pkg/config"
	dbpkg "github.com/amohamed/cashier-backend/pkg/db"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
	"github.com/amohamed/cashier-backend/pkg/pagination"
)

// numberAttempts bounds the retry loop when a freshly drawn invoice number
// collides with an existing one.
const numberAttempts = 5

// ServiceParams groups dependencies for the invoice service.
type ServiceParams struct {
	Repo    Repository
	Billing config.BillingConfig
}

// Service issues and settles invoices.
type Service struct {
	repo    Repository
	billing config.BillingConfig
	number  func(prefix string, day time.Time) (string, error)
}

// NewService builds an invoice service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Billing.InvoiceNumPrefix == "" {
		return nil, errors.New("invoice number prefix is required")
	}
	return &Service{repo: params.Repo, billing: params.Billing, number: invoiceNumber}, nil
}

// GenerateForPayment issues the single invoice owed to a completed payment.
// It runs inside the caller's transaction so invoice and payment commit
// together. Repeat calls return the existing invoice.
func (s *Service) GenerateForPayment(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Invoice, error) {
	if payment == nil || payment.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	repo := s.repo.WithTx(tx)

	existing, err := repo.FindByPaymentID(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading invoice for payment")
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()

	// Only a settled payment yields a paid invoice; pending offline payments
	// get a pending invoice that MarkPaid settles later.
	status := enums.InvoiceStatusPending
	var paidAt *time.Time
	if payment.Status == enums.PaymentStatusCompleted {
		status = enums.InvoiceStatusPaid
		paidAt = payment.PaidAt
		if paidAt == nil {
			paidAt = &now
		}
	}

	var lastErr error
	for attempt := 0; attempt < numberAttempts; attempt++ {
		number, err := s.number(s.billing.InvoiceNumPrefix, now)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating invoice number")
		}
		invoice := &models.Invoice{
			PaymentID: payment.ID,
			Number:    number,
			Total:     payment.Amount,
			Status:    status,
			DueDate:   now.Add(s.billing.InvoiceDueIn),
			PaidAt:    paidAt,
		}
		err = repo.Create(ctx, invoice)
		if err == nil {
			return invoice, nil
		}
		if dbpkg.IsUniqueViolation(err, "ux_invoices_payment_id") ||
			dbpkg.IsUniqueViolation(err, "invoices.payment_id") {
			// Lost the race with a concurrent confirm of the same payment.
			return repo.FindByPaymentID(ctx, payment.ID)
		}
		if dbpkg.IsUniqueViolation(err, "") {
			lastErr = err
			continue
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating invoice")
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, lastErr, "could not allocate a unique invoice number")
}

// MarkPaid settles a pending invoice.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.IsPaid() {
		return invoice, nil
	}
	if invoice.Status == enums.InvoiceStatusVoid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "void invoices cannot be paid")
	}

	now := time.Now()
	invoice.Status = enums.InvoiceStatusPaid
	invoice.PaidAt = &now
	if err := s.repo.Update(ctx, invoice); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking invoice paid")
	}
	return invoice, nil
}

// Void retires an unpaid invoice.
func (s *Service) Void(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status == enums.InvoiceStatusVoid {
		return invoice, nil
	}
	if invoice.IsPaid() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "paid invoices cannot be voided")
	}

	invoice.Status = enums.InvoiceStatusVoid
	if err := s.repo.Update(ctx, invoice); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "voiding invoice")
	}
	return invoice, nil
}

// Get returns an invoice by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.mustFind(ctx, id)
}

// ListForUserParams configures ListForUser.
type ListForUserParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor string
}

// ListForUserResult is a page of invoices plus the next cursor.
type ListForUserResult struct {
	Items  []models.Invoice
	Cursor string
}

// ListForUser returns the invoices generated for a user's payments.
func (s *Service) ListForUser(ctx context.Context, params ListForUserParams) (*ListForUserResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	items, next, err := s.repo.ListForUser(ctx, ListInvoicesQuery{
		UserID: params.UserID,
		Limit:  params.Limit,
		Cursor: cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing invoices")
	}

	result := &ListForUserResult{Items: items}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *Service) mustFind(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}
