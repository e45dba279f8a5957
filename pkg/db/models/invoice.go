package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amohamed/cashier-backend/pkg/enums"
)

// Invoice is the billing document generated from exactly one payment. The
// payment_id uniqueness backs the one-invoice-per-payment rule.
type Invoice struct {
	ID        uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID uuid.UUID           `gorm:"column:payment_id;type:uuid;not null;uniqueIndex:ux_invoices_payment_id"`
	Number    string              `gorm:"column:number;not null;uniqueIndex:ux_invoices_number"`
	Total     decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null"`
	Status    enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'pending'"`
	DueDate   time.Time           `gorm:"column:due_date;not null"`
	PaidAt    *time.Time          `gorm:"column:paid_at"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IsPaid reports whether the invoice has been settled.
func (i *Invoice) IsPaid() bool {
	return i != nil && i.Status == enums.InvoiceStatusPaid
}
