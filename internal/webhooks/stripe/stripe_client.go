package stripewebhook

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	pkgstripe "github.com/amohamed/cashier-backend/pkg/stripe"
)

// PaymentIntentClient exposes the subset of Stripe operations the billing
// webhook flow needs.
type PaymentIntentClient interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type paymentIntentWrapper struct{}

// NewPaymentIntentClient wraps the configured Stripe client so services can be
// tested against a fake.
func NewPaymentIntentClient(api *pkgstripe.Client) PaymentIntentClient {
	if api == nil {
		return nil
	}
	return &paymentIntentWrapper{}
}

func (w *paymentIntentWrapper) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params != nil {
		params.Context = ctx
	}
	return paymentintent.New(params)
}
