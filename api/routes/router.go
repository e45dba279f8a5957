package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amohamed/cashier-backend/api/controllers"
	webhookcontrollers "github.com/amohamed/cashier-backend/api/controllers/webhooks"
	"github.com/amohamed/cashier-backend/api/middleware"
	"github.com/amohamed/cashier-backend/internal/invoices"
	"github.com/amohamed/cashier-backend/internal/payments"
	"github.com/amohamed/cashier-backend/internal/plans"
	"github.com/amohamed/cashier-backend/internal/subscriptions"
	stripewebhook "github.com/amohamed/cashier-backend/internal/webhooks/stripe"
	"github.com/amohamed/cashier-backend/pkg/config"
	"github.com/amohamed/cashier-backend/pkg/db"
	"github.com/amohamed/cashier-backend/pkg/enums"
	"github.com/amohamed/cashier-backend/pkg/logger"
	"github.com/amohamed/cashier-backend/pkg/redis"
	"github.com/amohamed/cashier-backend/pkg/stripe"
)

// RouterParams carries every dependency the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         *redis.Client
	Plans         *plans.Service
	Subscriptions *subscriptions.Service
	Payments      *payments.Service
	Invoices      *invoices.Service
	Webhook       *stripewebhook.Service
	WebhookGuard  *stripewebhook.IdempotencyGuard
	Stripe        *stripe.Client
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(params.Webhook, params.Stripe, params.WebhookGuard, logg))
	})

	r.Route("/api/v1/plans", func(r chi.Router) {
		r.Get("/", controllers.PlanList(params.Plans, logg))
		r.Get("/{planId}", controllers.PlanDetail(params.Plans, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(params.Redis, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", controllers.SubscriptionCreate(params.Subscriptions, logg))
			r.Get("/", controllers.SubscriptionList(params.Subscriptions, logg))
			r.Get("/{subscriptionId}", controllers.SubscriptionDetail(params.Subscriptions, logg))
			r.Post("/{subscriptionId}/cancel", controllers.SubscriptionCancel(params.Subscriptions, logg))
			r.Post("/{subscriptionId}/resume", controllers.SubscriptionResume(params.Subscriptions, logg))
			r.Post("/{subscriptionId}/pause", controllers.SubscriptionPause(params.Subscriptions, logg))
			r.Post("/{subscriptionId}/change-plan", controllers.SubscriptionChangePlan(params.Subscriptions, logg))
			r.Post("/{subscriptionId}/payment-intent", controllers.SubscriptionPaymentIntent(params.Webhook, logg))
		})

		r.Get("/invoices", controllers.InvoiceList(params.Invoices, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(string(enums.MemberRoleAdmin), logg))
		r.Use(middleware.Idempotency(params.Redis, logg))

		r.Route("/plans", func(r chi.Router) {
			r.Post("/", controllers.PlanCreate(params.Plans, logg))
			r.Patch("/{planId}", controllers.PlanUpdate(params.Plans, logg))
			r.Post("/{planId}/archive", controllers.PlanArchive(params.Plans, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", controllers.PaymentCreateOffline(params.Payments, logg))
			r.Get("/", controllers.PaymentList(params.Payments, logg))
			r.Get("/{paymentId}", controllers.PaymentDetail(params.Payments, logg))
			r.Post("/{paymentId}/confirm", controllers.PaymentConfirm(params.Payments, logg))
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/{invoiceId}", controllers.InvoiceDetail(params.Invoices, logg))
			r.Post("/{invoiceId}/mark-paid", controllers.InvoiceMarkPaid(params.Invoices, logg))
			r.Post("/{invoiceId}/void", controllers.InvoiceVoid(params.Invoices, logg))
		})
	})

	return r
}
