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
	"github.com/amohamed/cashier-backend/internal/plans"
	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
	"github.com/amohamed/cashier-backend/pkg/logger"
)

type planCreateRequest struct {
	Name            string         `json:"name" validate:"required"`
	Description     *string        `json:"description"`
	Price           string         `json:"price" validate:"required"`
	BillingInterval string         `json:"billing_interval" validate:"required"`
	TrialPeriodDays int            `json:"trial_period_days" validate:"min=0"`
	Features        map[string]any `json:"features"`
	StripePriceID   *string        `json:"stripe_price_id"`
}

func (r planCreateRequest) toInput() (plans.CreatePlanInput, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(r.Price))
	if err != nil {
		return plans.CreatePlanInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid price")
	}
	interval, err := enums.ParseBillingInterval(strings.TrimSpace(r.BillingInterval))
	if err != nil {
		return plans.CreatePlanInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing interval")
	}
	return plans.CreatePlanInput{
		Name:            strings.TrimSpace(r.Name),
		Description:     r.Description,
		Price:           price,
		BillingInterval: interval,
		TrialPeriodDays: r.TrialPeriodDays,
		Features:        models.FeatureMap(r.Features),
		StripePriceID:   r.StripePriceID,
	}, nil
}

// PlanCreate publishes a new billing plan.
func PlanCreate(svc *plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		var payload planCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, planResponseFromModel(created))
	}
}

type planUpdateRequest struct {
	Name            *string        `json:"name"`
	Description     *string        `json:"description"`
	Price           *string        `json:"price"`
	TrialPeriodDays *int           `json:"trial_period_days"`
	Features        map[string]any `json:"features"`
	StripePriceID   *string        `json:"stripe_price_id"`
}

// PlanUpdate applies a partial update to an existing plan.
func PlanUpdate(svc *plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "planId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan id"))
			return
		}

		var payload planUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := plans.UpdatePlanInput{
			Name:            payload.Name,
			Description:     payload.Description,
			TrialPeriodDays: payload.TrialPeriodDays,
			Features:        models.FeatureMap(payload.Features),
			StripePriceID:   payload.StripePriceID,
		}
		if payload.Price != nil {
			price, err := decimal.NewFromString(strings.TrimSpace(*payload.Price))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid price"))
				return
			}
			input.Price = &price
		}

		updated, err := svc.Update(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, planResponseFromModel(updated))
	}
}

// PlanArchive retires a plan from sale without touching existing subscribers.
func PlanArchive(svc *plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "planId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan id"))
			return
		}

		archived, err := svc.Archive(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, planResponseFromModel(archived))
	}
}

// PlanList returns active plans; pass include_archived=true for the full set.
func PlanList(svc *plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		includeArchived, err := validators.ParseQueryBool(r, "include_archived", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, err := svc.List(r.Context(), !includeArchived)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]planResponse, 0, len(items))
		for i := range items {
			out = append(out, planResponseFromModel(&items[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// PlanDetail returns a single plan.
func PlanDetail(svc *plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "planId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan id"))
			return
		}

		plan, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, planResponseFromModel(plan))
	}
}

type planResponse struct {
	ID              uuid.UUID             `json:"id"`
	Name            string                `json:"name"`
	Description     *string               `json:"description"`
	Status          enums.PlanStatus      `json:"status"`
	Price           decimal.Decimal       `json:"price"`
	BillingInterval enums.BillingInterval `json:"billing_interval"`
	TrialPeriodDays int                   `json:"trial_period_days"`
	Features        models.FeatureMap     `json:"features"`
	StripePriceID   *string               `json:"stripe_price_id"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func planResponseFromModel(m *models.Plan) planResponse {
	return planResponse{
		ID:              m.ID,
		Name:            m.Name,
		Description:     m.Description,
		Status:          m.Status,
		Price:           m.Price,
		BillingInterval: m.BillingInterval,
		TrialPeriodDays: m.TrialPeriodDays,
		Features:        m.Features,
		StripePriceID:   m.StripePriceID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
