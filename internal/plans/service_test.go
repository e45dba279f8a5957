package plans

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/amohamed/cashier-backend/pkg/db/models"
	"github.com/amohamed/cashier-backend/pkg/enums"
	pkgerrors "github.com/amohamed/cashier-backend/pkg/errors"
)

type stubRepo struct {
	plans   map[uuid.UUID]*models.Plan
	created []*models.Plan
	updated []*models.Plan
	listFn  func(ctx context.Context, query ListPlansQuery) ([]models.Plan, error)
}

func newStubRepo() *stubRepo {
	return &stubRepo{plans: map[uuid.UUID]*models.Plan{}}
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) Create(ctx context.Context, plan *models.Plan) error {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	s.plans[plan.ID] = plan
	s.created = append(s.created, plan)
	return nil
}

func (s *stubRepo) Update(ctx context.Context, plan *models.Plan) error {
	s.plans[plan.ID] = plan
	s.updated = append(s.updated, plan)
	return nil
}

func (s *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.plans[id], nil
}

func (s *stubRepo) List(ctx context.Context, query ListPlansQuery) ([]models.Plan, error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return nil, nil
}

func (s *stubRepo) CountSubscriptions(ctx context.Context, planID uuid.UUID) (int64, error) {
	return 0, nil
}

func TestCreateRequiresName(t *testing.T) {
	svc, _ := NewService(ServiceParams{Repo: newStubRepo()})
	_, err := svc.Create(context.Background(), CreatePlanInput{
		Name:            "   ",
		Price:           decimal.NewFromInt(10),
		BillingInterval: enums.BillingIntervalMonth,
	})
	if err == nil {
		t.Fatal("expected error for blank name")
	} else if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRejectsNegativePrice(t *testing.T) {
	svc, _ := NewService(ServiceParams{Repo: newStubRepo()})
	_, err := svc.Create(context.Background(), CreatePlanInput{
		Name:            "Pro",
		Price:           decimal.NewFromInt(-1),
		BillingInterval: enums.BillingIntervalMonth,
	})
	if err == nil {
		t.Fatal("expected error for negative price")
	}
}

func TestCreateDefaultsToActive(t *testing.T) {
	repo := newStubRepo()
	svc, _ := NewService(ServiceParams{Repo: repo})
	plan, err := svc.Create(context.Background(), CreatePlanInput{
		Name:            "Pro",
		Price:           decimal.RequireFromString("29.99"),
		BillingInterval: enums.BillingIntervalMonth,
		TrialPeriodDays: 14,
		Features:        models.FeatureMap{"api_access": true, "priority_support": true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Status != enums.PlanStatusActive {
		t.Fatalf("expected active status, got %s", plan.Status)
	}
	if !plan.HasTrial() {
		t.Fatal("expected plan to carry a trial")
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one created plan, got %d", len(repo.created))
	}
}

func TestArchiveIsIdempotent(t *testing.T) {
	repo := newStubRepo()
	plan := &models.Plan{
		ID:     uuid.New(),
		Name:   "Legacy",
		Status: enums.PlanStatusArchived,
	}
	repo.plans[plan.ID] = plan

	svc, _ := NewService(ServiceParams{Repo: repo})
	got, err := svc.Archive(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != enums.PlanStatusArchived {
		t.Fatalf("expected archived, got %s", got.Status)
	}
	if len(repo.updated) != 0 {
		t.Fatal("expected no update for an already archived plan")
	}
}

func TestArchiveMissingPlan(t *testing.T) {
	svc, _ := NewService(ServiceParams{Repo: newStubRepo()})
	_, err := svc.Archive(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected not found error")
	} else if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListActiveOnlyForwardsFilter(t *testing.T) {
	repo := newStubRepo()
	var captured ListPlansQuery
	repo.listFn = func(ctx context.Context, query ListPlansQuery) ([]models.Plan, error) {
		captured = query
		return []models.Plan{{Name: "Pro"}}, nil
	}

	svc, _ := NewService(ServiceParams{Repo: repo})
	plans, err := svc.List(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.Status == nil || *captured.Status != enums.PlanStatusActive {
		t.Fatal("active filter not forwarded")
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
}
