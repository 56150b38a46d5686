package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"paperpos/backend/internal/consistency"
	"paperpos/backend/internal/dashboard"
	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/locker"
	"paperpos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Strategy *consistency.Strategy
	Locker   locker.Locker
	// EnforceTotals rejects batches whose subtotal differs from the sum of
	// line totals. Off by default: client totals are stored as given.
	EnforceTotals bool
}

type Service struct {
	repo          store.Repository
	dashboard     *dashboard.Aggregator
	strategy      *consistency.Strategy
	locker        locker.Locker
	validate      *validator.Validate
	enforceTotals bool
}

func New(repo store.Repository, aggregator *dashboard.Aggregator, opts Options) *Service {
	if aggregator == nil {
		aggregator = dashboard.New(repo, nil, 0)
	}
	if opts.Locker == nil {
		opts.Locker = locker.NewLocal()
	}
	if opts.Strategy == nil {
		opts.Strategy = consistency.New(false, repo)
	}

	return &Service{
		repo:          repo,
		dashboard:     aggregator,
		strategy:      opts.Strategy,
		locker:        opts.Locker,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		enforceTotals: opts.EnforceTotals,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, identifier string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, identifier)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}

	req.Code = domain.NormalizeCode(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" || req.Price.IsNegative() {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	reorderPoint := domain.DefaultReorderPoint
	if req.ReorderPoint != nil {
		reorderPoint = *req.ReorderPoint
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Code:         req.Code,
		Name:         req.Name,
		Price:        req.Price,
		Quantity:     req.Quantity,
		ReorderPoint: reorderPoint,
		Size:         strings.TrimSpace(req.Size),
		GSM:          req.GSM,
		Image:        strings.TrimSpace(req.Image),
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.refreshDashboard(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, identifier string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := s.repo.GetProduct(ctx, identifier)
	if err != nil {
		return domain.Product{}, err
	}

	unlock, err := s.locker.Lock(ctx, productLockKey(existing.ID))
	if err != nil {
		return domain.Product{}, err
	}
	defer unlock()

	// Re-read under the lock; a batch may have moved stock meanwhile.
	product, err := s.repo.GetProduct(ctx, existing.ID)
	if err != nil {
		return domain.Product{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		product.Name = name
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		product.Price = *req.Price
	}
	if req.Quantity != nil {
		if *req.Quantity < 0 {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		product.Quantity = *req.Quantity
	}
	if req.ReorderPoint != nil {
		if *req.ReorderPoint < 0 {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		product.ReorderPoint = *req.ReorderPoint
	}
	if req.Size != nil {
		product.Size = strings.TrimSpace(*req.Size)
	}
	if req.GSM != nil {
		if *req.GSM < 0 {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		product.GSM = *req.GSM
	}
	if req.Image != nil {
		product.Image = strings.TrimSpace(*req.Image)
	}

	updated, err := s.repo.UpdateProduct(ctx, *product)
	if err != nil {
		return domain.Product{}, err
	}

	s.refreshDashboard(ctx)
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, identifier string) error {
	product, err := s.repo.GetProduct(ctx, identifier)
	if err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, productLockKey(product.ID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.DeleteProduct(ctx, product.ID); err != nil {
		return err
	}

	s.refreshDashboard(ctx)
	return nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	records, err := s.repo.ListRecords(ctx, domain.RecordKindSale)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(records))
	for _, r := range records {
		if r.Completed() {
			sales = append(sales, domain.SaleFromRecord(r))
		}
	}
	return sales, nil
}

func (s *Service) ListPurchases(ctx context.Context) ([]domain.Purchase, error) {
	records, err := s.repo.ListRecords(ctx, domain.RecordKindPurchase)
	if err != nil {
		return nil, err
	}
	purchases := make([]domain.Purchase, 0, len(records))
	for _, r := range records {
		if r.Completed() {
			purchases = append(purchases, domain.PurchaseFromRecord(r))
		}
	}
	return purchases, nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.DashboardSnapshot, error) {
	return s.dashboard.Snapshot(ctx)
}

func (s *Service) RecalculateDashboard(ctx context.Context) (domain.DashboardSnapshot, error) {
	return s.dashboard.Recompute(ctx)
}

func (s *Service) Report(ctx context.Context, filter domain.ReportFilter) (domain.DashboardReport, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return domain.DashboardReport{}, fmt.Errorf("%w: report window is empty", store.ErrInvalidTransaction)
	}
	return s.dashboard.Report(ctx, filter.From, filter.To)
}

// refreshDashboard recomputes derived state after a write; failures never
// fail the caller. A failed recompute drops the cached snapshot, which no
// longer matches the committed write.
func (s *Service) refreshDashboard(ctx context.Context) *domain.DashboardSnapshot {
	snapshot, err := s.dashboard.Recompute(ctx)
	if err != nil {
		zap.L().Error("dashboard recompute failed", zap.Error(err))
		s.dashboard.Invalidate(context.WithoutCancel(ctx))
		return nil
	}
	return &snapshot
}

func notFound(identifier string) error {
	return fmt.Errorf("%w: product %q", store.ErrNotFound, identifier)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
