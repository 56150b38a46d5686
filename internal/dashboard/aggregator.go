package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paperpos/backend/internal/cache"
	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
)

type Aggregator struct {
	source   Source
	cache    cache.SnapshotCache
	cacheTTL time.Duration

	mu   sync.Mutex
	last *domain.DashboardSnapshot
}

func New(source Source, snapshotCache cache.SnapshotCache, cacheTTL time.Duration) *Aggregator {
	if snapshotCache == nil {
		snapshotCache = cache.NoopSnapshotCache{}
	}
	return &Aggregator{source: source, cache: snapshotCache, cacheTTL: cacheTTL}
}

// Recompute rebuilds the snapshot from products and completed records and
// overwrites the stored singleton.
func (a *Aggregator) Recompute(ctx context.Context) (domain.DashboardSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	products, sales, purchases, err := a.load(ctx)
	if err != nil {
		return domain.DashboardSnapshot{}, err
	}
	snapshot := Compute(products, sales, purchases)
	if err := a.storeLocked(ctx, snapshot); err != nil {
		return domain.DashboardSnapshot{}, err
	}
	return snapshot, nil
}

// Snapshot returns the shared snapshot: cache, then the stored singleton,
// computing it on first use. The last value this instance saw is served only
// when both reads fail.
func (a *Aggregator) Snapshot(ctx context.Context) (domain.DashboardSnapshot, error) {
	snapshot, _, err := a.current(ctx)
	return snapshot, err
}

// ApplySale bumps the sales counters without a full rebuild. Callers apply it
// after the sale record is committed, so a snapshot computed here from
// scratch already counts the sale and is not bumped again.
func (a *Aggregator) ApplySale(ctx context.Context, total decimal.Decimal) (domain.DashboardSnapshot, error) {
	current, recomputed, err := a.current(ctx)
	if err != nil {
		return domain.DashboardSnapshot{}, err
	}
	if recomputed {
		return current, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	current.TotalSales = current.TotalSales.Add(total)
	current.Orders++
	if err := a.storeLocked(ctx, current); err != nil {
		return domain.DashboardSnapshot{}, err
	}
	return current, nil
}

// Invalidate drops the cached snapshot so readers fall through to the store.
func (a *Aggregator) Invalidate(ctx context.Context) {
	if err := a.cache.Invalidate(ctx); err != nil {
		zap.L().Warn("dashboard cache invalidate failed", zap.Error(err))
	}
}

// current reports whether the snapshot had to be recomputed.
func (a *Aggregator) current(ctx context.Context) (domain.DashboardSnapshot, bool, error) {
	if cached, ok, err := a.cache.Get(ctx); err != nil {
		zap.L().Warn("dashboard cache read failed", zap.Error(err))
	} else if ok {
		a.remember(*cached)
		return *cached, false, nil
	}

	stored, err := a.source.GetSnapshot(ctx)
	switch {
	case err == nil:
		a.remember(*stored)
		return *stored, false, nil
	case errors.Is(err, store.ErrNotFound):
		snapshot, err := a.Recompute(ctx)
		return snapshot, err == nil, err
	}

	if last, ok := a.lastKnown(); ok {
		zap.L().Warn("dashboard snapshot unavailable, serving last known value", zap.Error(err))
		return last, false, nil
	}
	return domain.DashboardSnapshot{}, false, fmt.Errorf("load dashboard snapshot: %w", err)
}

// Report computes a read-only summary. Records are filtered to the
// [from, to) window when bounds are given; inventory figures always reflect
// current stock.
func (a *Aggregator) Report(ctx context.Context, from, to *time.Time) (domain.DashboardReport, error) {
	products, sales, purchases, err := a.load(ctx)
	if err != nil {
		return domain.DashboardReport{}, err
	}
	sales = window(sales, from, to)
	purchases = window(purchases, from, to)

	report := domain.DashboardReport{
		Snapshot:       Compute(products, sales, purchases),
		TotalPurchases: decimal.Zero,
		From:           from,
		To:             to,
	}
	for _, p := range completed(purchases) {
		report.TotalPurchases = report.TotalPurchases.Add(p.Total)
		report.PurchaseCount++
	}
	report.SaleCount = len(completed(sales))
	return report, nil
}

// Compute is the pure aggregation behind Recompute.
func Compute(products []domain.Product, sales, purchases []domain.Record) domain.DashboardSnapshot {
	snapshot := domain.DashboardSnapshot{
		TotalSales:     decimal.Zero,
		InventoryValue: decimal.Zero,
	}
	for _, p := range products {
		snapshot.InventoryValue = snapshot.InventoryValue.Add(p.Price.Mul(decimal.NewFromInt(int64(p.Quantity))))
		switch {
		case p.Quantity <= 0:
			snapshot.OutOfStock++
		case p.Quantity <= p.ReorderPoint:
			snapshot.LowStock++
		}
	}

	doneSales := completed(sales)
	for _, s := range doneSales {
		snapshot.TotalSales = snapshot.TotalSales.Add(s.Total)
	}
	snapshot.Orders = max(len(doneSales), len(completed(purchases)))
	return snapshot
}

func (a *Aggregator) load(ctx context.Context) ([]domain.Product, []domain.Record, []domain.Record, error) {
	products, err := a.source.ListProducts(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list products: %w", err)
	}
	sales, err := a.source.ListRecords(ctx, domain.RecordKindSale)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list sales: %w", err)
	}
	purchases, err := a.source.ListRecords(ctx, domain.RecordKindPurchase)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list purchases: %w", err)
	}
	return products, sales, purchases, nil
}

// storeLocked must be called with a.mu held.
func (a *Aggregator) storeLocked(ctx context.Context, snapshot domain.DashboardSnapshot) error {
	if err := a.source.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("save dashboard snapshot: %w", err)
	}
	a.last = &snapshot
	if err := a.cache.Set(ctx, snapshot, a.cacheTTL); err != nil {
		zap.L().Warn("dashboard cache write failed", zap.Error(err))
	}
	return nil
}

func (a *Aggregator) remember(snapshot domain.DashboardSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = &snapshot
}

func (a *Aggregator) lastKnown() (domain.DashboardSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return domain.DashboardSnapshot{}, false
	}
	return *a.last, true
}

func completed(records []domain.Record) []domain.Record {
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if r.Completed() {
			out = append(out, r)
		}
	}
	return out
}

func window(records []domain.Record, from, to *time.Time) []domain.Record {
	if from == nil && to == nil {
		return records
	}
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if from != nil && r.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && !r.CreatedAt.Before(*to) {
			continue
		}
		out = append(out, r)
	}
	return out
}
