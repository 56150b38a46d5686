package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
	"paperpos/backend/internal/store/memory"
)

func TestComputeInventoryAndStockCounts(t *testing.T) {
	products := []domain.Product{
		{Code: "A4-70", Price: decimal.RequireFromString("4.20"), Quantity: 120, ReorderPoint: 10},
		{Code: "F4-70", Price: decimal.RequireFromString("4.60"), Quantity: 8, ReorderPoint: 10},
		{Code: "ART-150", Price: decimal.RequireFromString("12.00"), Quantity: 10, ReorderPoint: 10},
		{Code: "IVORY-230", Price: decimal.RequireFromString("18.50"), Quantity: 0, ReorderPoint: 10},
	}
	sales := []domain.Record{
		{Total: decimal.RequireFromString("10.50"), Status: domain.RecordStatusCompleted},
		{Total: decimal.RequireFromString("4.00")},
		{Total: decimal.RequireFromString("99.00"), Status: domain.RecordStatusPending},
	}
	purchases := []domain.Record{
		{Total: decimal.RequireFromString("1"), Status: domain.RecordStatusCompleted},
		{Total: decimal.RequireFromString("1"), Status: domain.RecordStatusCompleted},
		{Total: decimal.RequireFromString("1"), Status: domain.RecordStatusCompleted},
	}

	got := Compute(products, sales, purchases)

	// 504 + 36.8 + 120 + 0
	assert.True(t, decimal.RequireFromString("660.80").Equal(got.InventoryValue), got.InventoryValue.String())
	assert.True(t, decimal.RequireFromString("14.50").Equal(got.TotalSales), got.TotalSales.String())
	assert.Equal(t, 3, got.Orders)
	assert.Equal(t, 2, got.LowStock)
	assert.Equal(t, 1, got.OutOfStock)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	agg := New(memory.NewSeeded(), nil, 0)

	_, err := agg.Recompute(ctx)
	require.NoError(t, err)
	s1, err := agg.Snapshot(ctx)
	require.NoError(t, err)

	_, err = agg.Recompute(ctx)
	require.NoError(t, err)
	s2, err := agg.Snapshot(ctx)
	require.NoError(t, err)

	assert.True(t, s1.Equal(s2))
}

func TestSnapshotLazilyRecomputes(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	agg := New(repo, nil, 0)

	_, err := repo.GetSnapshot(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	snapshot, err := agg.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.OutOfStock)
	assert.Equal(t, 1, snapshot.LowStock)

	stored, err := repo.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, stored.Equal(snapshot))
}

func TestApplySaleBumpsCounters(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	require.NoError(t, repo.SaveSnapshot(ctx, domain.DashboardSnapshot{}))
	agg := New(repo, nil, 0)

	_, err := agg.ApplySale(ctx, decimal.RequireFromString("12.5"))
	require.NoError(t, err)
	snapshot, err := agg.ApplySale(ctx, decimal.RequireFromString("7.5"))
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(20).Equal(snapshot.TotalSales))
	assert.Equal(t, 2, snapshot.Orders)
}

func TestStockThresholdScenario(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	product, err := repo.CreateProduct(ctx, domain.Product{
		Code: "SKU-1", Name: "Sample", Price: decimal.NewFromInt(10), Quantity: 5, ReorderPoint: 2,
	})
	require.NoError(t, err)
	agg := New(repo, nil, 0)

	product.Quantity = 2
	_, err = repo.UpdateProduct(ctx, *product)
	require.NoError(t, err)
	snapshot, err := agg.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.LowStock)
	assert.Equal(t, 0, snapshot.OutOfStock)

	product.Quantity = 0
	_, err = repo.UpdateProduct(ctx, *product)
	require.NoError(t, err)
	snapshot, err = agg.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.LowStock)
	assert.Equal(t, 1, snapshot.OutOfStock)
}

func TestReportFiltersByWindow(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	uow, err := repo.Begin(ctx, false)
	require.NoError(t, err)
	item := []domain.LineItem{{ProductCode: "A4-70", Quantity: 1}}
	for i, rec := range []domain.Record{
		{Kind: domain.RecordKindSale, BillID: "S-1", Total: decimal.NewFromInt(10), Items: item, CreatedAt: day.Add(-time.Hour)},
		{Kind: domain.RecordKindSale, BillID: "S-2", Total: decimal.NewFromInt(20), Items: item, CreatedAt: day.Add(time.Hour)},
		{Kind: domain.RecordKindPurchase, BillID: "P-1", Total: decimal.NewFromInt(7), Items: item, CreatedAt: day.Add(2 * time.Hour)},
	} {
		_, err := uow.CreateRecord(ctx, rec)
		require.NoError(t, err, "record %d", i)
	}
	require.NoError(t, uow.Commit(ctx))

	to := day.Add(24 * time.Hour)
	report, err := New(repo, nil, 0).Report(ctx, &day, &to)
	require.NoError(t, err)

	assert.Equal(t, 1, report.SaleCount)
	assert.Equal(t, 1, report.PurchaseCount)
	assert.True(t, decimal.NewFromInt(20).Equal(report.Snapshot.TotalSales))
	assert.True(t, decimal.NewFromInt(7).Equal(report.TotalPurchases))
}

func TestRecomputeSurfacesSourceErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSource(ctrl)
	boom := errors.New("connection reset")

	source.EXPECT().ListProducts(gomock.Any()).Return([]domain.Product{
		{Code: "A4-70", Price: decimal.NewFromInt(2), Quantity: 3, ReorderPoint: 10},
	}, nil)
	source.EXPECT().ListRecords(gomock.Any(), domain.RecordKindSale).Return(nil, boom)

	_, err := New(source, nil, 0).Recompute(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestSnapshotRereadsStoredValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSource(ctrl)
	first := domain.DashboardSnapshot{TotalSales: decimal.NewFromInt(42), Orders: 4}
	second := domain.DashboardSnapshot{TotalSales: decimal.NewFromInt(50), Orders: 5}

	gomock.InOrder(
		source.EXPECT().GetSnapshot(gomock.Any()).Return(&first, nil),
		source.EXPECT().GetSnapshot(gomock.Any()).Return(&second, nil),
	)

	agg := New(source, nil, 0)
	got, err := agg.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Equal(got))

	got, err = agg.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Equal(got))
}

func TestSnapshotFallsBackToLastKnownValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSource(ctrl)
	stored := domain.DashboardSnapshot{TotalSales: decimal.NewFromInt(42), Orders: 4}
	boom := errors.New("connection reset")

	gomock.InOrder(
		source.EXPECT().GetSnapshot(gomock.Any()).Return(&stored, nil),
		source.EXPECT().GetSnapshot(gomock.Any()).Return(nil, boom),
	)

	agg := New(source, nil, 0)
	_, err := agg.Snapshot(context.Background())
	require.NoError(t, err)

	got, err := agg.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, stored.Equal(got))
}

func TestSnapshotSurfacesErrorWithoutLastKnownValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSource(ctrl)
	boom := errors.New("connection reset")

	source.EXPECT().GetSnapshot(gomock.Any()).Return(nil, boom)

	_, err := New(source, nil, 0).Snapshot(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestInstancesSharingRepositorySeeEachOthersWrites(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	writer := New(repo, nil, 0)
	reader := New(repo, nil, 0)

	before, err := reader.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, before.Orders)

	commitSale(t, repo, "INV-SHARED", decimal.NewFromInt(10))
	_, err = writer.Recompute(ctx)
	require.NoError(t, err)

	after, err := reader.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Orders)
	assert.True(t, decimal.NewFromInt(10).Equal(after.TotalSales), after.TotalSales.String())
}

func TestInstancesSharingCacheSeeEachOthersWrites(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	shared := &recordingCache{}
	writer := New(repo, shared, time.Minute)
	reader := New(repo, shared, time.Minute)

	_, err := reader.Snapshot(ctx)
	require.NoError(t, err)

	commitSale(t, repo, "INV-CACHED", decimal.NewFromInt(4))
	_, err = writer.Recompute(ctx)
	require.NoError(t, err)

	after, err := reader.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Orders)
}

func TestApplySaleDoesNotDoubleCountFirstSale(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	agg := New(repo, nil, 0)

	commitSale(t, repo, "INV-FIRST", decimal.NewFromInt(10))
	snapshot, err := agg.ApplySale(ctx, decimal.NewFromInt(10))
	require.NoError(t, err)

	assert.Equal(t, 1, snapshot.Orders)
	assert.True(t, decimal.NewFromInt(10).Equal(snapshot.TotalSales), snapshot.TotalSales.String())

	stored, err := repo.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, stored.Equal(snapshot))
}

func TestInvalidateDropsCachedSnapshot(t *testing.T) {
	ctx := context.Background()
	shared := &recordingCache{}
	agg := New(memory.NewSeeded(), shared, time.Minute)

	_, err := agg.Recompute(ctx)
	require.NoError(t, err)
	require.NotNil(t, shared.value)

	agg.Invalidate(ctx)
	assert.Nil(t, shared.value)
	assert.Equal(t, 1, shared.invalidations)
}

func commitSale(t *testing.T, repo *memory.Store, billID string, total decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	uow, err := repo.Begin(ctx, false)
	require.NoError(t, err)
	_, err = uow.CreateRecord(ctx, domain.Record{
		Kind:   domain.RecordKindSale,
		BillID: billID,
		Total:  total,
		Items:  []domain.LineItem{{ProductCode: "A4-70", Quantity: 1}},
		Status: domain.RecordStatusCompleted,
	})
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))
}

type recordingCache struct {
	mu            sync.Mutex
	value         *domain.DashboardSnapshot
	invalidations int
}

func (c *recordingCache) Get(_ context.Context) (*domain.DashboardSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return nil, false, nil
	}
	v := *c.value
	return &v, true, nil
}

func (c *recordingCache) Set(_ context.Context, value domain.DashboardSnapshot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = &value
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	c.invalidations++
	return nil
}
