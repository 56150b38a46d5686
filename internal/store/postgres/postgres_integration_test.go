package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("PAPERPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PAPERPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestRollbackRestoresStockAndRecord(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	code := fmt.Sprintf("IT-ROLLBACK-%d", stamp)
	billID := fmt.Sprintf("INV-IT-%d", stamp)

	product, err := s.CreateProduct(ctx, domain.Product{
		Code: code, Name: "Integration Paper", Price: decimal.RequireFromString("4.20"), Quantity: 10, ReorderPoint: 2,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM records WHERE bill_id = $1`, billID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	uow, err := s.Begin(ctx, true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	locked, err := uow.FindProduct(ctx, code)
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	locked.Quantity -= 4
	if err := uow.SaveProduct(ctx, *locked); err != nil {
		t.Fatalf("save product: %v", err)
	}
	if _, err := uow.CreateRecord(ctx, domain.Record{
		Kind:   domain.RecordKindSale,
		BillID: billID,
		Items:  []domain.LineItem{{ProductID: product.ID, ProductCode: code, Quantity: 4}},
	}); err != nil {
		t.Fatalf("create record: %v", err)
	}
	if err := uow.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	after, err := s.GetProduct(ctx, code)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Quantity != 10 {
		t.Fatalf("expected quantity 10 after rollback, got %d", after.Quantity)
	}

	check, err := s.Begin(ctx, false)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := check.FindRecordByBillID(ctx, domain.RecordKindSale, billID); err != store.ErrNotFound {
		t.Fatalf("expected record to be rolled back, got %v", err)
	}
}

func TestDuplicateBillIsRejected(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	billID := fmt.Sprintf("PO-IT-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM records WHERE bill_id = $1`, billID)
	})

	uow, err := s.Begin(ctx, false)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	record := domain.Record{
		Kind:   domain.RecordKindPurchase,
		BillID: billID,
		Items:  []domain.LineItem{{ProductCode: "A4-70", Quantity: 1, UnitPrice: decimal.RequireFromString("4.2")}},
	}
	created, err := uow.CreateRecord(ctx, record)
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := uow.CreateRecord(ctx, record); err != store.ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	found, err := uow.FindRecordByBillID(ctx, domain.RecordKindPurchase, billID)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if found.ID != created.ID || !found.Items[0].UnitPrice.Equal(decimal.RequireFromString("4.2")) {
		t.Fatalf("unexpected record %+v", found)
	}
}
