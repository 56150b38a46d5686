package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	driver "go.mongodb.org/mongo-driver/mongo"

	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
)

func TestHelloReplyKind(t *testing.T) {
	assert.Equal(t, store.TopologySharded, helloReply{Msg: "isdbgrid"}.kind())
	assert.Equal(t, store.TopologyReplicaSet, helloReply{SetName: "rs0"}.kind())
	assert.Equal(t, store.TopologyStandalone, helloReply{}.kind())
}

func TestRejectionMapping(t *testing.T) {
	illegal := driver.CommandError{Code: 20, Message: "Transaction numbers are only allowed on a replica set member or mongos"}
	wrapped := fmt.Errorf("insert: %w", illegal)

	assert.ErrorIs(t, rejection(wrapped), store.ErrTransactionsUnsupported)
	assert.ErrorIs(t, rejection(errors.New("(IllegalOperation) Transaction numbers are only allowed")), store.ErrTransactionsUnsupported)

	other := driver.CommandError{Code: 11000, Message: "duplicate key"}
	assert.NotErrorIs(t, rejection(other), store.ErrTransactionsUnsupported)
	assert.NoError(t, rejection(nil))
}

func TestRecordDocKeepsExactMoney(t *testing.T) {
	record := domain.Record{
		Kind:     domain.RecordKindSale,
		BillID:   "INV-1",
		Subtotal: decimal.RequireFromString("12.60"),
		Total:    decimal.RequireFromString("13.986"),
		Items: []domain.LineItem{
			{ProductCode: "A4-70", Quantity: 3, UnitPrice: decimal.RequireFromString("4.20"), Total: decimal.RequireFromString("12.60")},
		},
	}

	doc, err := newRecordDoc(record)
	require.NoError(t, err)
	back, err := doc.record()
	require.NoError(t, err)

	assert.True(t, record.Total.Equal(back.Total))
	assert.True(t, back.Tax.IsZero())
	assert.True(t, record.Items[0].UnitPrice.Equal(back.Items[0].UnitPrice))
}

func TestStoreAgainstServer(t *testing.T) {
	uri := os.Getenv("PAPERPOS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set PAPERPOS_TEST_MONGO_URI to run mongo integration test")
	}

	ctx := context.Background()
	dbName := fmt.Sprintf("paperpos_it_%d", time.Now().UnixNano())
	s, err := New(ctx, Config{URI: uri, Database: dbName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.products.Database().Drop(ctx)
		_ = s.Close(ctx)
	})
	require.NoError(t, s.EnsureIndexes(ctx))

	created, err := s.CreateProduct(ctx, domain.Product{
		Code: "a4-70", Name: "A4 Copy Paper", Price: decimal.RequireFromString("4.20"), Quantity: 10, ReorderPoint: 10,
	})
	require.NoError(t, err)
	_, err = s.CreateProduct(ctx, domain.Product{Code: "A4-70", Name: "Again"})
	require.ErrorIs(t, err, store.ErrDuplicate)

	byID, err := s.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "A4-70", byID.Code)

	topology := s.Topology(ctx)
	uow, err := s.Begin(ctx, topology.Kind == store.TopologyReplicaSet || topology.Kind == store.TopologySharded)
	require.NoError(t, err)
	p, err := uow.FindProduct(ctx, "A4-70")
	require.NoError(t, err)
	p.Quantity = 7
	require.NoError(t, uow.SaveProduct(ctx, *p))
	_, err = uow.CreateRecord(ctx, domain.Record{
		Kind:   domain.RecordKindSale,
		BillID: "INV-IT",
		Items:  []domain.LineItem{{ProductID: p.ID, ProductCode: p.Code, Quantity: 3}},
	})
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))
	require.NoError(t, uow.Rollback(ctx), "rollback after commit is a no-op")

	after, err := s.GetProduct(ctx, "A4-70")
	require.NoError(t, err)
	assert.Equal(t, 7, after.Quantity)

	records, err := s.ListRecords(ctx, domain.RecordKindSale)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordStatusCompleted, records[0].Status)
}

func TestUnitOfWorkWithoutSessionWritesThrough(t *testing.T) {
	ctx := context.Background()
	uow := &unitOfWork{s: &Store{}}

	assert.False(t, uow.Transactional())
	assert.NoError(t, uow.Commit(ctx))
	assert.NoError(t, uow.Rollback(ctx))
	assert.Equal(t, ctx, uow.scope(ctx))

	illegal := driver.CommandError{Code: 20, Message: "Transaction numbers are only allowed on a replica set member or mongos"}
	assert.NotErrorIs(t, uow.fail(illegal), store.ErrTransactionsUnsupported)
}
