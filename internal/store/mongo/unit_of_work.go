package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"

	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
)

type unitOfWork struct {
	s      *Store
	sess   driver.Session
	closed bool
}

// scope binds ctx to the session when there is one.
func (u *unitOfWork) scope(ctx context.Context) context.Context {
	if u.sess == nil {
		return ctx
	}
	return driver.NewSessionContext(ctx, u.sess)
}

func (u *unitOfWork) fail(err error) error {
	if u.sess == nil {
		return err
	}
	return rejection(err)
}

func (u *unitOfWork) FindProduct(ctx context.Context, identifier string) (*domain.Product, error) {
	p, err := findProduct(u.scope(ctx), u.s.products, identifier)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, u.fail(err)
	}
	return p, err
}

func (u *unitOfWork) SaveProduct(ctx context.Context, product domain.Product) error {
	if product.Quantity < 0 {
		return store.ErrInsufficientStock
	}
	oid, err := primitive.ObjectIDFromHex(product.ID)
	if err != nil {
		return store.ErrNotFound
	}
	set, err := productUpdate(product)
	if err != nil {
		return err
	}

	res, err := u.s.products.UpdateOne(u.scope(ctx), bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return u.fail(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (u *unitOfWork) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	created, err := insertProduct(u.scope(ctx), u.s.products, product)
	if err != nil {
		return nil, u.fail(err)
	}
	return created, nil
}

func (u *unitOfWork) FindRecordByBillID(ctx context.Context, kind domain.RecordKind, billID string) (*domain.Record, error) {
	var doc recordDoc
	err := u.s.records.FindOne(u.scope(ctx), bson.M{
		"kind":    string(kind),
		"bill_id": strings.TrimSpace(billID),
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, u.fail(err)
	}
	r, err := doc.record()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (u *unitOfWork) CreateRecord(ctx context.Context, record domain.Record) (*domain.Record, error) {
	if record.Kind != domain.RecordKindSale && record.Kind != domain.RecordKindPurchase {
		return nil, store.ErrInvalidTransaction
	}
	if record.BillID == "" || len(record.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = domain.RecordStatusCompleted
	}

	doc, err := newRecordDoc(record)
	if err != nil {
		return nil, err
	}
	doc.ID = primitive.NewObjectID()
	if _, err := u.s.records.InsertOne(u.scope(ctx), doc); err != nil {
		if driver.IsDuplicateKeyError(err) {
			return nil, store.ErrDuplicate
		}
		return nil, u.fail(err)
	}
	record.ID = doc.ID.Hex()
	return &record, nil
}

func (u *unitOfWork) UpdateRecordProgress(ctx context.Context, kind domain.RecordKind, id string, applied int, status domain.RecordStatus) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}
	res, err := u.s.records.UpdateOne(u.scope(ctx),
		bson.M{"_id": oid, "kind": string(kind)},
		bson.M{"$set": bson.M{"applied_items": applied, "status": string(status)}},
	)
	if err != nil {
		return u.fail(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (u *unitOfWork) Transactional() bool {
	return u.sess != nil
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.sess == nil || u.closed {
		return nil
	}
	u.closed = true
	defer u.sess.EndSession(ctx)
	return u.fail(u.sess.CommitTransaction(ctx))
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.sess == nil || u.closed {
		return nil
	}
	u.closed = true
	defer u.sess.EndSession(ctx)
	return u.sess.AbortTransaction(ctx)
}
