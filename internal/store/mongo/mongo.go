package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
)

const (
	snapshotID  = "dashboard"
	topologyTTL = time.Minute
	// IllegalOperation; a standalone server answers a transactional
	// command with it.
	codeIllegalOperation = 20
)

type Config struct {
	URI        string
	Database   string
	ReplicaSet string
}

type Store struct {
	client   *driver.Client
	products *driver.Collection
	records  *driver.Collection
	meta     *driver.Collection

	uri        string
	replicaSet string

	mu       sync.Mutex
	probed   store.Topology
	probedAt time.Time
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := driver.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	db := client.Database(cfg.Database)
	return &Store{
		client:     client,
		products:   db.Collection("products"),
		records:    db.Collection("records"),
		meta:       db.Collection("meta"),
		uri:        cfg.URI,
		replicaSet: strings.TrimSpace(cfg.ReplicaSet),
	}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes makes product codes and per-kind bill ids unique.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.products.Indexes().CreateOne(ctx, driver.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("products index: %w", err)
	}
	if _, err := s.records.Indexes().CreateOne(ctx, driver.IndexModel{
		Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "bill_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("records index: %w", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	cur, err := s.products.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "code", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.product()
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, identifier string) (*domain.Product, error) {
	return findProduct(ctx, s.products, identifier)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	return insertProduct(ctx, s.products, product)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(product.ID)
	if err != nil {
		return nil, store.ErrNotFound
	}
	set, err := productUpdate(product)
	if err != nil {
		return nil, err
	}

	var doc productDoc
	err = s.products.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	updated, err := doc.product()
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}
	res, err := s.products.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, kind domain.RecordKind) ([]domain.Record, error) {
	cur, err := s.records.Find(ctx,
		bson.M{"kind": string(kind)},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []recordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(docs))
	for _, doc := range docs {
		r, err := doc.record()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Store) GetSnapshot(ctx context.Context) (*domain.DashboardSnapshot, error) {
	var doc snapshotDoc
	if err := s.meta.FindOne(ctx, bson.M{"_id": snapshotID}).Decode(&doc); err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	snapshot := domain.DashboardSnapshot{Orders: doc.Orders, LowStock: doc.LowStock, OutOfStock: doc.OutOfStock}
	var err error
	if snapshot.TotalSales, err = fromDecimal128(doc.TotalSales); err != nil {
		return nil, err
	}
	if snapshot.InventoryValue, err = fromDecimal128(doc.InventoryValue); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot domain.DashboardSnapshot) error {
	totalSales, err := toDecimal128(snapshot.TotalSales)
	if err != nil {
		return err
	}
	inventoryValue, err := toDecimal128(snapshot.InventoryValue)
	if err != nil {
		return err
	}

	_, err = s.meta.UpdateOne(ctx,
		bson.M{"_id": snapshotID},
		bson.M{"$set": bson.M{
			"total_sales":     totalSales,
			"inventory_value": inventoryValue,
			"orders":          snapshot.Orders,
			"low_stock":       snapshot.LowStock,
			"out_of_stock":    snapshot.OutOfStock,
			"updated_at":      time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

// Begin opens a unit of work. Transactional units run inside a session;
// a deployment that cannot run transactions surfaces
// store.ErrTransactionsUnsupported from the first failing call.
func (s *Store) Begin(ctx context.Context, transactional bool) (store.UnitOfWork, error) {
	if !transactional {
		return &unitOfWork{s: s}, nil
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return nil, err
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, rejection(err)
	}
	return &unitOfWork{s: s, sess: sess}, nil
}

// Topology probes the server with hello. Results are reused for a minute.
// A failed probe reports an unknown kind so callers fall back to the
// configured replica set name and the connection string.
func (s *Store) Topology(ctx context.Context) store.Topology {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.probed.Kind != store.TopologyUnknown && time.Since(s.probedAt) < topologyTTL {
		return s.probed
	}

	t := store.Topology{ReplicaSetName: s.replicaSet, URI: s.uri}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var reply helloReply
	if err := s.client.Database("admin").RunCommand(probeCtx, bson.D{{Key: "hello", Value: 1}}).Decode(&reply); err != nil {
		zap.L().Warn("mongo topology probe failed", zap.Error(err))
		return t
	}

	t.Kind = reply.kind()
	if t.ReplicaSetName == "" {
		t.ReplicaSetName = reply.SetName
	}
	s.probed = t
	s.probedAt = time.Now()
	return t
}

type helloReply struct {
	SetName string `bson:"setName"`
	Msg     string `bson:"msg"`
}

func (r helloReply) kind() store.TopologyKind {
	switch {
	case r.Msg == "isdbgrid":
		return store.TopologySharded
	case r.SetName != "":
		return store.TopologyReplicaSet
	default:
		return store.TopologyStandalone
	}
}

func findProduct(ctx context.Context, coll *driver.Collection, identifier string) (*domain.Product, error) {
	or := bson.A{bson.M{"code": domain.NormalizeCode(identifier)}}
	if oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(identifier)); err == nil {
		or = append(or, bson.M{"_id": oid})
	}

	var doc productDoc
	if err := coll.FindOne(ctx, bson.M{"$or": or}).Decode(&doc); err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p, err := doc.product()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func insertProduct(ctx context.Context, coll *driver.Collection, product domain.Product) (*domain.Product, error) {
	product.Code = domain.NormalizeCode(product.Code)
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	doc, err := newProductDoc(product)
	if err != nil {
		return nil, err
	}
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if driver.IsDuplicateKeyError(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	product.ID = doc.ID.Hex()
	return &product, nil
}

func productUpdate(product domain.Product) (bson.M, error) {
	price, err := toDecimal128(product.Price)
	if err != nil {
		return nil, err
	}
	return bson.M{
		"name":          product.Name,
		"price":         price,
		"quantity":      product.Quantity,
		"reorder_point": product.ReorderPoint,
		"size":          product.Size,
		"gsm":           product.GSM,
		"image":         product.Image,
		"updated_at":    time.Now().UTC(),
	}, nil
}

func validateProduct(p domain.Product) error {
	if p.Code == "" || strings.TrimSpace(p.Name) == "" {
		return store.ErrInvalidTransaction
	}
	if p.Price.IsNegative() || p.Quantity < 0 || p.ReorderPoint < 0 {
		return store.ErrInvalidTransaction
	}
	return nil
}

func isTransactionRejection(err error) bool {
	if err == nil {
		return false
	}
	var serverErr driver.ServerError
	if errors.As(err, &serverErr) && serverErr.HasErrorCode(codeIllegalOperation) {
		return true
	}
	return strings.Contains(err.Error(), "Transaction numbers")
}

// rejection tags transaction refusals with store.ErrTransactionsUnsupported.
func rejection(err error) error {
	if isTransactionRejection(err) {
		return fmt.Errorf("%w: %v", store.ErrTransactionsUnsupported, err)
	}
	return err
}
