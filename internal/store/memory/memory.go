package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
	"paperpos/backend/internal/xid"
)

// Store keeps everything in process. Transactional units of work are
// all-or-nothing through an undo log but are not isolated from concurrent
// readers; callers serialize writers with per-product locks.
type Store struct {
	mu          sync.RWMutex
	products    map[string]domain.Product
	idByCode    map[string]string
	records     map[domain.RecordKind]map[string]domain.Record
	idByBill    map[domain.RecordKind]map[string]string
	snapshot    *domain.DashboardSnapshot
	topology    store.Topology
	rejectTxErr error
}

type Option func(*Store)

// WithTopology overrides the reported deployment shape.
func WithTopology(topology store.Topology) Option {
	return func(s *Store) {
		s.topology = topology
	}
}

// WithTransactionRejection makes every transactional Begin fail with err,
// mimicking a backend that refuses transactions at runtime.
func WithTransactionRejection(err error) Option {
	return func(s *Store) {
		s.rejectTxErr = err
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		products: make(map[string]domain.Product),
		idByCode: make(map[string]string),
		records: map[domain.RecordKind]map[string]domain.Record{
			domain.RecordKindSale:     {},
			domain.RecordKindPurchase: {},
		},
		idByBill: map[domain.RecordKind]map[string]string{
			domain.RecordKindSale:     {},
			domain.RecordKindPurchase: {},
		},
		topology: store.Topology{Kind: store.TopologyInMemory},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func NewSeeded(opts ...Option) *Store {
	s := New(opts...)
	now := time.Now().UTC()
	seed := []domain.Product{
		{Code: "A4-70", Name: "A4 Copy Paper 70gsm", Price: decimal.RequireFromString("4.20"), Quantity: 120, Size: "A4", GSM: 70},
		{Code: "A4-80", Name: "A4 Copy Paper 80gsm", Price: decimal.RequireFromString("5.10"), Quantity: 90, Size: "A4", GSM: 80},
		{Code: "A3-80", Name: "A3 Copy Paper 80gsm", Price: decimal.RequireFromString("9.75"), Quantity: 40, Size: "A3", GSM: 80},
		{Code: "F4-70", Name: "F4 Folio 70gsm", Price: decimal.RequireFromString("4.60"), Quantity: 8, Size: "F4", GSM: 70},
		{Code: "ART-150", Name: "Art Carton 150gsm", Price: decimal.RequireFromString("12.00"), Quantity: 25, Size: "A3+", GSM: 150},
		{Code: "IVORY-230", Name: "Ivory Board 230gsm", Price: decimal.RequireFromString("18.50"), Quantity: 0, Size: "A3+", GSM: 230},
	}
	for _, p := range seed {
		p.ID = xid.New("prd")
		p.ReorderPoint = domain.DefaultReorderPoint
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.idByCode[p.Code] = p.ID
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Code, b.Code)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, identifier string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.lookupLocked(identifier)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.insertProductLocked(product)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.Code = existing.Code
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.lookupLocked(id)
	if !ok {
		return store.ErrNotFound
	}
	delete(s.products, product.ID)
	delete(s.idByCode, product.Code)
	return nil
}

func (s *Store) ListRecords(_ context.Context, kind domain.RecordKind) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID, ok := s.records[kind]
	if !ok {
		return nil, store.ErrInvalidTransaction
	}
	records := make([]domain.Record, 0, len(byID))
	for _, r := range byID {
		records = append(records, cloneRecord(r))
	}
	slices.SortFunc(records, func(a, b domain.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return records, nil
}

func (s *Store) GetSnapshot(_ context.Context) (*domain.DashboardSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return nil, store.ErrNotFound
	}
	snap := *s.snapshot
	return &snap, nil
}

func (s *Store) SaveSnapshot(_ context.Context, snapshot domain.DashboardSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = &snapshot
	return nil
}

func (s *Store) Begin(_ context.Context, transactional bool) (store.UnitOfWork, error) {
	if transactional && s.rejectTxErr != nil {
		return nil, s.rejectTxErr
	}
	return &unitOfWork{s: s, transactional: transactional}, nil
}

func (s *Store) Topology(_ context.Context) store.Topology {
	return s.topology
}

func (s *Store) lookupLocked(identifier string) (domain.Product, bool) {
	if id, ok := s.idByCode[domain.NormalizeCode(identifier)]; ok {
		p, exists := s.products[id]
		return p, exists
	}
	p, ok := s.products[strings.TrimSpace(identifier)]
	return p, ok
}

func (s *Store) insertProductLocked(product domain.Product) (domain.Product, error) {
	product.Code = domain.NormalizeCode(product.Code)
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}
	if _, exists := s.idByCode[product.Code]; exists {
		return domain.Product{}, store.ErrDuplicate
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.products[product.ID] = product
	s.idByCode[product.Code] = product.ID
	return product, nil
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

func cloneRecord(src domain.Record) domain.Record {
	dup := src
	dup.Items = make([]domain.LineItem, len(src.Items))
	copy(dup.Items, src.Items)
	return dup
}
