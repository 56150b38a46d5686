package memory

import (
	"context"
	"strings"
	"time"

	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
	"paperpos/backend/internal/xid"
)

type unitOfWork struct {
	s             *Store
	transactional bool
	undo          []func()
	closed        bool
}

func (u *unitOfWork) FindProduct(ctx context.Context, identifier string) (*domain.Product, error) {
	return u.s.GetProduct(ctx, identifier)
}

func (u *unitOfWork) SaveProduct(_ context.Context, product domain.Product) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	prev, ok := u.s.products[product.ID]
	if !ok {
		return store.ErrNotFound
	}
	product.Code = prev.Code
	product.CreatedAt = prev.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	if err := validateProduct(product); err != nil {
		return err
	}
	u.s.products[product.ID] = product
	u.remember(func() { u.s.products[prev.ID] = prev })
	return nil
}

func (u *unitOfWork) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	created, err := u.s.insertProductLocked(product)
	if err != nil {
		return nil, err
	}
	u.remember(func() {
		delete(u.s.products, created.ID)
		delete(u.s.idByCode, created.Code)
	})
	return &created, nil
}

func (u *unitOfWork) FindRecordByBillID(_ context.Context, kind domain.RecordKind, billID string) (*domain.Record, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	id, ok := u.s.idByBill[kind][strings.TrimSpace(billID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	record := cloneRecord(u.s.records[kind][id])
	return &record, nil
}

func (u *unitOfWork) CreateRecord(_ context.Context, record domain.Record) (*domain.Record, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	byID, ok := u.s.records[record.Kind]
	if !ok || record.BillID == "" || len(record.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := u.s.idByBill[record.Kind][record.BillID]; exists {
		return nil, store.ErrDuplicate
	}
	if record.ID == "" {
		record.ID = xid.New(string(record.Kind))
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = domain.RecordStatusCompleted
	}
	stored := cloneRecord(record)
	byID[stored.ID] = stored
	u.s.idByBill[record.Kind][stored.BillID] = stored.ID
	u.remember(func() {
		delete(u.s.records[stored.Kind], stored.ID)
		delete(u.s.idByBill[stored.Kind], stored.BillID)
	})

	created := cloneRecord(stored)
	return &created, nil
}

func (u *unitOfWork) UpdateRecordProgress(_ context.Context, kind domain.RecordKind, id string, applied int, status domain.RecordStatus) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	prev, ok := u.s.records[kind][id]
	if !ok {
		return store.ErrNotFound
	}
	next := cloneRecord(prev)
	next.AppliedItems = applied
	next.Status = status
	u.s.records[kind][id] = next
	u.remember(func() { u.s.records[kind][id] = prev })
	return nil
}

func (u *unitOfWork) Transactional() bool {
	return u.transactional
}

func (u *unitOfWork) Commit(_ context.Context) error {
	u.closed = true
	u.undo = nil
	return nil
}

func (u *unitOfWork) Rollback(_ context.Context) error {
	if u.closed || !u.transactional {
		return nil
	}
	u.closed = true

	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
	return nil
}

// remember must be called with u.s.mu held.
func (u *unitOfWork) remember(fn func()) {
	if !u.transactional {
		return
	}
	u.undo = append(u.undo, fn)
}
