package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
	"paperpos/backend/internal/xid"
)

type unitOfWork struct {
	q  querier
	tx *sql.Tx
}

func (u *unitOfWork) FindProduct(ctx context.Context, identifier string) (*domain.Product, error) {
	return findProduct(ctx, u.q, identifier, u.tx != nil)
}

func (u *unitOfWork) SaveProduct(ctx context.Context, product domain.Product) error {
	if product.Quantity < 0 {
		return store.ErrInsufficientStock
	}
	res, err := u.q.ExecContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, quantity = $4, reorder_point = $5, size = $6, gsm = $7, image = $8, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Price, product.Quantity, product.ReorderPoint, product.Size, product.GSM, product.Image)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (u *unitOfWork) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	return insertProduct(ctx, u.q, product)
}

func (u *unitOfWork) FindRecordByBillID(ctx context.Context, kind domain.RecordKind, billID string) (*domain.Record, error) {
	r, err := scanRecord(u.q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE kind = $1 AND bill_id = $2
	`, string(kind), strings.TrimSpace(billID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
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
	if record.ID == "" {
		record.ID = xid.New(string(record.Kind))
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = domain.RecordStatusCompleted
	}

	items, err := json.Marshal(record.Items)
	if err != nil {
		return nil, err
	}
	_, err = u.q.ExecContext(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, record.ID, string(record.Kind), record.BillID, record.Counterparty, record.Subtotal, record.Tax, record.Total,
		string(items), string(record.Status), record.AppliedItems, record.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &record, nil
}

func (u *unitOfWork) UpdateRecordProgress(ctx context.Context, kind domain.RecordKind, id string, applied int, status domain.RecordStatus) error {
	res, err := u.q.ExecContext(ctx, `
		UPDATE records SET applied_items = $3, status = $4
		WHERE kind = $1 AND id = $2
	`, string(kind), id, applied, string(status))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (u *unitOfWork) Transactional() bool {
	return u.tx != nil
}

func (u *unitOfWork) Commit(_ context.Context) error {
	if u.tx == nil {
		return nil
	}
	return u.tx.Commit()
}

func (u *unitOfWork) Rollback(_ context.Context) error {
	if u.tx == nil {
		return nil
	}
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
