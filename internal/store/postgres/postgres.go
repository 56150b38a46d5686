package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
	"paperpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id            TEXT PRIMARY KEY,
	code          TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	price         NUMERIC(18,4) NOT NULL DEFAULT 0,
	quantity      INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	reorder_point INTEGER NOT NULL DEFAULT 10,
	size          TEXT NOT NULL DEFAULT '',
	gsm           INTEGER NOT NULL DEFAULT 0,
	image         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	bill_id       TEXT NOT NULL,
	counterparty  TEXT NOT NULL DEFAULT '',
	subtotal      NUMERIC(18,4) NOT NULL DEFAULT 0,
	tax           NUMERIC(18,4) NOT NULL DEFAULT 0,
	total         NUMERIC(18,4) NOT NULL DEFAULT 0,
	items         JSONB NOT NULL,
	status        TEXT NOT NULL,
	applied_items INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (kind, bill_id)
);

CREATE TABLE IF NOT EXISTS dashboard_snapshot (
	id              SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	total_sales     NUMERIC(18,4) NOT NULL,
	inventory_value NUMERIC(18,4) NOT NULL,
	orders          INTEGER NOT NULL,
	low_stock       INTEGER NOT NULL,
	out_of_stock    INTEGER NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the tables on first start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const productColumns = `id, code, name, price, quantity, reorder_point, size, gsm, image, created_at, updated_at`

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, identifier string) (*domain.Product, error) {
	return findProduct(ctx, s.db, identifier, false)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	return insertProduct(ctx, s.db, product)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, quantity = $4, reorder_point = $5, size = $6, gsm = $7, image = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Price, product.Quantity, product.ReorderPoint, product.Size, product.GSM, product.Image)
	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
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

func (s *Store) ListRecords(ctx context.Context, kind domain.RecordKind) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE kind = $1
		ORDER BY created_at, id
	`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.Record, 0, 64)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) GetSnapshot(ctx context.Context) (*domain.DashboardSnapshot, error) {
	var snapshot domain.DashboardSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT total_sales, inventory_value, orders, low_stock, out_of_stock
		FROM dashboard_snapshot
		WHERE id = 1
	`).Scan(&snapshot.TotalSales, &snapshot.InventoryValue, &snapshot.Orders, &snapshot.LowStock, &snapshot.OutOfStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &snapshot, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot domain.DashboardSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dashboard_snapshot (id, total_sales, inventory_value, orders, low_stock, out_of_stock, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, now())
		ON CONFLICT (id)
		DO UPDATE SET total_sales = EXCLUDED.total_sales, inventory_value = EXCLUDED.inventory_value,
			orders = EXCLUDED.orders, low_stock = EXCLUDED.low_stock, out_of_stock = EXCLUDED.out_of_stock,
			updated_at = EXCLUDED.updated_at
	`, snapshot.TotalSales, snapshot.InventoryValue, snapshot.Orders, snapshot.LowStock, snapshot.OutOfStock)
	return err
}

func (s *Store) Begin(ctx context.Context, transactional bool) (store.UnitOfWork, error) {
	if !transactional {
		return &unitOfWork{q: s.db}, nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	return &unitOfWork{q: tx, tx: tx}, nil
}

func (s *Store) Topology(_ context.Context) store.Topology {
	return store.Topology{Kind: store.TopologyRelational}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Quantity, &p.ReorderPoint, &p.Size, &p.GSM, &p.Image, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const recordColumns = `id, kind, bill_id, counterparty, subtotal, tax, total, items, status, applied_items, created_at`

func scanRecord(row scanner) (domain.Record, error) {
	var (
		r     domain.Record
		kind  string
		state string
		items []byte
	)
	if err := row.Scan(&r.ID, &kind, &r.BillID, &r.Counterparty, &r.Subtotal, &r.Tax, &r.Total, &items, &state, &r.AppliedItems, &r.CreatedAt); err != nil {
		return domain.Record{}, err
	}
	if err := json.Unmarshal(items, &r.Items); err != nil {
		return domain.Record{}, fmt.Errorf("decode record items: %w", err)
	}
	r.Kind = domain.RecordKind(kind)
	r.Status = domain.RecordStatus(state)
	return r, nil
}

func findProduct(ctx context.Context, q querier, identifier string, forUpdate bool) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE code = $1 OR id = $2 ORDER BY (code = $1) DESC LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanProduct(q.QueryRowContext(ctx, query, domain.NormalizeCode(identifier), strings.TrimSpace(identifier)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func insertProduct(ctx context.Context, q querier, product domain.Product) (*domain.Product, error) {
	product.Code = domain.NormalizeCode(product.Code)
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	_, err := q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.Code, product.Name, product.Price, product.Quantity, product.ReorderPoint,
		product.Size, product.GSM, product.Image, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &product, nil
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
