package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paperpos/backend/internal/domain"
	"paperpos/backend/internal/store"
)

type batch struct {
	kind         domain.RecordKind
	billID       string
	counterparty string
	subtotal     decimal.Decimal
	tax          decimal.Decimal
	total        decimal.Decimal
	createdAt    time.Time
	items        []batchItem
}

type batchItem struct {
	identifier string
	quantity   int
	// price is the requested unit price; non-positive means keep the stored one.
	price decimal.Decimal
	name  string
	size  string
	gsm   int
}

type batchOutcome struct {
	record    domain.Record
	products  []domain.Product
	duplicate bool
}

// ProcessSale decrements stock for every item in order and records the sale.
// A sale whose bill id was already completed is returned unchanged with
// Duplicate set.
func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	b, err := s.saleBatch(req)
	if err != nil {
		return domain.SaleResult{}, err
	}

	out, err := s.runBatch(ctx, b)
	if err != nil {
		return domain.SaleResult{}, err
	}

	result := domain.SaleResult{
		Sale:            domain.SaleFromRecord(out.record),
		UpdatedProducts: out.products,
		Duplicate:       out.duplicate,
	}
	if out.duplicate {
		result.Dashboard = s.currentDashboard(ctx)
		return result, nil
	}

	if _, err := s.dashboard.ApplySale(ctx, out.record.Total); err != nil {
		zap.L().Warn("dashboard sale bump failed", zap.String("bill_id", b.billID), zap.Error(err))
	}
	result.Dashboard = s.refreshDashboard(ctx)
	return result, nil
}

// ProcessPurchase increments stock for every item in order and records the
// purchase. Unknown identifiers that carry a name become new products.
func (s *Service) ProcessPurchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseResult, error) {
	b, err := s.purchaseBatch(req)
	if err != nil {
		return domain.PurchaseResult{}, err
	}

	out, err := s.runBatch(ctx, b)
	if err != nil {
		return domain.PurchaseResult{}, err
	}

	result := domain.PurchaseResult{
		Purchase:        domain.PurchaseFromRecord(out.record),
		UpdatedProducts: out.products,
		Duplicate:       out.duplicate,
	}
	if out.duplicate {
		result.Dashboard = s.currentDashboard(ctx)
		return result, nil
	}
	result.Dashboard = s.refreshDashboard(ctx)
	return result, nil
}

func (s *Service) saleBatch(req domain.SaleRequest) (batch, error) {
	if err := s.validate.Struct(req); err != nil {
		return batch{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}

	b := batch{
		kind:         domain.RecordKindSale,
		billID:       strings.TrimSpace(req.BillID),
		counterparty: strings.TrimSpace(req.CustomerName),
		subtotal:     req.Subtotal,
		tax:          req.Tax,
		total:        req.Total,
		createdAt:    time.Now().UTC(),
	}
	if req.InvoiceDate != nil && !req.InvoiceDate.IsZero() {
		b.createdAt = req.InvoiceDate.UTC()
	}
	for _, item := range req.Items {
		price := item.PricePerQuantity
		if !price.IsPositive() {
			price = item.Price
		}
		b.items = append(b.items, batchItem{
			identifier: strings.TrimSpace(item.ProductID),
			quantity:   item.Quantity,
			price:      price,
		})
	}
	return b, b.check()
}

func (s *Service) purchaseBatch(req domain.PurchaseRequest) (batch, error) {
	if err := s.validate.Struct(req); err != nil {
		return batch{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}

	supplier := strings.TrimSpace(req.SupplierName)
	if supplier == "" {
		supplier = domain.UnknownSupplier
	}
	b := batch{
		kind:         domain.RecordKindPurchase,
		billID:       strings.TrimSpace(req.BillID),
		counterparty: supplier,
		subtotal:     req.Subtotal,
		tax:          req.Tax,
		total:        req.Total,
		createdAt:    time.Now().UTC(),
	}
	for _, item := range req.Items {
		b.items = append(b.items, batchItem{
			identifier: strings.TrimSpace(item.ProductID),
			quantity:   item.Quantity,
			price:      item.Price,
			name:       strings.TrimSpace(item.Name),
			size:       strings.TrimSpace(item.Size),
			gsm:        item.GSM,
		})
	}
	return b, b.check()
}

func (b batch) check() error {
	if b.billID == "" {
		return fmt.Errorf("%w: billId is required", store.ErrInvalidTransaction)
	}
	if len(b.items) == 0 {
		return fmt.Errorf("%w: items are required", store.ErrInvalidTransaction)
	}
	for i, item := range b.items {
		if item.identifier == "" {
			return fmt.Errorf("%w: item %d has no productId", store.ErrInvalidTransaction, i)
		}
		if item.quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", store.ErrInvalidTransaction, i)
		}
	}
	return nil
}

// runBatch applies b inside a transaction when the strategy allows it. A
// backend that rejects the transaction at runtime gets one non-transactional
// re-run; the bill id keeps that re-run from applying anything twice.
func (s *Service) runBatch(ctx context.Context, b batch) (batchOutcome, error) {
	transactional := s.strategy.UseTransaction(ctx)
	out, err := s.applyBatch(ctx, b, transactional)
	if transactional && errors.Is(err, store.ErrTransactionsUnsupported) {
		zap.L().Warn("backend rejected transaction, retrying without one",
			zap.String("kind", string(b.kind)),
			zap.String("bill_id", b.billID),
			zap.Error(err))
		out, err = s.applyBatch(ctx, b, false)
	}
	if err != nil {
		return batchOutcome{}, err
	}

	actor, _ := ActorFromContext(ctx)
	zap.L().Info("batch processed",
		zap.String("kind", string(b.kind)),
		zap.String("bill_id", b.billID),
		zap.String("record_id", out.record.ID),
		zap.Int("items", len(out.record.Items)),
		zap.Bool("duplicate", out.duplicate),
		zap.String("actor", actor.Username))
	return out, nil
}

func (s *Service) applyBatch(ctx context.Context, b batch, transactional bool) (batchOutcome, error) {
	unlock, err := s.locker.Lock(ctx, s.lockKeys(ctx, b)...)
	if err != nil {
		return batchOutcome{}, err
	}
	defer unlock()

	uow, err := s.repo.Begin(ctx, transactional)
	if err != nil {
		return batchOutcome{}, err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := uow.Rollback(context.WithoutCancel(ctx)); err != nil {
			zap.L().Error("rollback failed", zap.String("bill_id", b.billID), zap.Error(err))
		}
	}()

	record, stored, err := s.openRecord(ctx, uow, b)
	if err != nil {
		return batchOutcome{}, err
	}

	if stored && record.Completed() {
		if err := uow.Commit(ctx); err != nil {
			return batchOutcome{}, err
		}
		committed = true
		products, err := s.finalProducts(ctx, record.Items)
		if err != nil {
			return batchOutcome{}, err
		}
		return batchOutcome{record: record, products: products, duplicate: true}, nil
	}

	if !stored && !uow.Transactional() {
		created, err := uow.CreateRecord(ctx, record)
		if err != nil {
			return batchOutcome{}, err
		}
		record = *created
		stored = true
	}

	for i := record.AppliedItems; i < len(record.Items); i++ {
		if err := applyLine(ctx, uow, b.kind, record.Items[i]); err != nil {
			return batchOutcome{}, err
		}
		if stored && !uow.Transactional() {
			if err := uow.UpdateRecordProgress(ctx, b.kind, record.ID, i+1, domain.RecordStatusPending); err != nil {
				return batchOutcome{}, err
			}
		}
	}

	record.AppliedItems = len(record.Items)
	record.Status = domain.RecordStatusCompleted
	if stored {
		err = uow.UpdateRecordProgress(ctx, b.kind, record.ID, record.AppliedItems, record.Status)
	} else {
		var created *domain.Record
		created, err = uow.CreateRecord(ctx, record)
		if created != nil {
			record = *created
		}
	}
	if err != nil {
		return batchOutcome{}, err
	}

	if err := uow.Commit(ctx); err != nil {
		return batchOutcome{}, err
	}
	committed = true

	products, err := s.finalProducts(ctx, record.Items)
	if err != nil {
		return batchOutcome{}, err
	}
	return batchOutcome{record: record, products: products}, nil
}

// openRecord returns the stored record for the bill id, or a freshly planned
// one that has not been persisted yet.
func (s *Service) openRecord(ctx context.Context, uow store.UnitOfWork, b batch) (domain.Record, bool, error) {
	existing, err := uow.FindRecordByBillID(ctx, b.kind, b.billID)
	if err == nil {
		if !existing.Completed() {
			zap.L().Info("resuming pending batch",
				zap.String("bill_id", b.billID),
				zap.Int("applied", existing.AppliedItems),
				zap.Int("items", len(existing.Items)))
		}
		return *existing, true, nil
	}
	if !isNotFound(err) {
		return domain.Record{}, false, err
	}

	lines, err := s.plan(ctx, uow, b)
	if err != nil {
		return domain.Record{}, false, err
	}
	return domain.Record{
		Kind:         b.kind,
		BillID:       b.billID,
		Counterparty: b.counterparty,
		Subtotal:     b.subtotal,
		Tax:          b.tax,
		Total:        b.total,
		Items:        lines,
		Status:       domain.RecordStatusPending,
		CreatedAt:    b.createdAt,
	}, false, nil
}

// plan resolves every item against fresh state and builds the line items.
// Repeated identifiers see the effect of earlier items, so stock checks
// fail here before anything is written.
func (s *Service) plan(ctx context.Context, uow store.UnitOfWork, b batch) ([]domain.LineItem, error) {
	working := make(map[string]*domain.Product)
	lines := make([]domain.LineItem, 0, len(b.items))
	lineSum := decimal.Zero

	for _, item := range b.items {
		product, err := s.resolve(ctx, uow, working, b.kind, item)
		if err != nil {
			return nil, err
		}

		unit := product.Price
		if item.price.IsPositive() {
			unit = item.price
		}
		switch b.kind {
		case domain.RecordKindSale:
			if item.quantity > product.Quantity {
				return nil, fmt.Errorf("%w: %s has %d, requested %d",
					store.ErrInsufficientStock, product.Code, product.Quantity, item.quantity)
			}
			product.Quantity -= item.quantity
		default:
			product.Quantity += item.quantity
		}
		product.Price = unit

		line := domain.LineItem{
			ProductID:   product.ID,
			ProductCode: product.Code,
			Name:        product.Name,
			Quantity:    item.quantity,
			UnitPrice:   unit,
			Total:       unit.Mul(decimal.NewFromInt(int64(item.quantity))),
			Size:        product.Size,
			GSM:         product.GSM,
		}
		lineSum = lineSum.Add(line.Total)
		lines = append(lines, line)
	}

	if !lineSum.Equal(b.subtotal) {
		if s.enforceTotals {
			return nil, fmt.Errorf("%w: subtotal %s does not match line total %s",
				store.ErrInvalidTransaction, b.subtotal, lineSum)
		}
		zap.L().Warn("client subtotal differs from line totals",
			zap.String("bill_id", b.billID),
			zap.String("subtotal", b.subtotal.String()),
			zap.String("line_total", lineSum.String()))
	}
	return lines, nil
}

func (s *Service) resolve(ctx context.Context, uow store.UnitOfWork, working map[string]*domain.Product, kind domain.RecordKind, item batchItem) (*domain.Product, error) {
	found, err := uow.FindProduct(ctx, item.identifier)
	switch {
	case err == nil:
		if p, ok := working[found.ID]; ok {
			return p, nil
		}
		working[found.ID] = found
		return found, nil
	case !isNotFound(err):
		return nil, err
	case kind == domain.RecordKindSale || item.name == "":
		return nil, notFound(item.identifier)
	}

	created, err := uow.CreateProduct(ctx, domain.Product{
		Code:         domain.NormalizeCode(item.identifier),
		Name:         item.name,
		Price:        decimal.Max(item.price, decimal.Zero),
		ReorderPoint: domain.DefaultReorderPoint,
		Size:         item.size,
		GSM:          item.gsm,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("product created from purchase", zap.String("code", created.Code))
	working[created.ID] = created
	return created, nil
}

func applyLine(ctx context.Context, uow store.UnitOfWork, kind domain.RecordKind, line domain.LineItem) error {
	product, err := uow.FindProduct(ctx, line.ProductID)
	if err != nil {
		if isNotFound(err) {
			return notFound(line.ProductCode)
		}
		return err
	}

	switch kind {
	case domain.RecordKindSale:
		if line.Quantity > product.Quantity {
			return fmt.Errorf("%w: %s has %d, requested %d",
				store.ErrInsufficientStock, product.Code, product.Quantity, line.Quantity)
		}
		product.Quantity -= line.Quantity
	default:
		product.Quantity += line.Quantity
	}
	product.Price = line.UnitPrice
	return uow.SaveProduct(ctx, *product)
}

// lockKeys names every product the batch may touch plus the bill itself.
// Unknown identifiers lock on their normalized code.
func (s *Service) lockKeys(ctx context.Context, b batch) []string {
	keys := make([]string, 0, len(b.items)+1)
	keys = append(keys, "bill:"+string(b.kind)+":"+b.billID)
	for _, item := range b.items {
		if product, err := s.repo.GetProduct(ctx, item.identifier); err == nil {
			keys = append(keys, productLockKey(product.ID))
			continue
		}
		keys = append(keys, "code:"+domain.NormalizeCode(item.identifier))
	}
	return keys
}

// finalProducts returns each touched product once, first-seen order, in its
// committed state.
func (s *Service) finalProducts(ctx context.Context, lines []domain.LineItem) ([]domain.Product, error) {
	seen := make(map[string]struct{}, len(lines))
	products := make([]domain.Product, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}

		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		products = append(products, *product)
	}
	return products, nil
}

func (s *Service) currentDashboard(ctx context.Context) *domain.DashboardSnapshot {
	snapshot, err := s.dashboard.Snapshot(ctx)
	if err != nil {
		zap.L().Warn("dashboard read failed", zap.Error(err))
		return nil
	}
	return &snapshot
}

func productLockKey(id string) string {
	return "product:" + id
}
