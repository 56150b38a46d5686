package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Clients send and expect plain JSON numbers for money.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	DefaultReorderPoint = 10
	UnknownSupplier     = "Unknown Supplier"
)

type Product struct {
	ID           string          `json:"id"`
	Code         string          `json:"productId"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	ReorderPoint int             `json:"reorderPoint"`
	Size         string          `json:"size,omitempty"`
	GSM          int             `json:"gsm,omitempty"`
	Image        string          `json:"image,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NormalizeCode is the canonical form used for product code lookups.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type ProductCreateRequest struct {
	Code         string          `json:"productId" validate:"required"`
	Name         string          `json:"name" validate:"required"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity" validate:"gte=0"`
	ReorderPoint *int            `json:"reorderPoint,omitempty" validate:"omitempty,gte=0"`
	Size         string          `json:"size"`
	GSM          int             `json:"gsm" validate:"gte=0"`
	Image        string          `json:"image"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Quantity     *int             `json:"quantity,omitempty"`
	ReorderPoint *int             `json:"reorderPoint,omitempty"`
	Size         *string          `json:"size,omitempty"`
	GSM          *int             `json:"gsm,omitempty"`
	Image        *string          `json:"image,omitempty"`
}

// LineItem is the point-in-time snapshot of one batch entry. It is never
// updated after the parent record is stored.
type LineItem struct {
	ProductID   string          `json:"productId"`
	ProductCode string          `json:"productCode"`
	Name        string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"pricePerQuantity"`
	Total       decimal.Decimal `json:"total"`
	Size        string          `json:"size,omitempty"`
	GSM         int             `json:"gsm,omitempty"`
}

type RecordKind string

const (
	RecordKindSale     RecordKind = "sale"
	RecordKindPurchase RecordKind = "purchase"
)

type RecordStatus string

const (
	RecordStatusPending   RecordStatus = "pending"
	RecordStatusCompleted RecordStatus = "completed"
)

// Record is the stored form shared by sales and purchases. AppliedItems is the
// resume cursor used when the batch was written without a transaction.
type Record struct {
	ID           string
	Kind         RecordKind
	BillID       string
	Counterparty string
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
	Items        []LineItem
	Status       RecordStatus
	AppliedItems int
	CreatedAt    time.Time
}

func (r Record) Completed() bool {
	return r.Status == RecordStatusCompleted || r.Status == ""
}

type Sale struct {
	ID           string          `json:"id"`
	BillID       string          `json:"billId"`
	CustomerName string          `json:"customerName"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	Items        []LineItem      `json:"items"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type Purchase struct {
	ID           string          `json:"id"`
	BillID       string          `json:"billId"`
	SupplierName string          `json:"supplierName"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	Items        []LineItem      `json:"items"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func SaleFromRecord(r Record) Sale {
	return Sale{
		ID:           r.ID,
		BillID:       r.BillID,
		CustomerName: r.Counterparty,
		Subtotal:     r.Subtotal,
		Tax:          r.Tax,
		Total:        r.Total,
		Items:        r.Items,
		CreatedAt:    r.CreatedAt,
	}
}

func PurchaseFromRecord(r Record) Purchase {
	return Purchase{
		ID:           r.ID,
		BillID:       r.BillID,
		SupplierName: r.Counterparty,
		Subtotal:     r.Subtotal,
		Tax:          r.Tax,
		Total:        r.Total,
		Items:        r.Items,
		CreatedAt:    r.CreatedAt,
	}
}

type SaleItemRequest struct {
	ProductID        string          `json:"productId" validate:"required"`
	Quantity         int             `json:"quantity" validate:"gt=0"`
	Price            decimal.Decimal `json:"price"`
	PricePerQuantity decimal.Decimal `json:"pricePerQuantity"`
}

type SaleRequest struct {
	BillID       string            `json:"billId" validate:"required"`
	CustomerName string            `json:"customerName"`
	Subtotal     decimal.Decimal   `json:"subtotal"`
	Tax          decimal.Decimal   `json:"tax"`
	Total        decimal.Decimal   `json:"total"`
	Items        []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	InvoiceDate  *Date             `json:"invoiceDate,omitempty"`
}

// PurchaseItemRequest may describe a product that does not exist yet; Name is
// required in that case.
type PurchaseItemRequest struct {
	ProductID string          `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name,omitempty"`
	Size      string          `json:"size,omitempty"`
	GSM       int             `json:"gsm,omitempty" validate:"gte=0"`
}

type PurchaseRequest struct {
	BillID       string                `json:"billId" validate:"required"`
	SupplierName string                `json:"supplierName"`
	Subtotal     decimal.Decimal       `json:"subtotal"`
	Tax          decimal.Decimal       `json:"tax"`
	Total        decimal.Decimal       `json:"total"`
	Items        []PurchaseItemRequest `json:"items" validate:"required,min=1,dive"`
}

type SaleResult struct {
	Sale            Sale               `json:"sale"`
	UpdatedProducts []Product          `json:"updatedProducts"`
	Dashboard       *DashboardSnapshot `json:"dashboard,omitempty"`
	Duplicate       bool               `json:"duplicate"`
}

type PurchaseResult struct {
	Purchase        Purchase           `json:"purchase"`
	UpdatedProducts []Product          `json:"updatedProducts"`
	Dashboard       *DashboardSnapshot `json:"dashboard,omitempty"`
	Duplicate       bool               `json:"duplicate"`
}

// DashboardSnapshot is derived state; one per shop.
type DashboardSnapshot struct {
	TotalSales     decimal.Decimal `json:"totalSales"`
	InventoryValue decimal.Decimal `json:"inventoryValue"`
	Orders         int             `json:"orders"`
	LowStock       int             `json:"lowStock"`
	OutOfStock     int             `json:"outOfStock"`
}

func (s DashboardSnapshot) Equal(other DashboardSnapshot) bool {
	return s.TotalSales.Equal(other.TotalSales) &&
		s.InventoryValue.Equal(other.InventoryValue) &&
		s.Orders == other.Orders &&
		s.LowStock == other.LowStock &&
		s.OutOfStock == other.OutOfStock
}

type DashboardReport struct {
	Snapshot       DashboardSnapshot `json:"snapshot"`
	TotalPurchases decimal.Decimal   `json:"totalPurchases"`
	SaleCount      int               `json:"saleCount"`
	PurchaseCount  int               `json:"purchaseCount"`
	From           *time.Time        `json:"from,omitempty"`
	To             *time.Time        `json:"to,omitempty"`
}

// Date accepts either an RFC 3339 timestamp or a plain YYYY-MM-DD day.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		d.Time = time.Time{}
		return nil
	}
	t, err := ParseDate(raw)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// ParseDate reads an RFC 3339 timestamp or a YYYY-MM-DD day in UTC.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return t.UTC(), nil
}

// ReportFilter bounds a report to records created in [From, To).
type ReportFilter struct {
	From *time.Time
	To   *time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username string
	Role     string
}
