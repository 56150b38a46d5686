package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"paperpos/backend/internal/domain"
)

type productDoc struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty"`
	Code         string               `bson:"code"`
	Name         string               `bson:"name"`
	Price        primitive.Decimal128 `bson:"price"`
	Quantity     int                  `bson:"quantity"`
	ReorderPoint int                  `bson:"reorder_point"`
	Size         string               `bson:"size,omitempty"`
	GSM          int                  `bson:"gsm,omitempty"`
	Image        string               `bson:"image,omitempty"`
	CreatedAt    time.Time            `bson:"created_at"`
	UpdatedAt    time.Time            `bson:"updated_at"`
}

type lineItemDoc struct {
	ProductID   string               `bson:"product_id"`
	ProductCode string               `bson:"product_code"`
	Name        string               `bson:"name"`
	Quantity    int                  `bson:"quantity"`
	UnitPrice   primitive.Decimal128 `bson:"unit_price"`
	Total       primitive.Decimal128 `bson:"total"`
	Size        string               `bson:"size,omitempty"`
	GSM         int                  `bson:"gsm,omitempty"`
}

type recordDoc struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty"`
	Kind         string               `bson:"kind"`
	BillID       string               `bson:"bill_id"`
	Counterparty string               `bson:"counterparty"`
	Subtotal     primitive.Decimal128 `bson:"subtotal"`
	Tax          primitive.Decimal128 `bson:"tax"`
	Total        primitive.Decimal128 `bson:"total"`
	Items        []lineItemDoc        `bson:"items"`
	Status       string               `bson:"status"`
	AppliedItems int                  `bson:"applied_items"`
	CreatedAt    time.Time            `bson:"created_at"`
}

type snapshotDoc struct {
	ID             string               `bson:"_id"`
	TotalSales     primitive.Decimal128 `bson:"total_sales"`
	InventoryValue primitive.Decimal128 `bson:"inventory_value"`
	Orders         int                  `bson:"orders"`
	LowStock       int                  `bson:"low_stock"`
	OutOfStock     int                  `bson:"out_of_stock"`
	UpdatedAt      time.Time            `bson:"updated_at"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	if v.IsZero() {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %s: %w", v, err)
	}
	return d, nil
}

func newProductDoc(p domain.Product) (productDoc, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return productDoc{}, err
	}
	doc := productDoc{
		Code:         p.Code,
		Name:         p.Name,
		Price:        price,
		Quantity:     p.Quantity,
		ReorderPoint: p.ReorderPoint,
		Size:         p.Size,
		GSM:          p.GSM,
		Image:        p.Image,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if p.ID != "" {
		oid, err := primitive.ObjectIDFromHex(p.ID)
		if err != nil {
			return productDoc{}, fmt.Errorf("product id %q: %w", p.ID, err)
		}
		doc.ID = oid
	}
	return doc, nil
}

func (d productDoc) product() (domain.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:           d.ID.Hex(),
		Code:         d.Code,
		Name:         d.Name,
		Price:        price,
		Quantity:     d.Quantity,
		ReorderPoint: d.ReorderPoint,
		Size:         d.Size,
		GSM:          d.GSM,
		Image:        d.Image,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

func newRecordDoc(r domain.Record) (recordDoc, error) {
	doc := recordDoc{
		Kind:         string(r.Kind),
		BillID:       r.BillID,
		Counterparty: r.Counterparty,
		Status:       string(r.Status),
		AppliedItems: r.AppliedItems,
		CreatedAt:    r.CreatedAt,
		Items:        make([]lineItemDoc, 0, len(r.Items)),
	}
	var err error
	if doc.Subtotal, err = toDecimal128(r.Subtotal); err != nil {
		return recordDoc{}, err
	}
	if doc.Tax, err = toDecimal128(r.Tax); err != nil {
		return recordDoc{}, err
	}
	if doc.Total, err = toDecimal128(r.Total); err != nil {
		return recordDoc{}, err
	}
	for _, item := range r.Items {
		line := lineItemDoc{
			ProductID:   item.ProductID,
			ProductCode: item.ProductCode,
			Name:        item.Name,
			Quantity:    item.Quantity,
			Size:        item.Size,
			GSM:         item.GSM,
		}
		if line.UnitPrice, err = toDecimal128(item.UnitPrice); err != nil {
			return recordDoc{}, err
		}
		if line.Total, err = toDecimal128(item.Total); err != nil {
			return recordDoc{}, err
		}
		doc.Items = append(doc.Items, line)
	}
	return doc, nil
}

func (d recordDoc) record() (domain.Record, error) {
	r := domain.Record{
		ID:           d.ID.Hex(),
		Kind:         domain.RecordKind(d.Kind),
		BillID:       d.BillID,
		Counterparty: d.Counterparty,
		Status:       domain.RecordStatus(d.Status),
		AppliedItems: d.AppliedItems,
		CreatedAt:    d.CreatedAt,
		Items:        make([]domain.LineItem, 0, len(d.Items)),
	}
	var err error
	if r.Subtotal, err = fromDecimal128(d.Subtotal); err != nil {
		return domain.Record{}, err
	}
	if r.Tax, err = fromDecimal128(d.Tax); err != nil {
		return domain.Record{}, err
	}
	if r.Total, err = fromDecimal128(d.Total); err != nil {
		return domain.Record{}, err
	}
	for _, line := range d.Items {
		item := domain.LineItem{
			ProductID:   line.ProductID,
			ProductCode: line.ProductCode,
			Name:        line.Name,
			Quantity:    line.Quantity,
			Size:        line.Size,
			GSM:         line.GSM,
		}
		if item.UnitPrice, err = fromDecimal128(line.UnitPrice); err != nil {
			return domain.Record{}, err
		}
		if item.Total, err = fromDecimal128(line.Total); err != nil {
			return domain.Record{}, err
		}
		r.Items = append(r.Items, item)
	}
	return r, nil
}
