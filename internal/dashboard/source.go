package dashboard

import (
	"context"

	"paperpos/backend/internal/domain"
)

//go:generate mockgen -source=source.go -destination=source_mock.go -package=dashboard

// Source is the slice of the repository the aggregator reads and writes.
type Source interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListRecords(ctx context.Context, kind domain.RecordKind) ([]domain.Record, error)
	GetSnapshot(ctx context.Context) (*domain.DashboardSnapshot, error)
	SaveSnapshot(ctx context.Context, snapshot domain.DashboardSnapshot) error
}
