package cache

import (
	"context"
	"time"

	"paperpos/backend/internal/domain"
)

// SnapshotCache holds the latest dashboard snapshot in front of the store.
type SnapshotCache interface {
	Get(ctx context.Context) (*domain.DashboardSnapshot, bool, error)
	Set(ctx context.Context, value domain.DashboardSnapshot, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context) (*domain.DashboardSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ domain.DashboardSnapshot, _ time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Invalidate(_ context.Context) error {
	return nil
}
