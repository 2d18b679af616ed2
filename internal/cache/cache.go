package cache

import (
	"context"
	"time"

	"kasirinaja/posledger/internal/domain"
)

// SaleSnapshotCache holds the sale projection that receipt renderers read.
type SaleSnapshotCache interface {
	Get(ctx context.Context, saleID string) (*domain.SaleSnapshot, bool, error)
	Set(ctx context.Context, snapshot *domain.SaleSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, saleID string) error
}

type NoopSaleSnapshotCache struct{}

func (NoopSaleSnapshotCache) Get(_ context.Context, _ string) (*domain.SaleSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopSaleSnapshotCache) Set(_ context.Context, _ *domain.SaleSnapshot, _ time.Duration) error {
	return nil
}

func (NoopSaleSnapshotCache) Delete(_ context.Context, _ string) error {
	return nil
}
