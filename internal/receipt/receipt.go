// Package receipt publishes committed sales for the external receipt
// renderer. Everything here runs after the sale's unit of work has
// committed; failures are logged and retried by the queue, never surfaced
// to the sale.
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"kasirinaja/posledger/internal/cache"
	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/obs"
	"kasirinaja/posledger/internal/store"
)

const (
	TaskSaleSnapshot = "receipt:snapshot"
	QueueName        = "receipts"
)

type SnapshotPayload struct {
	SaleID string `json:"sale_id"`
}

// NewSnapshotTask builds the task for one sale on the receipts queue.
func NewSnapshotTask(saleID string, maxRetry int) (*asynq.Task, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return nil, errors.New("receipt: sale id is required")
	}
	payload, err := json.Marshal(SnapshotPayload{SaleID: saleID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSaleSnapshot, payload,
		asynq.MaxRetry(maxRetry),
		asynq.Queue(QueueName),
		asynq.Timeout(30*time.Second),
	), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Dispatcher struct {
	client   Enqueuer
	maxRetry int
	logger   zerolog.Logger
	metrics  *obs.LedgerMetrics
}

// NewDispatcher accepts a nil client; SaleCommitted is then a no-op.
func NewDispatcher(client Enqueuer, maxRetry int, logger zerolog.Logger, metrics *obs.LedgerMetrics) *Dispatcher {
	return &Dispatcher{
		client:   client,
		maxRetry: maxRetry,
		logger:   logger.With().Str("component", "receipt").Logger(),
		metrics:  metrics,
	}
}

// SaleCommitted queues a snapshot refresh for saleID. It is called for new
// and cancelled sales alike and swallows every failure.
func (d *Dispatcher) SaleCommitted(ctx context.Context, saleID string) {
	if d == nil || d.client == nil {
		return
	}
	task, err := NewSnapshotTask(saleID, d.maxRetry)
	if err != nil {
		d.metrics.ReceiptJob("enqueue", "invalid")
		d.logger.Warn().Err(err).Str("sale_id", saleID).Msg("receipt_enqueue_failed")
		return
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		d.metrics.ReceiptJob("enqueue", "error")
		d.logger.Warn().Err(err).Str("sale_id", saleID).Msg("receipt_enqueue_failed")
		return
	}
	d.metrics.ReceiptJob("enqueue", "ok")
	d.logger.Debug().Str("sale_id", saleID).Str("task_id", info.ID).Msg("receipt_enqueued")
}

// SaleSource is the read side the worker needs; store.Store satisfies it.
type SaleSource interface {
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
}

type SnapshotHandler struct {
	sales   SaleSource
	cache   cache.SaleSnapshotCache
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *obs.LedgerMetrics
	now     func() time.Time
}

func NewSnapshotHandler(sales SaleSource, c cache.SaleSnapshotCache, ttl time.Duration, logger zerolog.Logger, metrics *obs.LedgerMetrics) *SnapshotHandler {
	if c == nil {
		c = cache.NoopSaleSnapshotCache{}
	}
	return &SnapshotHandler{
		sales:   sales,
		cache:   c,
		ttl:     ttl,
		logger:  logger.With().Str("component", "receipt_worker").Logger(),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ProcessTask implements asynq.Handler.
func (h *SnapshotHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload SnapshotPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || strings.TrimSpace(payload.SaleID) == "" {
		h.metrics.ReceiptJob("process", "invalid")
		return fmt.Errorf("receipt: bad payload: %w", asynq.SkipRetry)
	}

	snapshot, err := h.Build(ctx, payload.SaleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.metrics.ReceiptJob("process", "missing")
			h.logger.Warn().Str("sale_id", payload.SaleID).Msg("receipt_sale_missing")
			return fmt.Errorf("receipt: sale %s: %w", payload.SaleID, asynq.SkipRetry)
		}
		h.metrics.ReceiptJob("process", "error")
		return err
	}
	if err := h.cache.Set(ctx, snapshot, h.ttl); err != nil {
		h.metrics.ReceiptJob("process", "error")
		return fmt.Errorf("receipt: publish %s: %w", payload.SaleID, err)
	}

	h.metrics.ReceiptJob("process", "ok")
	h.logger.Info().
		Str("sale_id", snapshot.Sale.ID).
		Str("status", string(snapshot.Sale.Status)).
		Msg("receipt_snapshot_published")
	return nil
}

// Build assembles the projection without publishing it.
func (h *SnapshotHandler) Build(ctx context.Context, saleID string) (*domain.SaleSnapshot, error) {
	sale, err := h.sales.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	customer, err := h.sales.GetCustomer(ctx, sale.CustomerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		customer = &domain.Customer{ID: sale.CustomerID, Name: domain.GenericCustomerName, Generic: true}
	case err != nil:
		return nil, err
	}
	return &domain.SaleSnapshot{Sale: *sale, Customer: *customer, GeneratedAt: h.now()}, nil
}

// Snapshot serves the published projection, building and publishing it on a
// cache miss. A failing cache only costs the rebuild.
func (h *SnapshotHandler) Snapshot(ctx context.Context, saleID string) (*domain.SaleSnapshot, error) {
	saleID = strings.TrimSpace(saleID)
	if cached, ok, err := h.cache.Get(ctx, saleID); err == nil && ok {
		return cached, nil
	} else if err != nil {
		h.logger.Warn().Err(err).Str("sale_id", saleID).Msg("receipt_cache_read_failed")
	}

	snapshot, err := h.Build(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if err := h.cache.Set(ctx, snapshot, h.ttl); err != nil {
		h.logger.Warn().Err(err).Str("sale_id", saleID).Msg("receipt_cache_write_failed")
	}
	return snapshot, nil
}

func NewServeMux(h *SnapshotHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TaskSaleSnapshot, h)
	return mux
}
