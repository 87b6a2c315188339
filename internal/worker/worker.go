package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"storefront-service/internal/catalog"
	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// CatalogExtras reads the CRM's enrichment data for a committed order.
type CatalogExtras interface {
	FetchOrderExtra(ctx context.Context, orderID int64) (map[string]string, error)
}

// EventPublisher delivers enriched order-created events.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
}

// OrderNotifyWorker enriches committed orders with CRM data and publishes the
// order-created event. The CRM is eventually consistent after an order write,
// so the worker polls with bounded retries instead of sleeping a fixed delay.
// Enqueueing never blocks the request path and failures never propagate back:
// the order is already durable when a job reaches this worker.
type OrderNotifyWorker struct {
	catalog   CatalogExtras
	publisher EventPublisher
	logger    *zap.Logger

	jobs     chan *models.OrderCreatedEvent
	attempts int
	backoff  time.Duration

	wg   sync.WaitGroup
	once sync.Once
}

// NewOrderNotifyWorker creates a new notification worker
func NewOrderNotifyWorker(catalog CatalogExtras, publisher EventPublisher) *OrderNotifyWorker {
	return &OrderNotifyWorker{
		catalog:   catalog,
		publisher: publisher,
		logger:    util.GetLogger(),
		jobs:      make(chan *models.OrderCreatedEvent, 128),
		attempts:  5,
		backoff:   2 * time.Second,
	}
}

// NotifyOrderCreated enqueues an order for enrichment and delivery. Drops the
// event with an error log when the queue is full rather than blocking.
func (w *OrderNotifyWorker) NotifyOrderCreated(event *models.OrderCreatedEvent) {
	select {
	case w.jobs <- event:
	default:
		util.NotifyDroppedTotal.Inc()
		w.logger.Error("Notification queue full, dropping order event",
			zap.Int64("order_id", event.OrderID))
	}
}

// Start runs the worker until ctx is cancelled.
func (w *OrderNotifyWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case event := <-w.jobs:
				w.process(ctx, event)
			}
		}
	}()
}

// Stop waits for the worker goroutine to finish.
func (w *OrderNotifyWorker) Stop() {
	w.once.Do(func() {
		w.wg.Wait()
	})
}

// drain publishes whatever is still queued, without enrichment retries.
func (w *OrderNotifyWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case event := <-w.jobs:
			if err := w.publisher.PublishOrderCreated(ctx, event); err != nil {
				w.logger.Error("Failed to publish order event during drain",
					zap.Int64("order_id", event.OrderID),
					zap.Error(err))
			}
		default:
			return
		}
	}
}

func (w *OrderNotifyWorker) process(ctx context.Context, event *models.OrderCreatedEvent) {
	extra, err := w.fetchExtra(ctx, event.OrderID)
	if err != nil {
		w.logger.Warn("CRM enrichment unavailable, publishing without extras",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	} else {
		event.Extra = extra
	}

	if err := w.publisher.PublishOrderCreated(ctx, event); err != nil {
		util.NotifyDroppedTotal.Inc()
		w.logger.Error("Failed to publish OrderCreated event",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	}
}

// fetchExtra polls the CRM until it sees the freshly committed order.
func (w *OrderNotifyWorker) fetchExtra(ctx context.Context, orderID int64) (map[string]string, error) {
	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		extra, err := w.catalog.FetchOrderExtra(ctx, orderID)
		if err == nil {
			return extra, nil
		}
		lastErr = err

		if !errors.Is(err, catalog.ErrNotConsistent) {
			return nil, err
		}

		util.NotifyEnrichRetriesTotal.Inc()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * w.backoff):
		}
	}
	return nil, lastErr
}
