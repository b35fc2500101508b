package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// OutboxRow is one pending event awaiting background dispatch.
type OutboxRow struct {
	ID       int64
	Event    Event
	Attempts int
}

// OutboxStore is the durable queue behind the outbox publisher. Rows are
// written when the pipeline runs and drained by the dispatcher.
type OutboxStore interface {
	Enqueue(ctx context.Context, event Event) error
	// FetchPending returns up to limit undispatched, non-dead rows, oldest
	// first.
	FetchPending(ctx context.Context, limit int) ([]OutboxRow, error)
	MarkDispatched(ctx context.Context, ids []int64) error
	// MarkFailed bumps the attempt counter; dead rows are never retried.
	MarkFailed(ctx context.Context, id int64, dead bool) error
}

// OutboxPublisher satisfies Publisher by enqueueing durably instead of
// talking to the broker inline. Selected with GANTRY_EVENTS_MODE=outbox, the
// recommended strengthening when events must survive a crash between commit
// and publish.
type OutboxPublisher struct {
	store OutboxStore
}

func NewOutboxPublisher(store OutboxStore) *OutboxPublisher {
	return &OutboxPublisher{store: store}
}

func (p *OutboxPublisher) Publish(ctx context.Context, event Event) error {
	return p.store.Enqueue(ctx, event)
}

// OutboxDispatcher drains the outbox to the real publisher on a ticker.
type OutboxDispatcher struct {
	store     OutboxStore
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxRetry  int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatched atomic.Int64
	failed     atomic.Int64
	dead       atomic.Int64
}

func NewOutboxDispatcher(store OutboxStore, publisher Publisher, logger *slog.Logger, interval time.Duration, batchSize int) *OutboxDispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxDispatcher{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		maxRetry:  5,
	}
}

// Start begins draining in the background. Safe to call once.
func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

// Close stops the loop and waits for the in-flight batch.
func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

// Stats reports dispatch counters for observability endpoints and tests.
func (d *OutboxDispatcher) Stats() (dispatched, failed, dead int64) {
	return d.dispatched.Load(), d.failed.Load(), d.dead.Load()
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.DispatchBatch(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox dispatch batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchBatch publishes one batch of pending rows. Exported so tests and
// drain-on-shutdown paths can run it synchronously.
func (d *OutboxDispatcher) DispatchBatch(ctx context.Context) error {
	rows, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	var done []int64
	for _, row := range rows {
		if err := d.publisher.Publish(ctx, row.Event); err != nil {
			dead := row.Attempts+1 >= d.maxRetry
			if dead {
				d.dead.Add(1)
			} else {
				d.failed.Add(1)
			}
			d.logger.Error("outbox publish failed",
				"error", err,
				"topic", row.Event.Topic,
				"entity_id", row.Event.EntityID,
				"attempts", row.Attempts+1,
				"dead", dead,
			)
			if err := d.store.MarkFailed(ctx, row.ID, dead); err != nil {
				return err
			}
			continue
		}
		done = append(done, row.ID)
	}

	if len(done) > 0 {
		if err := d.store.MarkDispatched(ctx, done); err != nil {
			return err
		}
		d.dispatched.Add(int64(len(done)))
	}
	return nil
}
