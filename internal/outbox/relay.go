package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Cheertaboi/reviewcard-checkout/internal/concurrency"
)

type Store interface {
	// LockBatch leases up to batchSize due events to the caller.
	LockBatch(ctx context.Context, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []string) error
	// MarkFailed returns the event to the queue, or parks it once maxAttempts is reached.
	MarkFailed(ctx context.Context, id, errMsg string, maxAttempts int) error
}

type RelayOptions struct {
	BatchSize   int
	Interval    time.Duration
	Lease       time.Duration
	Workers     int
	MaxAttempts int
}

func (o *RelayOptions) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Interval <= 0 {
		o.Interval = 500 * time.Millisecond
	}
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
}

type Relay struct {
	log      *zap.Logger
	store    Store
	dispatch *Dispatcher
	opts     RelayOptions
}

func NewRelay(log *zap.Logger, store Store, dispatch *Dispatcher, opts RelayOptions) *Relay {
	opts.withDefaults()
	return &Relay{log: log, store: store, dispatch: dispatch, opts: opts}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.opts.Interval)
	defer t.Stop()

	r.log.Info("outbox relay started", zap.Int("workers", r.opts.Workers))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopping")
			return nil
		case <-t.C:
			r.flush(ctx)
		}
	}
}

// flush relays one batch and returns how many events were sent.
func (r *Relay) flush(ctx context.Context) int {
	events, err := r.store.LockBatch(ctx, r.opts.BatchSize, r.opts.Lease)
	if err != nil {
		r.log.Error("outbox lock batch", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	errs := make([]error, len(events))
	ran := make([]bool, len(events))
	concurrency.ForEach(ctx, r.opts.Workers, len(events), func(ctx context.Context, i int) {
		ran[i] = true
		errs[i] = r.dispatch.Dispatch(ctx, events[i])
	})

	sent := make([]string, 0, len(events))
	for i, e := range events {
		if !ran[i] {
			// lease expiry hands it to the next poll
			continue
		}
		if errs[i] != nil {
			if err := r.store.MarkFailed(ctx, e.ID, errs[i].Error(), r.opts.MaxAttempts); err != nil {
				r.log.Error("outbox mark failed", zap.String("event_id", e.ID), zap.Error(err))
			}
			continue
		}
		sent = append(sent, e.ID)
	}
	if len(sent) > 0 {
		if err := r.store.MarkSent(ctx, sent); err != nil {
			r.log.Error("outbox mark sent", zap.Error(err))
		}
	}
	return len(sent)
}
