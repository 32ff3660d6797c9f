package hooks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-pkgz/repeater"
)

var (
	ErrQueueFull = errors.New("event queue is full")
	ErrClosed    = errors.New("dispatcher is closed")
)

// Applier applies a single event.
type Applier interface {
	Apply(ctx context.Context, ev Event) error
}

// Dispatcher applies events asynchronously. Events of the same topic land on the
// same worker and are applied in the order they were enqueued.
type Dispatcher struct {
	applier Applier
	retries int
	delay   time.Duration
	shards  []chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(applier Applier, workers, queueSize, retries int, delay time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if retries <= 0 {
		retries = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		applier: applier,
		retries: retries,
		delay:   delay,
		shards:  make([]chan Event, workers),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range d.shards {
		d.shards[i] = make(chan Event, queueSize)
		d.wg.Add(1)
		go d.work(d.shards[i])
	}
	return d
}

// Enqueue queues an event without blocking.
func (d *Dispatcher) Enqueue(ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	shard := d.shards[int(uint64(ev.shard())%uint64(len(d.shards)))]
	select {
	case shard <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	n := 0
	for _, shard := range d.shards {
		n += len(shard)
	}
	return n
}

// Close stops accepting events and waits until the queued ones are applied or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, shard := range d.shards {
		close(shard)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work(events <-chan Event) {
	defer d.wg.Done()
	for ev := range events {
		err := repeater.NewDefault(d.retries, d.delay).Do(d.ctx, func() error {
			return d.applier.Apply(d.ctx, ev)
		})
		if err != nil {
			slog.Error("giving up on event", "hook", ev.Hook, "pid", ev.Pid, "tid", ev.Tid, "error", err)
		}
	}
}
