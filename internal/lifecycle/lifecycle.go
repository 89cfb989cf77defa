package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/model"
)

// Handler reacts to entity lifecycle transitions. Implementations must not
// panic; the dispatcher recovers but treats a panic as a handler bug.
type Handler interface {
	Name() string
	Priority() int
	IsAsync() bool
	OnEntityCreated(ctx context.Context, ent *model.Entity, subject *model.SubjectContext) error
	OnEntityUpdated(ctx context.Context, prev *model.Entity, curr *model.Entity, subject *model.SubjectContext) error
	OnEntityDeleted(ctx context.Context, ent *model.Entity, subject *model.SubjectContext) error
	OnEntitySoftDeletedOrRestored(ctx context.Context, ent *model.Entity, deleted bool, subject *model.SubjectContext) error
}

// Dispatcher fans lifecycle events out to registered handlers in ascending
// priority order. Sync handlers run inline; async handlers run on their own
// goroutine and are tracked so Drain can wait for them at shutdown.
type Dispatcher struct {
	mu       sync.Mutex
	handlers []Handler
	wg       sync.WaitGroup
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
	sort.SliceStable(d.handlers, func(i, j int) bool {
		return d.handlers[i].Priority() < d.handlers[j].Priority()
	})
}

func (d *Dispatcher) snapshot() []Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	hs := make([]Handler, len(d.handlers))
	copy(hs, d.handlers)
	return hs
}

func (d *Dispatcher) dispatch(ctx context.Context, fn func(ctx context.Context, h Handler) error) {
	for _, h := range d.snapshot() {
		h := h
		if h.IsAsync() {
			// the triggering call (an HTTP request, usually) may finish and
			// cancel its context long before the handler does; keep the
			// values but drop the cancellation
			actx := context.WithoutCancel(ctx)
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.invoke(actx, h, fn)
			}()
			continue
		}
		d.invoke(ctx, h, fn)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, fn func(ctx context.Context, h Handler) error) {
	defer func() {
		if r := recover(); r != nil {
			logutil.GetLogger(ctx).Error("lifecycle handler panic",
				zap.String("handler", h.Name()), zap.Any("panic", r))
		}
	}()
	if err := fn(ctx, h); err != nil {
		logutil.GetLogger(ctx).Error("lifecycle handler failed",
			zap.String("handler", h.Name()), zap.Error(err))
	}
}

func (d *Dispatcher) EntityCreated(ctx context.Context, ent *model.Entity, subject *model.SubjectContext) {
	d.dispatch(ctx, func(ctx context.Context, h Handler) error {
		return h.OnEntityCreated(ctx, ent, subject)
	})
}

func (d *Dispatcher) EntityUpdated(ctx context.Context, prev *model.Entity, curr *model.Entity, subject *model.SubjectContext) {
	d.dispatch(ctx, func(ctx context.Context, h Handler) error {
		return h.OnEntityUpdated(ctx, prev, curr, subject)
	})
}

func (d *Dispatcher) EntityDeleted(ctx context.Context, ent *model.Entity, subject *model.SubjectContext) {
	d.dispatch(ctx, func(ctx context.Context, h Handler) error {
		return h.OnEntityDeleted(ctx, ent, subject)
	})
}

func (d *Dispatcher) EntitySoftDeletedOrRestored(ctx context.Context, ent *model.Entity, deleted bool, subject *model.SubjectContext) {
	d.dispatch(ctx, func(ctx context.Context, h Handler) error {
		return h.OnEntitySoftDeletedOrRestored(ctx, ent, deleted, subject)
	})
}

// Drain blocks until all in-flight async handlers finish or the timeout
// elapses.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
