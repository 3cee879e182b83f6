// Package bus dispatches typed events to ordered handler chains.
package bus

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zeusync/ecs/internal/core/entity"
	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/observability/log"
	"github.com/zeusync/ecs/internal/core/registry"
	"github.com/zeusync/ecs/internal/core/replication"
	"github.com/zeusync/ecs/pkg/generic"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxDepth makes a publish nested deeper than n fail with
// ErrRecursionLimit. Zero means unlimited.
func WithMaxDepth(n int) Option {
	return func(d *Dispatcher) { d.maxDepth = n }
}

// WithSink hands network events to sink after their local dispatch
// succeeded.
func WithSink(sink replication.Sink) Option {
	return func(d *Dispatcher) { d.sink = sink }
}

// Dispatcher runs handlers synchronously on the publishing goroutine.
// Registrations are guarded so they may come from any goroutine, but
// dispatch assumes a single simulation goroutine owns the entity store.
type Dispatcher struct {
	mu        sync.RWMutex
	events    *registry.EventRegistry
	entities  *entity.Store
	logger    log.Log
	sink      replication.Sink
	maxDepth  int
	depth     atomic.Int32
	seq       uint64
	sets      map[reflect.Type]*handlerSet
	observers map[Observer]struct{}
	metrics   Metrics
	calls     *generic.Pool[*Call]
}

// New creates a dispatcher for the event types in events. entities is
// required for targeted publishes and component filters.
func New(events *registry.EventRegistry, entities *entity.Store, logger log.Log, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		events:    events,
		entities:  entities,
		logger:    log.OrNop(logger).With(log.String("component", "dispatcher")),
		sets:      make(map[reflect.Type]*handlerSet),
		observers: make(map[Observer]struct{}),
		calls:     generic.NewPool(func() *Call { return new(Call) }, (*Call).reset),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sink returns the replication sink, if any.
func (d *Dispatcher) Sink() replication.Sink { return d.sink }

// Register adds a handler. Ordering problems are not reported here; they
// surface on the next publish of the event type.
func (d *Dispatcher) Register(reg Registration) (Subscription, error) {
	if reg.Handler == nil {
		return nil, fmt.Errorf("%w: nil handler", ErrInvalidHandler)
	}
	meta, err := d.events.Meta(reg.Event)
	if err != nil {
		return nil, err
	}
	if len(reg.Components) > 0 {
		if d.entities == nil {
			return nil, fmt.Errorf("%w: component filter without an entity store", ErrInvalidHandler)
		}
		for _, c := range reg.Components {
			if _, err := d.entities.Components().Meta(c); err != nil {
				return nil, fmt.Errorf("handler filter: %w", err)
			}
		}
	}
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	reg.Components = slices.Clone(reg.Components)
	reg.Before = slices.Clone(reg.Before)
	reg.After = slices.Clone(reg.After)

	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.sets[meta.Type()]
	if set == nil {
		set = &handlerSet{meta: meta}
		d.sets[meta.Type()] = set
	}
	if set.find(reg.ID) != nil {
		return nil, fmt.Errorf("%w: %q for %s", ErrDuplicateHandler, reg.ID, meta.Name())
	}
	d.seq++
	h := &handler{Registration: reg, seq: d.seq, set: set}
	h.active.Store(true)
	set.handlers = append(set.handlers, h)
	set.invalidate()
	d.metrics.SubscribersActive++

	d.logger.Debug("handler registered",
		log.Stringer("event", meta.Name()),
		log.String("handler", reg.ID),
		log.Strings("before", reg.Before),
		log.Strings("after", reg.After))

	return &subscription{d: d, h: h}, nil
}

func (d *Dispatcher) cancel(h *handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !h.active.CompareAndSwap(true, false) {
		return
	}
	h.set.remove(h)
	d.metrics.SubscribersActive--
	d.logger.Debug("handler cancelled", log.Stringer("event", h.set.meta.Name()), log.String("handler", h.ID))
}

// Reset cancels every handler and drops the sink, leaving the dispatcher as
// New returned it apart from observers and metrics.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, set := range d.sets {
		for _, h := range set.handlers {
			h.active.Store(false)
		}
	}
	clear(d.sets)
	d.sink = nil
	d.metrics.SubscribersActive = 0
	d.logger.Debug("dispatcher reset")
}

// Order returns the handler IDs for an event type in dispatch order.
func (d *Dispatcher) Order(eventType reflect.Type) ([]string, error) {
	meta, err := d.events.Meta(eventType)
	if err != nil {
		return nil, err
	}
	order, err := d.order(meta)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(order))
	for i, h := range order {
		ids[i] = h.ID
	}
	return ids, nil
}

// Handlers counts the handlers registered for an event type.
func (d *Dispatcher) Handlers(eventType reflect.Type) int {
	meta, err := d.events.Meta(eventType)
	if err != nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if set := d.sets[meta.Type()]; set != nil {
		return len(set.handlers)
	}
	return 0
}

func (d *Dispatcher) order(meta *registry.EventType) ([]*handler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.sets[meta.Type()]
	if set == nil {
		return nil, nil
	}
	return set.linearize(d.logger)
}

// Publish dispatches event to every handler of its type.
func (d *Dispatcher) Publish(ctx context.Context, event any) error {
	return d.dispatch(ctx, models.NullEntity, false, event)
}

// PublishTo dispatches event at an entity. Handlers whose component filter
// the entity does not satisfy are skipped.
func (d *Dispatcher) PublishTo(ctx context.Context, id models.EntityID, event any) error {
	return d.dispatch(ctx, id, true, event)
}

func (d *Dispatcher) dispatch(ctx context.Context, target models.EntityID, targeted bool, event any) error {
	meta, event, err := d.resolveEvent(event)
	if err != nil {
		return err
	}
	if targeted && (d.entities == nil || !d.entities.Alive(target)) {
		return fmt.Errorf("publish %s: %w: %v", meta.Name(), entity.ErrUnknownEntity, target)
	}

	depth := d.depth.Add(1)
	defer d.depth.Add(-1)
	if d.maxDepth > 0 && int(depth) > d.maxDepth {
		d.logger.Error("publish recursion limit reached",
			log.Stringer("event", meta.Name()), log.Int("max_depth", d.maxDepth))
		return fmt.Errorf("publish %s: %w (%d)", meta.Name(), ErrRecursionLimit, d.maxDepth)
	}

	order, err := d.order(meta)
	if err != nil {
		d.record(meta.Name(), 0, err, false, false, time.Now())
		d.logger.Error("dispatch failed", log.Stringer("event", meta.Name()), log.Error(err))
		return err
	}

	start := time.Now()
	for _, obs := range d.snapshotObservers() {
		obs.OnPublish(meta.Name(), target)
	}

	call := d.calls.Get()
	*call = Call{ctx: ctx, d: d, meta: meta, event: event, target: target, targeted: targeted}
	delivered := 0
	for _, h := range order {
		if !h.active.Load() {
			continue
		}
		if call.consumed && !h.RunWhenConsumed {
			continue
		}
		if targeted && len(h.Components) > 0 && !d.entities.HasAll(target, h.Components...) {
			continue
		}
		if err = ctx.Err(); err != nil {
			break
		}
		call.handler = h.ID
		delivered++
		if herr := invoke(h.Handler, call); herr != nil {
			err = &HandlerError{Event: meta.Name(), Handler: h.ID, Target: target, Err: herr}
			break
		}
	}
	consumed := call.consumed
	d.calls.Put(call)

	replicated := false
	if err == nil && d.sink != nil && meta.Network() {
		if err = d.replicate(ctx, meta, target, event); err == nil {
			replicated = true
		}
	}

	d.record(meta.Name(), delivered, err, consumed, replicated, start)
	if err != nil {
		d.logger.Error("dispatch failed",
			log.Stringer("event", meta.Name()),
			log.Stringer("target", target),
			log.Int("delivered", delivered),
			log.Error(err))
	}
	return err
}

// invoke runs a handler, turning a panic into ErrHandlerPanic.
func invoke(fn Handler, call *Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return fn(call)
}

func (d *Dispatcher) replicate(ctx context.Context, meta *registry.EventType, target models.EntityID, event any) error {
	env, err := replication.NewEnvelope(meta, target, event)
	if err == nil {
		err = d.sink.Replicate(ctx, env)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReplication, meta.Name(), err)
	}
	return nil
}

// resolveEvent accepts a registered event struct or a pointer to one and
// always hands handlers a pointer.
func (d *Dispatcher) resolveEvent(event any) (*registry.EventType, any, error) {
	if event == nil {
		return nil, nil, fmt.Errorf("%w: nil", ErrInvalidEvent)
	}
	rv := reflect.ValueOf(event)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil, fmt.Errorf("%w: nil %T", ErrInvalidEvent, event)
		}
	} else {
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		event = p.Interface()
	}
	meta, err := d.events.MetaOf(event)
	if err != nil {
		return nil, nil, err
	}
	return meta, event, nil
}

func (d *Dispatcher) record(event models.Name, delivered int, err error, consumed, replicated bool, start time.Time) {
	d.mu.Lock()
	d.metrics.Published++
	d.metrics.DeliveredHandlers += uint64(delivered)
	if err != nil {
		d.metrics.Errors++
	}
	if consumed {
		d.metrics.Consumed++
	}
	if replicated {
		d.metrics.Replicated++
	}
	d.mu.Unlock()

	if observers := d.snapshotObservers(); len(observers) > 0 {
		dur := time.Since(start).Microseconds()
		for _, obs := range observers {
			obs.OnDelivered(event, delivered, err, dur)
		}
	}
}

func (d *Dispatcher) AddObserver(obs Observer) {
	d.mu.Lock()
	d.observers[obs] = struct{}{}
	d.mu.Unlock()
}

func (d *Dispatcher) RemoveObserver(obs Observer) {
	d.mu.Lock()
	delete(d.observers, obs)
	d.mu.Unlock()
}

func (d *Dispatcher) snapshotObservers() []Observer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.observers) == 0 {
		return nil
	}
	out := make([]Observer, 0, len(d.observers))
	for obs := range d.observers {
		out = append(out, obs)
	}
	return out
}

// Metrics returns a snapshot of the counters.
func (d *Dispatcher) Metrics() Metrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metrics
}

// Typed adapts a handler taking the concrete event pointer.
func Typed[E any](fn func(call *Call, event *E) error) Handler {
	return func(call *Call) error {
		ev, ok := call.Event().(*E)
		if !ok {
			return fmt.Errorf("%w: got %T, want *%v", ErrInvalidEvent, call.Event(), reflect.TypeFor[E]())
		}
		return fn(call, ev)
	}
}

// EventOf returns the event type key for E.
func EventOf[E any]() reflect.Type {
	return reflect.TypeFor[E]()
}

type subscription struct {
	d *Dispatcher
	h *handler
}

func (s *subscription) ID() string         { return s.h.ID }
func (s *subscription) Event() models.Name { return s.h.set.meta.Name() }
func (s *subscription) IsActive() bool     { return s.h.active.Load() }

func (s *subscription) Cancel() error {
	s.d.cancel(s.h)
	return nil
}
