package bus

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/ecs/internal/core/codec"
	"github.com/zeusync/ecs/internal/core/entity"
	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/registry"
	"github.com/zeusync/ecs/internal/core/replication"
)

type hit struct {
	Amount int
}

type ping struct {
	Hops int
}

type synced struct {
	Value string
}

type armor struct {
	Rating int
}

type hp struct {
	Current int
}

type fixture struct {
	events   *registry.EventRegistry
	entities *entity.Store
	d        *Dispatcher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	codecs := codec.NewRegistry(nil)
	components := registry.NewComponentRegistry(codecs, nil)
	events := registry.NewEventRegistry(codecs, nil)

	_, err := components.Register(models.NewName("test", "Armor"), reflect.TypeFor[armor]())
	require.NoError(t, err)
	_, err = components.Register(models.NewName("test", "HP"), reflect.TypeFor[hp]())
	require.NoError(t, err)
	_, err = events.Register(models.NewName("test", "Hit"), reflect.TypeFor[hit]())
	require.NoError(t, err)
	_, err = events.Register(models.NewName("test", "Ping"), reflect.TypeFor[ping]())
	require.NoError(t, err)
	_, err = events.Register(models.NewName("test", "Synced"), reflect.TypeFor[synced](), registry.WithNetwork(true))
	require.NoError(t, err)

	entities := entity.NewStore(components, nil)
	return &fixture{events: events, entities: entities, d: New(events, entities, nil, opts...)}
}

func (f *fixture) register(t *testing.T, reg Registration) Subscription {
	t.Helper()
	if reg.Event == nil {
		reg.Event = EventOf[hit]()
	}
	sub, err := f.d.Register(reg)
	require.NoError(t, err)
	return sub
}

// trace returns a handler appending its id to calls.
func trace(calls *[]string, id string) Handler {
	return func(*Call) error {
		*calls = append(*calls, id)
		return nil
	}
}

func TestOrderHonoursConstraintsDeterministically(t *testing.T) {
	f := newFixture(t)
	var calls []string
	f.register(t, Registration{ID: "H2", Handler: trace(&calls, "H2")})
	f.register(t, Registration{ID: "H3", Handler: trace(&calls, "H3")})
	f.register(t, Registration{ID: "H1", Before: []string{"H2"}, Handler: trace(&calls, "H1")})

	for range 5 {
		calls = nil
		require.NoError(t, f.d.Publish(context.Background(), &hit{}))
		assert.Equal(t, []string{"H3", "H1", "H2"}, calls)
	}

	order, err := f.d.Order(EventOf[hit]())
	require.NoError(t, err)
	assert.Equal(t, []string{"H3", "H1", "H2"}, order)
}

func TestOrderTable(t *testing.T) {
	tests := []struct {
		name string
		regs []Registration
		want []string
	}{
		{
			name: "registration order without constraints",
			regs: []Registration{{ID: "a"}, {ID: "b"}, {ID: "c"}},
			want: []string{"a", "b", "c"},
		},
		{
			name: "after pulls a handler behind",
			regs: []Registration{{ID: "a", After: []string{"c"}}, {ID: "b"}, {ID: "c"}},
			want: []string{"b", "c", "a"},
		},
		{
			name: "chain",
			regs: []Registration{{ID: "c", After: []string{"b"}}, {ID: "b", After: []string{"a"}}, {ID: "a"}},
			want: []string{"a", "b", "c"},
		},
		{
			name: "unknown references are ignored",
			regs: []Registration{{ID: "a", Before: []string{"ghost"}}, {ID: "b", After: []string{"phantom"}}},
			want: []string{"a", "b"},
		},
		{
			name: "diamond",
			regs: []Registration{
				{ID: "sink", After: []string{"left", "right"}},
				{ID: "right", After: []string{"src"}},
				{ID: "left", After: []string{"src"}},
				{ID: "src"},
			},
			want: []string{"src", "right", "left", "sink"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for _, reg := range tt.regs {
				reg.Handler = func(*Call) error { return nil }
				f.register(t, reg)
			}
			order, err := f.d.Order(EventOf[hit]())
			require.NoError(t, err)
			assert.Equal(t, tt.want, order)
		})
	}
}

func TestCycleSurfacesAtPublish(t *testing.T) {
	f := newFixture(t)
	var calls []string
	// registration itself never fails for cycles
	f.register(t, Registration{ID: "a", Before: []string{"b"}, Handler: trace(&calls, "a")})
	f.register(t, Registration{ID: "b", Before: []string{"a"}, Handler: trace(&calls, "b")})
	f.register(t, Registration{ID: "free", Handler: trace(&calls, "free")})

	err := f.d.Publish(context.Background(), &hit{})
	require.ErrorIs(t, err, ErrCyclicHandlerOrder)
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b"}, cycle.Handlers)
	assert.Empty(t, calls)

	_, err = f.d.Order(EventOf[hit]())
	assert.ErrorIs(t, err, ErrCyclicHandlerOrder)

	// other event types are unaffected
	assert.NoError(t, f.d.Publish(context.Background(), &ping{}))
}

func TestCancelInvalidatesOrder(t *testing.T) {
	f := newFixture(t)
	var calls []string
	f.register(t, Registration{ID: "a", Before: []string{"b"}, Handler: trace(&calls, "a")})
	b := f.register(t, Registration{ID: "b", Before: []string{"a"}, Handler: trace(&calls, "b")})
	require.Error(t, f.d.Publish(context.Background(), &hit{}))

	require.NoError(t, b.Cancel())
	require.NoError(t, b.Cancel())
	assert.False(t, b.IsActive())

	require.NoError(t, f.d.Publish(context.Background(), &hit{}))
	assert.Equal(t, []string{"a"}, calls)
	assert.Equal(t, 1, f.d.Handlers(EventOf[hit]()))

	// the id is free again
	f.register(t, Registration{ID: "b", After: []string{"a"}, Handler: trace(&calls, "b")})
	calls = nil
	require.NoError(t, f.d.Publish(context.Background(), &hit{}))
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	noop := func(*Call) error { return nil }
	f.register(t, Registration{ID: "taken", Handler: noop})

	tests := []struct {
		name string
		reg  Registration
		want error
	}{
		{name: "nil handler", reg: Registration{Event: EventOf[hit]()}, want: ErrInvalidHandler},
		{name: "unregistered event", reg: Registration{Event: reflect.TypeFor[armor](), Handler: noop}, want: registry.ErrNotFound},
		{name: "unregistered filter", reg: Registration{Event: EventOf[hit](), Components: []reflect.Type{reflect.TypeFor[ping]()}, Handler: noop}, want: registry.ErrNotFound},
		{name: "duplicate id", reg: Registration{ID: "taken", Event: EventOf[hit](), Handler: noop}, want: ErrDuplicateHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.d.Register(tt.reg)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	sub := f.register(t, Registration{Handler: noop})
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, "test:Hit", sub.Event().String())
}

func TestConsumptionStopsPropagation(t *testing.T) {
	f := newFixture(t)
	var calls []string
	f.register(t, Registration{ID: "H1", Handler: func(c *Call) error {
		calls = append(calls, "H1")
		c.Consume()
		return nil
	}})
	f.register(t, Registration{ID: "H2", After: []string{"H1"}, Handler: trace(&calls, "H2")})
	f.register(t, Registration{ID: "always", After: []string{"H2"}, RunWhenConsumed: true, Handler: func(c *Call) error {
		assert.True(t, c.Consumed())
		calls = append(calls, "always")
		return nil
	}})

	require.NoError(t, f.d.Publish(context.Background(), &hit{}))
	assert.Equal(t, []string{"H1", "always"}, calls)
	assert.Equal(t, uint64(1), f.d.Metrics().Consumed)
}

func TestComponentFilter(t *testing.T) {
	f := newFixture(t)
	var calls []string
	f.register(t, Registration{ID: "armored", Components: []reflect.Type{reflect.TypeFor[armor]()}, Handler: trace(&calls, "armored")})
	f.register(t, Registration{ID: "both", Components: []reflect.Type{reflect.TypeFor[armor](), reflect.TypeFor[hp]()}, Handler: trace(&calls, "both")})
	f.register(t, Registration{ID: "any", Handler: trace(&calls, "any")})

	plain := f.entities.Create()
	tank := f.entities.Create()
	require.NoError(t, f.entities.AddComponent(tank, &armor{Rating: 3}))

	require.NoError(t, f.d.PublishTo(context.Background(), plain, &hit{}))
	assert.Equal(t, []string{"any"}, calls)

	calls = nil
	require.NoError(t, f.d.PublishTo(context.Background(), tank, &hit{}))
	assert.Equal(t, []string{"armored", "any"}, calls)

	calls = nil
	require.NoError(t, f.d.Publish(context.Background(), &hit{}))
	assert.Equal(t, []string{"armored", "both", "any"}, calls)
}

func TestPublishToDestroyedEntity(t *testing.T) {
	f := newFixture(t)
	called := false
	f.register(t, Registration{Handler: func(*Call) error { called = true; return nil }})
	id := f.entities.Create()
	require.NoError(t, f.entities.Destroy(id))

	err := f.d.PublishTo(context.Background(), id, &hit{})

	assert.ErrorIs(t, err, entity.ErrUnknownEntity)
	assert.False(t, called)
}

func TestHandlerErrorAbortsDispatchButKeepsMutations(t *testing.T) {
	f := newFixture(t)
	id := f.entities.Create()
	require.NoError(t, f.entities.AddComponent(id, &hp{Current: 10}))
	boom := errors.New("boom")
	var calls []string

	f.register(t, Registration{ID: "damage", Handler: Typed(func(c *Call, ev *hit) error {
		h, err := entity.Get[hp](c.Entities(), c.Entity())
		if err != nil {
			return err
		}
		h.Current -= ev.Amount
		calls = append(calls, "damage")
		return nil
	})})
	f.register(t, Registration{ID: "explode", Handler: func(*Call) error { return boom }})
	f.register(t, Registration{ID: "never", Handler: trace(&calls, "never")})

	err := f.d.PublishTo(context.Background(), id, hit{Amount: 4})

	require.ErrorIs(t, err, boom)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "explode", herr.Handler)
	assert.Equal(t, id, herr.Target)
	assert.Equal(t, []string{"damage"}, calls)

	h, err := entity.Get[hp](f.entities, id)
	require.NoError(t, err)
	assert.Equal(t, 6, h.Current)
	assert.Equal(t, uint64(1), f.d.Metrics().Errors)
}

func TestHandlerPanicBecomesHandlerError(t *testing.T) {
	rec := replication.NewRecorder()
	f := newFixture(t, WithMaxDepth(2), WithSink(rec))
	var calls []string

	f.register(t, Registration{ID: "first", Event: EventOf[synced](), Handler: trace(&calls, "first")})
	crash := f.register(t, Registration{ID: "crash", Event: EventOf[synced](), Handler: func(*Call) error {
		var m map[string]int
		m["boom"] = 1
		return nil
	}})
	f.register(t, Registration{ID: "last", Event: EventOf[synced](), Handler: trace(&calls, "last")})

	var err error
	require.NotPanics(t, func() { err = f.d.Publish(context.Background(), &synced{}) })

	require.ErrorIs(t, err, ErrHandlerPanic)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "crash", herr.Handler)
	assert.Equal(t, []string{"first"}, calls)
	assert.Empty(t, rec.Envelopes())
	assert.Equal(t, uint64(1), f.d.Metrics().Errors)

	// the dispatcher stays usable and its depth counter was unwound
	require.NoError(t, crash.Cancel())
	calls = nil
	require.NoError(t, f.d.Publish(context.Background(), &synced{}))
	assert.Equal(t, []string{"first", "last"}, calls)
	assert.Len(t, rec.Envelopes(), 1)
}

func TestNestedPanicIsContainedInInnerPublish(t *testing.T) {
	f := newFixture(t)
	var inner error
	f.register(t, Registration{ID: "outer", Handler: func(c *Call) error {
		inner = c.Publish(&ping{})
		return nil
	}})
	f.register(t, Registration{ID: "bad-ping", Event: EventOf[ping](), Handler: func(*Call) error {
		panic("ping failed")
	}})

	require.NoError(t, f.d.Publish(context.Background(), &hit{}))
	assert.ErrorIs(t, inner, ErrHandlerPanic)
	assert.Contains(t, inner.Error(), "ping failed")
}

func TestResetDropsHandlersAndSink(t *testing.T) {
	rec := replication.NewRecorder()
	f := newFixture(t, WithSink(rec))
	var calls []string
	sub := f.register(t, Registration{ID: "a", Event: EventOf[synced](), Handler: trace(&calls, "a")})

	f.d.Reset()

	assert.False(t, sub.IsActive())
	assert.NoError(t, sub.Cancel())
	assert.Zero(t, f.d.Handlers(EventOf[synced]()))
	assert.Nil(t, f.d.Sink())
	assert.Zero(t, f.d.Metrics().SubscribersActive)

	require.NoError(t, f.d.Publish(context.Background(), &synced{}))
	assert.Empty(t, calls)
	assert.Empty(t, rec.Envelopes())

	// the same id can be registered again
	f.register(t, Registration{ID: "a", Event: EventOf[synced](), Handler: trace(&calls, "a")})
	require.NoError(t, f.d.Publish(context.Background(), &synced{}))
	assert.Equal(t, []string{"a"}, calls)
}

func TestReentrantPublishIsDepthFirst(t *testing.T) {
	f := newFixture(t)
	var calls []string
	f.register(t, Registration{ID: "outer-1", Handler: func(c *Call) error {
		calls = append(calls, "outer-1")
		return c.Publish(&ping{Hops: 1})
	}})
	f.register(t, Registration{ID: "outer-2", Handler: trace(&calls, "outer-2")})
	f.register(t, Registration{ID: "inner", Event: EventOf[ping](), Handler: Typed(func(c *Call, ev *ping) error {
		calls = append(calls, "inner")
		assert.Equal(t, 1, ev.Hops)
		assert.False(t, c.Targeted())
		return nil
	})})

	require.NoError(t, f.d.Publish(context.Background(), &hit{}))
	assert.Equal(t, []string{"outer-1", "inner", "outer-2"}, calls)
}

func TestNestedFailureOnlyReachesOuterIfReturned(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("inner failed")
	var nested error
	f.register(t, Registration{ID: "swallow", Handler: func(c *Call) error {
		nested = c.Publish(&ping{})
		return nil
	}})
	f.register(t, Registration{ID: "inner", Event: EventOf[ping](), Handler: func(*Call) error { return boom }})

	require.NoError(t, f.d.Publish(context.Background(), &hit{}))
	assert.ErrorIs(t, nested, boom)
}

func TestRecursionLimit(t *testing.T) {
	f := newFixture(t, WithMaxDepth(3))
	depth := 0
	f.register(t, Registration{ID: "loop", Event: EventOf[ping](), Handler: Typed(func(c *Call, ev *ping) error {
		depth = ev.Hops
		return c.Publish(&ping{Hops: ev.Hops + 1})
	})})

	err := f.d.Publish(context.Background(), &ping{Hops: 1})

	assert.ErrorIs(t, err, ErrRecursionLimit)
	assert.Equal(t, 3, depth)

	// the counter unwinds after a failed chain
	err = f.d.Publish(context.Background(), &hit{})
	assert.NoError(t, err)
}

func TestInvalidEvents(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.d.Publish(context.Background(), nil), ErrInvalidEvent)
	assert.ErrorIs(t, f.d.Publish(context.Background(), (*hit)(nil)), ErrInvalidEvent)
	assert.ErrorIs(t, f.d.Publish(context.Background(), &armor{}), registry.ErrNotFound)
}

func TestCancelledContextStopsDispatch(t *testing.T) {
	f := newFixture(t)
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	f.register(t, Registration{ID: "first", Handler: func(*Call) error {
		calls = append(calls, "first")
		cancel()
		return nil
	}})
	f.register(t, Registration{ID: "second", Handler: trace(&calls, "second")})

	err := f.d.Publish(ctx, &hit{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"first"}, calls)
}

func TestNetworkEventsReplicateAfterLocalDispatch(t *testing.T) {
	rec := replication.NewRecorder()
	f := newFixture(t, WithSink(rec))
	id := f.entities.Create()
	f.register(t, Registration{ID: "local", Event: EventOf[synced](), Handler: Typed(func(c *Call, ev *synced) error {
		assert.Empty(t, rec.Envelopes(), "local handlers run before replication")
		ev.Value += "!"
		c.Consume()
		return nil
	})})

	require.NoError(t, f.d.PublishTo(context.Background(), id, &synced{Value: "hello"}))
	require.NoError(t, f.d.Publish(context.Background(), &hit{}))

	envs := rec.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "test:Synced", envs[0].Event)
	assert.Equal(t, id, envs[0].Target)
	assert.Equal(t, "hello!", envs[0].Payload["Value"])
	assert.Equal(t, uint64(1), f.d.Metrics().Replicated)
}

func TestFailedDispatchIsNotReplicated(t *testing.T) {
	rec := replication.NewRecorder()
	f := newFixture(t, WithSink(rec))
	f.register(t, Registration{Event: EventOf[synced](), Handler: func(*Call) error { return errors.New("nope") }})

	require.Error(t, f.d.Publish(context.Background(), &synced{}))
	assert.Empty(t, rec.Envelopes())
}

func TestSinkFailureIsReported(t *testing.T) {
	boom := errors.New("link down")
	f := newFixture(t, WithSink(replication.SinkFunc(func(context.Context, replication.Envelope) error { return boom })))

	err := f.d.Publish(context.Background(), &synced{})

	assert.ErrorIs(t, err, ErrReplication)
	assert.ErrorIs(t, err, boom)
}

type countingObserver struct {
	published int
	delivered int
	lastErr   error
}

func (o *countingObserver) OnPublish(models.Name, models.EntityID) { o.published++ }

func (o *countingObserver) OnDelivered(_ models.Name, handlers int, err error, _ int64) {
	o.delivered += handlers
	o.lastErr = err
}

func TestObserversAndMetrics(t *testing.T) {
	f := newFixture(t)
	obs := &countingObserver{}
	f.d.AddObserver(obs)
	f.register(t, Registration{Handler: func(*Call) error { return nil }})
	f.register(t, Registration{Handler: func(*Call) error { return nil }})

	require.NoError(t, f.d.Publish(context.Background(), &hit{}))
	require.NoError(t, f.d.Publish(context.Background(), &hit{}))

	assert.Equal(t, 2, obs.published)
	assert.Equal(t, 4, obs.delivered)
	assert.NoError(t, obs.lastErr)

	m := f.d.Metrics()
	assert.Equal(t, uint64(2), m.Published)
	assert.Equal(t, uint64(4), m.DeliveredHandlers)
	assert.Equal(t, uint64(2), m.SubscribersActive)

	f.d.RemoveObserver(obs)
	require.NoError(t, f.d.Publish(context.Background(), &hit{}))
	assert.Equal(t, 2, obs.published)
}

func TestLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.InstallLifecycle(context.Background())
	require.NoError(t, err)

	var calls []string
	f.register(t, Registration{Event: EventOf[OnAddedComponent](), Handler: Typed(func(c *Call, ev *OnAddedComponent) error {
		calls = append(calls, "added "+ev.Type.Local)
		return nil
	})})
	f.register(t, Registration{
		Event:      EventOf[BeforeRemoveComponent](),
		Components: []reflect.Type{reflect.TypeFor[armor]()},
		Handler: Typed(func(c *Call, ev *BeforeRemoveComponent) error {
			assert.True(t, entity.Has[armor](c.Entities(), c.Entity()), "still attached")
			calls = append(calls, "removing "+ev.Type.Local)
			return nil
		}),
	})
	f.register(t, Registration{Event: EventOf[BeforeDestroyEntity](), Handler: func(c *Call) error {
		assert.True(t, c.Entities().Alive(c.Entity()))
		calls = append(calls, "destroying")
		return nil
	}})

	id := f.entities.Create()
	require.NoError(t, f.entities.AddComponent(id, &armor{}))
	require.NoError(t, f.entities.AddComponent(id, &hp{}))
	_, err = f.entities.RemoveComponent(id, reflect.TypeFor[hp]())
	require.NoError(t, err)
	_, err = f.entities.RemoveComponent(id, reflect.TypeFor[armor]())
	require.NoError(t, err)
	require.NoError(t, f.entities.Destroy(id))

	// the filter looks at the entity, so removing HP still qualifies while Armor is attached
	assert.Equal(t, []string{"added Armor", "added HP", "removing HP", "removing Armor", "destroying"}, calls)
}

func TestLifecycleEventsRegisterInFixedOrder(t *testing.T) {
	for range 5 {
		events := registry.NewEventRegistry(codec.NewRegistry(nil), nil)
		require.NoError(t, RegisterLifecycleEvents(events))

		var names []string
		for _, ev := range events.All() {
			names = append(names, ev.Name().String())
		}
		assert.Equal(t, []string{
			"engine:OnAddedComponent",
			"engine:BeforeRemoveComponent",
			"engine:BeforeDestroyEntity",
		}, names)
	}
}

func TestLifecycleHandlerErrorReachesMutator(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.InstallLifecycle(context.Background())
	require.NoError(t, err)
	boom := errors.New("veto")
	f.register(t, Registration{Event: EventOf[OnAddedComponent](), Handler: func(*Call) error { return boom }})

	id := f.entities.Create()
	err = f.entities.AddComponent(id, &armor{})

	assert.ErrorIs(t, err, entity.ErrListener)
	assert.ErrorIs(t, err, boom)
	assert.True(t, entity.Has[armor](f.entities, id))
}
