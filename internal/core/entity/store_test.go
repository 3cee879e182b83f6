package entity

import (
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/ecs/internal/core/codec"
	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/registry"
)

type position struct {
	X, Y float64
}

type health struct {
	Current, Max int
}

type unregistered struct {
	Value int
}

func newStore(t *testing.T) *Store {
	t.Helper()
	components := registry.NewComponentRegistry(codec.NewRegistry(nil), nil)
	_, err := components.Register(models.NewName("test", "Position"), reflect.TypeFor[position]())
	require.NoError(t, err)
	_, err = components.Register(models.NewName("test", "Health"), reflect.TypeFor[health]())
	require.NoError(t, err)
	return NewStore(components, nil)
}

func TestCreateIssuesDistinctLiveIDs(t *testing.T) {
	s := newStore(t)

	a := s.Create()
	b := s.Create()

	assert.NotEqual(t, a, b)
	assert.False(t, a.IsNull())
	assert.True(t, s.Alive(a))
	assert.True(t, s.Alive(b))
	assert.Equal(t, 2, s.Count())
	assert.False(t, s.Alive(models.NullEntity))
}

func TestDestroyInvalidatesID(t *testing.T) {
	s := newStore(t)
	id := s.Create()
	require.NoError(t, s.AddComponent(id, &position{X: 1}))

	require.NoError(t, s.Destroy(id))

	assert.False(t, s.Alive(id))
	assert.Zero(t, s.Count())
	assert.ErrorIs(t, s.Destroy(id), ErrUnknownEntity)
	assert.ErrorIs(t, s.AddComponent(id, &health{}), ErrUnknownEntity)
	_, err := s.GetComponent(id, TypeOf[position]())
	assert.ErrorIs(t, err, ErrUnknownEntity)
	_, err = s.RemoveComponent(id, TypeOf[position]())
	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.False(t, s.HasComponent(id, TypeOf[position]()))
}

func TestRecycledSlotGetsNewGeneration(t *testing.T) {
	s := newStore(t)
	old := s.Create()
	require.NoError(t, s.Destroy(old))

	fresh := s.Create()

	assert.Equal(t, old.Index(), fresh.Index())
	assert.Equal(t, old.Generation()+1, fresh.Generation())
	assert.False(t, s.Alive(old))
	assert.True(t, s.Alive(fresh))
}

func TestExhaustedSlotIsRetired(t *testing.T) {
	s := newStore(t)
	id := s.Create()
	s.slots[id.Index()].generation = math.MaxUint32
	id = models.NewEntityID(id.Index(), math.MaxUint32)

	require.NoError(t, s.Destroy(id))
	next := s.Create()

	assert.NotEqual(t, id.Index(), next.Index())
}

func TestComponentLifecycle(t *testing.T) {
	s := newStore(t)
	id := s.Create()
	pos := &position{X: 3, Y: 4}

	require.NoError(t, s.AddComponent(id, pos))
	assert.True(t, s.HasComponent(id, TypeOf[position]()))
	assert.True(t, s.HasComponent(id, reflect.TypeFor[*position]()))
	assert.False(t, s.HasComponent(id, TypeOf[health]()))

	got, err := s.GetComponent(id, TypeOf[position]())
	require.NoError(t, err)
	assert.Same(t, pos, got)

	err = s.AddComponent(id, &position{})
	assert.ErrorIs(t, err, ErrDuplicateComponent)

	removed, err := s.RemoveComponent(id, TypeOf[position]())
	require.NoError(t, err)
	assert.Same(t, pos, removed)
	assert.False(t, s.HasComponent(id, TypeOf[position]()))

	_, err = s.RemoveComponent(id, TypeOf[position]())
	assert.ErrorIs(t, err, ErrNotPresent)
	_, err = s.GetComponent(id, TypeOf[position]())
	assert.ErrorIs(t, err, ErrNotPresent)
}

func TestAddComponentRejectsInvalidValues(t *testing.T) {
	s := newStore(t)
	id := s.Create()

	tests := []struct {
		name  string
		value any
		want  error
	}{
		{name: "nil", value: nil, want: ErrInvalidComponent},
		{name: "struct value", value: position{}, want: ErrInvalidComponent},
		{name: "nil pointer", value: (*position)(nil), want: ErrInvalidComponent},
		{name: "pointer to scalar", value: new(int), want: ErrInvalidComponent},
		{name: "unregistered", value: &unregistered{}, want: registry.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.AddComponent(id, tt.value), tt.want)
		})
	}
}

func TestDeadEntityIsReportedBeforeComponentType(t *testing.T) {
	s := newStore(t)
	id := s.Create()
	require.NoError(t, s.Destroy(id))

	tests := []struct {
		name  string
		value any
	}{
		{name: "unregistered", value: &unregistered{}},
		{name: "nil", value: nil},
		{name: "registered", value: &health{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.AddComponent(id, tt.value), ErrUnknownEntity)
			assert.ErrorIs(t, s.ReplaceComponent(id, tt.value), ErrUnknownEntity)
			assert.ErrorIs(t, s.AddComponent(models.NullEntity, tt.value), ErrUnknownEntity)
		})
	}
}

func TestReplaceComponent(t *testing.T) {
	s := newStore(t)
	id := s.Create()

	require.NoError(t, s.ReplaceComponent(id, &health{Current: 5}))
	require.NoError(t, s.ReplaceComponent(id, &health{Current: 9}))

	h, err := Get[health](s, id)
	require.NoError(t, err)
	assert.Equal(t, 9, h.Current)
}

func TestGenericHelpers(t *testing.T) {
	s := newStore(t)
	id := s.Create()

	require.NoError(t, Add(s, id, &health{Current: 10, Max: 10}))
	assert.True(t, Has[health](s, id))
	assert.False(t, Has[position](s, id))

	h, err := Remove[health](s, id)
	require.NoError(t, err)
	assert.Equal(t, 10, h.Max)

	_, err = Remove[health](s, id)
	assert.ErrorIs(t, err, ErrNotPresent)
	_, err = Get[position](s, id)
	assert.ErrorIs(t, err, ErrNotPresent)
}

func TestComponentsOfIsSortedByName(t *testing.T) {
	s := newStore(t)
	id := s.Create()
	require.NoError(t, s.AddComponent(id, &position{}))
	require.NoError(t, s.AddComponent(id, &health{}))

	components, err := s.ComponentsOf(id)
	require.NoError(t, err)
	require.Len(t, components, 2)
	assert.IsType(t, &health{}, components[0])
	assert.IsType(t, &position{}, components[1])
}

func TestQueryFiltersAndOrders(t *testing.T) {
	s := newStore(t)
	a := s.Create()
	b := s.Create()
	c := s.Create()
	require.NoError(t, s.AddComponent(a, &position{}))
	require.NoError(t, s.AddComponent(c, &position{}))
	require.NoError(t, s.AddComponent(c, &health{}))
	require.NoError(t, s.AddComponent(b, &health{}))

	assert.Equal(t, []models.EntityID{a, c}, s.Query(TypeOf[position]()).Collect())
	assert.Equal(t, []models.EntityID{c}, s.Query(TypeOf[position](), TypeOf[health]()).Collect())
	assert.Equal(t, 3, s.Query().Count())

	// destroying while iterating is allowed
	for id := range s.Query(TypeOf[health]()).Seq() {
		require.NoError(t, s.Destroy(id))
	}
	assert.Equal(t, []models.EntityID{a}, s.Query().Collect())
}

func TestSnapshotEncodesComponents(t *testing.T) {
	s := newStore(t)
	id := s.Create()
	require.NoError(t, s.AddComponent(id, &position{X: 1.5, Y: -2}))

	snap, err := s.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]any{
		"test:Position": {"X": 1.5, "Y": -2.0},
	}, snap)
}

func TestClearSkipsListeners(t *testing.T) {
	s := newStore(t)
	rec := &recordingListener{}
	s.AddListener(rec)
	a := s.Create()
	s.Create()

	s.Clear()

	assert.Zero(t, s.Count())
	assert.False(t, s.Alive(a))
	assert.Empty(t, rec.calls)
}

type recordingListener struct {
	NopListener
	calls []string
	fail  error
}

func (r *recordingListener) AfterComponentAdded(_ models.EntityID, c any) error {
	r.calls = append(r.calls, "added "+reflect.TypeOf(c).Elem().Name())
	return r.fail
}

func (r *recordingListener) AfterComponentChanged(_ models.EntityID, c any) error {
	r.calls = append(r.calls, "changed "+reflect.TypeOf(c).Elem().Name())
	return r.fail
}

func (r *recordingListener) BeforeComponentRemoved(_ models.EntityID, c any) error {
	r.calls = append(r.calls, "removing "+reflect.TypeOf(c).Elem().Name())
	return r.fail
}

func (r *recordingListener) BeforeEntityDestroyed(models.EntityID) error {
	r.calls = append(r.calls, "destroying")
	return r.fail
}

func TestListenerNotifications(t *testing.T) {
	s := newStore(t)
	rec := &recordingListener{}
	s.AddListener(rec)

	id := s.Create()
	require.NoError(t, s.AddComponent(id, &position{}))
	require.NoError(t, s.ReplaceComponent(id, &position{X: 1}))
	require.NoError(t, s.ReplaceComponent(id, &health{}))
	_, err := s.RemoveComponent(id, TypeOf[health]())
	require.NoError(t, err)
	require.NoError(t, s.Destroy(id))

	assert.Equal(t, []string{
		"added position",
		"changed position",
		"added health",
		"removing health",
		"destroying",
	}, rec.calls)

	s.RemoveListener(rec)
	s.Create()
	assert.Len(t, rec.calls, 5)
}

func TestListenerErrorsDoNotRollBack(t *testing.T) {
	s := newStore(t)
	rec := &recordingListener{fail: assert.AnError}
	s.AddListener(rec)
	id := s.Create()

	err := s.AddComponent(id, &position{})
	assert.ErrorIs(t, err, ErrListener)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, s.HasComponent(id, TypeOf[position]()))

	err = s.Destroy(id)
	assert.ErrorIs(t, err, ErrListener)
	assert.False(t, s.Alive(id))
}

type destroyOnRemove struct {
	NopListener
	store *Store
}

func (d *destroyOnRemove) BeforeComponentRemoved(id models.EntityID, _ any) error {
	return d.store.Destroy(id)
}

func TestListenerMayDestroyDuringRemoval(t *testing.T) {
	s := newStore(t)
	s.AddListener(&destroyOnRemove{store: s})
	id := s.Create()
	require.NoError(t, s.AddComponent(id, &position{}))

	removed, err := s.RemoveComponent(id, TypeOf[position]())

	require.NoError(t, err)
	assert.NotNil(t, removed)
	assert.False(t, s.Alive(id))
	assert.Zero(t, s.Count())
}
