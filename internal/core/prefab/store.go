// Package prefab stores named component templates and instantiates them into
// entities.
package prefab

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/zeusync/ecs/internal/core/entity"
	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/observability/log"
	"github.com/zeusync/ecs/internal/core/registry"
)

type prototype struct {
	meta  *registry.ComponentType
	value any
}

type definition struct {
	name       string
	parent     string
	prototypes []prototype
}

// Store owns prefab definitions. Definitions are immutable once stored; the
// store copies prototypes on the way in and on the way out.
type Store struct {
	mu         sync.RWMutex
	components *registry.ComponentRegistry
	logger     log.Log
	defs       map[string]*definition
	order      []string
}

func NewStore(components *registry.ComponentRegistry, logger log.Log) *Store {
	return &Store{
		components: components,
		logger:     log.OrNop(logger).With(log.String("component", "prefab_store")),
		defs:       make(map[string]*definition),
	}
}

// Define stores a prefab. parent may be empty, or name a prefab that is
// defined later; a parent chain that leads back to name is rejected with
// ErrCyclicParent.
func (s *Store) Define(name string, prototypes []any, parent string) error {
	name, parent = strings.TrimSpace(name), strings.TrimSpace(parent)
	if name == "" {
		return fmt.Errorf("define prefab: %w: empty name", ErrInvalidPrefab)
	}
	if parent == name {
		return fmt.Errorf("define prefab %q: %w: parent is itself", name, ErrCyclicParent)
	}

	def := &definition{name: name, parent: parent, prototypes: make([]prototype, 0, len(prototypes))}
	seen := make(map[reflect.Type]struct{}, len(prototypes))
	for i, p := range prototypes {
		if p == nil {
			return fmt.Errorf("define prefab %q: %w: prototype %d is nil", name, ErrInvalidPrefab, i)
		}
		meta, err := s.components.MetaOf(p)
		if err != nil {
			return fmt.Errorf("define prefab %q: %w", name, err)
		}
		if _, dup := seen[meta.Type()]; dup {
			return fmt.Errorf("define prefab %q: %w: %s", name, ErrDuplicateProto, meta.Name())
		}
		seen[meta.Type()] = struct{}{}
		cp, err := meta.Copy(p)
		if err != nil {
			return fmt.Errorf("define prefab %q: %w", name, err)
		}
		def.prototypes = append(def.prototypes, prototype{meta: meta, value: cp})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[name]; exists {
		return fmt.Errorf("define prefab %q: %w", name, ErrDuplicateName)
	}
	for cur, hops := parent, 0; cur != ""; hops++ {
		if cur == name {
			return fmt.Errorf("define prefab %q: %w: via %q", name, ErrCyclicParent, parent)
		}
		next, ok := s.defs[cur]
		if !ok || hops > len(s.defs) {
			break
		}
		cur = next.parent
	}

	s.defs[name] = def
	s.order = append(s.order, name)
	s.logger.Debug("prefab defined",
		log.String("prefab", name),
		log.String("parent", parent),
		log.Int("prototypes", len(def.prototypes)))
	return nil
}

// Instantiate creates an entity carrying a fresh copy of every resolved
// prototype. Nothing is left behind when it fails.
func (s *Store) Instantiate(name string, entities *entity.Store) (models.EntityID, error) {
	resolved, err := s.resolve(name)
	if err != nil {
		return models.NullEntity, err
	}

	id := entities.Create()
	for _, p := range resolved {
		cp, err := p.meta.Copy(p.value)
		if err == nil {
			err = entities.AddComponent(id, cp)
		}
		if err != nil && !errors.Is(err, entity.ErrListener) {
			destroyErr := entities.Destroy(id)
			if errors.Is(destroyErr, entity.ErrUnknownEntity) {
				destroyErr = nil
			}
			return models.NullEntity, errors.Join(
				fmt.Errorf("instantiate prefab %q: %s: %w", name, p.meta.Name(), err), destroyErr)
		}
		if err != nil {
			s.logger.Warn("listener failed during instantiation",
				log.String("prefab", name), log.Stringer("entity", id), log.Error(err))
		}
	}
	return id, nil
}

// Prototypes returns copies of the resolved prototype set, ordered by first
// appearance from the root ancestor down to name.
func (s *Store) Prototypes(name string) ([]any, error) {
	resolved, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(resolved))
	for _, p := range resolved {
		cp, err := p.meta.Copy(p.value)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Names lists the defined prefabs in definition order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Parent returns the declared parent, which may not be defined yet.
func (s *Store) Parent(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrefab, name)
	}
	return def.parent, nil
}

func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.defs[name]
	return ok
}

// resolve walks the parent chain and lets each descendant replace its
// ancestors' prototype of the same type.
func (s *Store) resolve(name string) ([]prototype, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []*definition
	visited := make(map[string]struct{})
	for cur := name; cur != ""; {
		def, ok := s.defs[cur]
		if !ok {
			if cur == name {
				return nil, fmt.Errorf("%w: %q", ErrUnknownPrefab, name)
			}
			return nil, fmt.Errorf("%w: %q has undefined ancestor %q", ErrUnknownPrefab, name, cur)
		}
		if _, loop := visited[cur]; loop {
			return nil, fmt.Errorf("%w: %q", ErrCyclicParent, name)
		}
		visited[cur] = struct{}{}
		chain = append(chain, def)
		cur = def.parent
	}

	position := make(map[reflect.Type]int)
	var out []prototype
	for i := len(chain) - 1; i >= 0; i-- {
		for _, p := range chain[i].prototypes {
			if at, ok := position[p.meta.Type()]; ok {
				out[at] = p
				continue
			}
			position[p.meta.Type()] = len(out)
			out = append(out, p)
		}
	}
	return out, nil
}

// Undefined lists parents that are referenced but not defined, sorted.
func (s *Store) Undefined() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	missing := make(map[string]struct{})
	for _, def := range s.defs {
		if def.parent == "" {
			continue
		}
		if _, ok := s.defs[def.parent]; !ok {
			missing[def.parent] = struct{}{}
		}
	}
	out := make([]string, 0, len(missing))
	for name := range missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
