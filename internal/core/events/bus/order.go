package bus

import (
	"slices"
	"sync/atomic"

	"github.com/zeusync/ecs/internal/core/observability/log"
	"github.com/zeusync/ecs/internal/core/registry"
	"github.com/zeusync/ecs/pkg/sequence"
)

type handler struct {
	Registration
	seq    uint64
	active atomic.Bool
	set    *handlerSet
}

// handlerSet holds the handlers of one event type. The linearised order is
// cached until the next registration or cancellation.
type handlerSet struct {
	meta     *registry.EventType
	handlers []*handler // registration order

	ordered bool
	order   []*handler
	err     error
}

func (s *handlerSet) invalidate() {
	s.ordered = false
	s.order = nil
	s.err = nil
}

func (s *handlerSet) find(id string) *handler {
	for _, h := range s.handlers {
		if h.ID == id {
			return h
		}
	}
	return nil
}

func (s *handlerSet) remove(h *handler) {
	s.handlers = slices.DeleteFunc(s.handlers, func(x *handler) bool { return x == h })
	s.invalidate()
}

// linearize topologically sorts the handlers (Kahn's algorithm). Among
// handlers that are ready at the same time the earliest registration runs
// first, so the order only changes when the registrations do.
func (s *handlerSet) linearize(logger log.Log) ([]*handler, error) {
	if s.ordered {
		return s.order, s.err
	}

	byID := make(map[string]*handler, len(s.handlers))
	for _, h := range s.handlers {
		byID[h.ID] = h
	}
	indegree := make(map[*handler]int, len(s.handlers))
	next := make(map[*handler][]*handler, len(s.handlers))
	edge := func(from, to *handler) {
		next[from] = append(next[from], to)
		indegree[to]++
	}
	unknown := func(h *handler, ref string) {
		logger.Warn("ordering constraint names unknown handler",
			log.Stringer("event", s.meta.Name()),
			log.String("handler", h.ID),
			log.String("ref", ref))
	}
	for _, h := range s.handlers {
		for _, ref := range h.Before {
			if other, ok := byID[ref]; ok {
				edge(h, other)
			} else {
				unknown(h, ref)
			}
		}
		for _, ref := range h.After {
			if other, ok := byID[ref]; ok {
				edge(other, h)
			} else {
				unknown(h, ref)
			}
		}
	}

	ready := sequence.NewPriorityQueue(func(a, b *handler) bool { return a.seq < b.seq })
	for _, h := range s.handlers {
		if indegree[h] == 0 {
			ready.Enqueue(h)
		}
	}
	order := make([]*handler, 0, len(s.handlers))
	for {
		h, ok := ready.Dequeue()
		if !ok {
			break
		}
		order = append(order, h)
		for _, n := range next[h] {
			indegree[n]--
			if indegree[n] == 0 {
				ready.Enqueue(n)
			}
		}
	}

	s.ordered = true
	if len(order) < len(s.handlers) {
		// whatever is left sits on, or behind, a cycle
		stuck := make([]string, 0, len(s.handlers)-len(order))
		for _, h := range s.handlers {
			if indegree[h] > 0 {
				stuck = append(stuck, h.ID)
			}
		}
		s.order, s.err = nil, &CycleError{Event: s.meta.Name(), Handlers: stuck}
		return nil, s.err
	}
	s.order, s.err = order, nil
	return order, nil
}
