// Package replication carries network-relevant events to remote peers once
// they have been dispatched locally.
package replication

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/zeusync/ecs/internal/core/models"
	"github.com/zeusync/ecs/internal/core/registry"
)

var (
	ErrClosed         = errors.New("sink closed")
	ErrSchemaMismatch = errors.New("event schema mismatch")
	ErrFrameTooLarge  = errors.New("frame too large")
)

// Sink receives events after local dispatch. Implementations decide their
// own delivery and ordering guarantees.
type Sink interface {
	Replicate(ctx context.Context, env Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, env Envelope) error

func (f SinkFunc) Replicate(ctx context.Context, env Envelope) error { return f(ctx, env) }

// Envelope is the wire form of a replicated event.
type Envelope struct {
	ID          uuid.UUID       `json:"id"`
	Event       string          `json:"event"`
	Fingerprint uint64          `json:"fingerprint"`
	Target      models.EntityID `json:"target,omitempty"`
	Payload     map[string]any  `json:"payload"`
	SentAt      time.Time       `json:"sent_at"`
}

// NewEnvelope encodes event, a pointer to the struct described by meta.
func NewEnvelope(meta *registry.EventType, target models.EntityID, event any) (Envelope, error) {
	payload, err := meta.Encode(event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:          uuid.New(),
		Event:       meta.Name().String(),
		Fingerprint: meta.Fingerprint(),
		Target:      target,
		Payload:     payload,
		SentAt:      time.Now().UTC(),
	}, nil
}

// Partition maps the envelope onto one of n partitions. Events aimed at the
// same entity always land on the same partition; untargeted events are
// spread by event name.
func (e Envelope) Partition(n int) int {
	if n <= 1 {
		return 0
	}
	var h uint64
	if e.Target.IsNull() {
		h = xxhash.Sum64String(e.Event)
	} else {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(e.Target))
		h = xxhash.Sum64(b[:])
	}
	return int(h % uint64(n))
}

// Decode rebuilds the event on the receiving side. The local registration
// must match the sender's fingerprint.
func Decode(events *registry.EventRegistry, env Envelope) (*registry.EventType, any, error) {
	name, err := models.ParseName(env.Event)
	if err != nil {
		return nil, nil, err
	}
	meta, err := events.LookupByName(name)
	if err != nil {
		return nil, nil, err
	}
	if meta.Fingerprint() != env.Fingerprint {
		return nil, nil, fmt.Errorf("%w: %s local %x remote %x", ErrSchemaMismatch, name, meta.Fingerprint(), env.Fingerprint)
	}
	ev, err := meta.Decode(env.Payload)
	if err != nil {
		return nil, nil, err
	}
	return meta, ev, nil
}
