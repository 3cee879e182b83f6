package replication

import (
	"context"
	"errors"
	"sync"

	"github.com/zeusync/ecs/internal/core/observability/log"
	"github.com/zeusync/ecs/pkg/concurrent"
	"github.com/zeusync/ecs/pkg/sequence"
)

// Recorder keeps every envelope in memory.
type Recorder struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Replicate(_ context.Context, env Envelope) error {
	r.mu.Lock()
	r.envelopes = append(r.envelopes, env)
	r.mu.Unlock()
	return nil
}

// Envelopes returns a copy of what has been recorded so far.
func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

// Drain returns the recorded envelopes and forgets them.
func (r *Recorder) Drain() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.envelopes
	r.envelopes = nil
	return out
}

// Fanout delivers every envelope to all of its sinks concurrently. Every
// sink is attempted; failures are joined.
type Fanout struct {
	sinks  []Sink
	logger log.Log
}

func NewFanout(logger log.Log, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: log.OrNop(logger).With(log.String("component", "fanout"))}
}

func (f *Fanout) Replicate(ctx context.Context, env Envelope) error {
	err := concurrent.All(ctx, sequence.From(f.sinks), func(ctx context.Context, s Sink) error {
		return s.Replicate(ctx, env)
	})
	if err != nil {
		f.logger.Warn("fanout delivery failed", log.String("event", env.Event), log.Error(err))
	}
	return err
}

func (f *Fanout) Close() error {
	return closeAll(f.sinks)
}

// Partitioned routes each envelope to exactly one sink chosen by
// Envelope.Partition, keeping per-entity ordering within a partition.
type Partitioned struct {
	sinks []Sink
}

func NewPartitioned(sinks ...Sink) *Partitioned {
	return &Partitioned{sinks: sinks}
}

func (p *Partitioned) Replicate(ctx context.Context, env Envelope) error {
	if len(p.sinks) == 0 {
		return nil
	}
	return p.sinks[env.Partition(len(p.sinks))].Replicate(ctx, env)
}

func (p *Partitioned) Close() error {
	return closeAll(p.sinks)
}

func closeAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
