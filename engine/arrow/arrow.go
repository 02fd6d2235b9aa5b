// Package arrow implements the named inter-pipeline broadcast channel: any
// number of producer pipelines feed a named queue, and every item is
// delivered to every registered consumer. A slow consumer applies
// backpressure to all producers; that trade keeps fan-out lossless.
package arrow

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/chatterflow/chatterflow/engine/pipe"
)

// State is the queue lifecycle. Registration is only legal while Unstarted.
type State int32

const (
	Unstarted State = iota
	Started
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Started:
		return "started"
	case Draining:
		return "draining"
	default:
		return "closed"
	}
}

// DefaultConsumerCap is the per-consumer queue capacity.
const DefaultConsumerCap = 32

// event carries either an item or a terminal producer error.
type event struct {
	item pipe.Item
	err  error
}

// consumer is one registered consumer's bounded queue.
type consumer struct {
	ch chan event
}

// Queue is a named multi-producer/multi-consumer broadcast channel.
type Queue struct {
	name string
	cap  int

	mu        sync.Mutex
	state     atomic.Int32
	producers []func(ctx context.Context) pipe.Iterator
	consumers []*consumer

	wg           sync.WaitGroup
	consumersEnd atomic.Int32
}

// New creates a queue with the given per-consumer capacity (0 uses the
// default).
func New(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultConsumerCap
	}
	return &Queue{name: name, cap: capacity}
}

// Name returns the fork name this queue serves.
func (q *Queue) Name() string { return q.name }

// State returns the current lifecycle state.
func (q *Queue) State() State { return State(q.state.Load()) }

// RegisterProducer registers a generator whose iterator will be drained in
// a background worker once the queue starts.
func (q *Queue) RegisterProducer(gen func(ctx context.Context) pipe.Iterator) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.State() != Unstarted {
		return fmt.Errorf("%w: fork %q: producer registration after start", pipe.ErrConcurrency, q.name)
	}
	q.producers = append(q.producers, gen)
	return nil
}

// RegisterConsumer registers a consumer and returns its blocking iterator.
// The iterator ends when every producer has completed.
func (q *Queue) RegisterConsumer() (pipe.Iterator, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.State() != Unstarted {
		return nil, fmt.Errorf("%w: fork %q: consumer registration after start", pipe.ErrConcurrency, q.name)
	}
	c := &consumer{ch: make(chan event, q.cap)}
	q.consumers = append(q.consumers, c)

	done := false
	it := pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
		if done {
			return nil, io.EOF
		}
		select {
		case <-ctx.Done():
			done = true
			return nil, ctx.Err()
		case ev, ok := <-c.ch:
			if !ok {
				done = true
				if int(q.consumersEnd.Add(1)) == len(q.consumers) {
					q.state.Store(int32(Closed))
				}
				return nil, io.EOF
			}
			if ev.err != nil {
				done = true
				return nil, ev.err
			}
			return ev.item, nil
		}
	})
	return it, nil
}

// Start transitions to Started and spawns one worker per producer. When the
// last producer completes the queue moves to Draining and consumer channels
// are closed; once every consumer has observed end-of-stream the queue is
// Closed.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.state.CompareAndSwap(int32(Unstarted), int32(Started)) {
		return fmt.Errorf("%w: fork %q: started twice", pipe.ErrConcurrency, q.name)
	}

	for _, gen := range q.producers {
		q.wg.Add(1)
		go func(gen func(ctx context.Context) pipe.Iterator) {
			defer q.wg.Done()
			it := gen(ctx)
			for {
				item, err := it.Next(ctx)
				if err == io.EOF {
					return
				}
				if err != nil {
					q.broadcast(ctx, event{err: fmt.Errorf("%w: fork %q producer: %v", pipe.ErrConcurrency, q.name, err)})
					return
				}
				if !q.broadcast(ctx, event{item: item}) {
					return
				}
			}
		}(gen)
	}

	go func() {
		q.wg.Wait()
		q.state.Store(int32(Draining))
		for _, c := range q.consumers {
			close(c.ch)
		}
		if len(q.consumers) == 0 {
			q.state.Store(int32(Closed))
		}
	}()
	return nil
}

// broadcast delivers an event to every consumer, blocking until each has
// accepted it. Returns false when the context is cancelled.
func (q *Queue) broadcast(ctx context.Context, ev event) bool {
	for _, c := range q.consumers {
		select {
		case c.ch <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Wait blocks until all producers have completed.
func (q *Queue) Wait() { q.wg.Wait() }
