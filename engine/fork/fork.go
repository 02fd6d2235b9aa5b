// Package fork implements in-pipeline parallel fan-out: a single input
// stream distributed across branch segments running concurrently, in
// broadcast or round-robin mode, over bounded per-branch queues.
package fork

import (
	"context"
	"fmt"
	"io"

	"github.com/chatterflow/chatterflow/engine/pipe"
	"github.com/chatterflow/chatterflow/pkg/metrics"
	"go.opentelemetry.io/otel"
)

var met = metrics.New()

// Fork metrics, shared by every fork in the process.
var (
	mItemsIn        = met.Counter("chatterflow_fork_items_in_total", "Items pulled from upstream by fork distributors")
	mItemsOut       = met.Counter("chatterflow_fork_items_out_total", "Items yielded by fork drivers across all branches")
	mBranchFailures = met.Counter("chatterflow_fork_branch_failures_total", "Fork branch workers terminated by an error")
)

// Metrics exposes the fork metric registry so hosts can mount it on their
// /metrics endpoint.
func Metrics() *metrics.Registry { return met }

// Mode selects how items are distributed across branches.
type Mode int

const (
	// Broadcast delivers every item to every branch.
	Broadcast Mode = iota
	// RoundRobin delivers item i to branch i mod N.
	RoundRobin
)

func (m Mode) String() string {
	if m == RoundRobin {
		return "round-robin"
	}
	return "broadcast"
}

// DefaultQueueCap is the per-branch input queue capacity.
const DefaultQueueCap = 100

// Segment fans a stream out to parallel branches. Within a branch, order is
// preserved; across branches it is not. A branch error cancels siblings and
// surfaces on the driver.
type Segment struct {
	pipe.Base
	branches []pipe.Segment
	mode     Mode
	queueCap int
}

// New creates a fork over the given branches.
func New(mode Mode, branches ...pipe.Segment) *Segment {
	return &Segment{branches: branches, mode: mode, queueCap: DefaultQueueCap}
}

// WithQueueCap overrides the per-branch queue capacity.
func (s *Segment) WithQueueCap(n int) *Segment {
	if n > 0 {
		s.queueCap = n
	}
	return s
}

// Branches exposes the wiring for introspection.
func (s *Segment) Branches() []pipe.Segment { return s.branches }

// AttachRuntime attaches the runtime to the fork and every branch.
func (s *Segment) AttachRuntime(rt *pipe.Runtime) {
	s.Base.AttachRuntime(rt)
	for _, b := range s.branches {
		b.AttachRuntime(rt)
	}
}

// MetadataAware is true: metadata items are distributed to branches like
// data, and each branch applies its own policy.
func (s *Segment) MetadataAware() bool { return true }

// event is what branch workers emit into the shared output queue.
type event struct {
	branch int
	item   pipe.Item
	err    error
	done   bool
}

// Transform starts the distributor and one worker per branch, yielding
// items as branches produce them.
func (s *Segment) Transform(ctx context.Context, in pipe.Iterator) pipe.Iterator {
	if len(s.branches) == 0 {
		return in
	}

	ctx, span := otel.Tracer("engine/fork").Start(ctx, "fork."+s.mode.String())
	ctx, cancel := context.WithCancel(ctx)

	n := len(s.branches)
	inputs := make([]chan pipe.Item, n)
	for i := range inputs {
		inputs[i] = make(chan pipe.Item, s.queueCap)
	}
	out := make(chan event, s.queueCap)

	// Distributor: pull upstream, hand off to branch queues.
	go func() {
		defer func() {
			for _, ch := range inputs {
				close(ch)
			}
		}()
		i := 0
		for {
			item, err := in.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case out <- event{branch: -1, err: err}:
				case <-ctx.Done():
				}
				return
			}
			mItemsIn.Inc()
			if s.mode == Broadcast {
				for _, ch := range inputs {
					select {
					case ch <- item:
					case <-ctx.Done():
						return
					}
				}
			} else {
				select {
				case inputs[i%n] <- item:
				case <-ctx.Done():
					return
				}
				i++
			}
		}
	}()

	// One worker per branch.
	for i, branch := range s.branches {
		go func(id int, seg pipe.Segment, input <-chan pipe.Item) {
			it := pipe.Apply(ctx, seg, chanIterator(input))
			for {
				item, err := it.Next(ctx)
				if err == io.EOF {
					select {
					case out <- event{branch: id, done: true}:
					case <-ctx.Done():
					}
					return
				}
				if err != nil {
					select {
					case out <- event{branch: id, err: err}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case out <- event{branch: id, item: item}:
				case <-ctx.Done():
					return
				}
			}
		}(i, branch, inputs[i])
	}

	// Driver: yield items until every branch signaled done.
	remaining := n
	finished := false
	rt := s.Runtime()
	return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
		if finished {
			return nil, io.EOF
		}
		for {
			select {
			case <-ctx.Done():
				finished = true
				cancel()
				span.End()
				return nil, ctx.Err()
			case ev := <-out:
				switch {
				case ev.err != nil:
					finished = true
					mBranchFailures.Inc()
					rt.Logger().Error("fork branch failed", "branch", ev.branch, "error", ev.err)
					cancel()
					span.RecordError(ev.err)
					span.End()
					return nil, fmt.Errorf("%w: branch %d: %v", pipe.ErrConcurrency, ev.branch, ev.err)
				case ev.done:
					remaining--
					if remaining == 0 {
						finished = true
						cancel()
						span.End()
						return nil, io.EOF
					}
				default:
					mItemsOut.Inc()
					return ev.item, nil
				}
			}
		}
	})
}

// chanIterator adapts a branch input channel to the Iterator contract.
func chanIterator(ch <-chan pipe.Item) pipe.Iterator {
	return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case item, ok := <-ch:
			if !ok {
				return nil, io.EOF
			}
			return item, nil
		}
	})
}
