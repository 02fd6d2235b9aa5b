package ops

import (
	"context"
	"io"

	"github.com/chatterflow/chatterflow/engine/pipe"
)

func init() {
	RegisterSegment("flushEvery", newFlushEvery)
	RegisterSegment("bufferUntilFlush", newBufferUntilFlush)
}

// newFlushEvery injects a Flush marker after every n data items. It is
// metadata-aware so existing markers pass through untouched.
func newFlushEvery(params map[string]any) (pipe.Segment, error) {
	n, err := IntParam(params, "n", 1)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, pipe.CompileErrorf("flushEvery: n must be >= 1")
	}
	return pipe.NewMetaSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		count := 0
		pendingFlush := false
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			if pendingFlush {
				pendingFlush = false
				return pipe.Flush, nil
			}
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !pipe.IsMeta(item) {
				count++
				if count%n == 0 {
					pendingFlush = true
				}
			}
			return item, nil
		})
	}), nil
}

// newBufferUntilFlush holds data items and releases the batch when a Flush
// marker arrives (or the stream ends). The marker itself is forwarded after
// the batch it commits.
func newBufferUntilFlush(params map[string]any) (pipe.Segment, error) {
	return pipe.NewMetaSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		var held, queue []pipe.Item
		done := false
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			for {
				if len(queue) > 0 {
					item := queue[0]
					queue = queue[1:]
					return item, nil
				}
				if done {
					return nil, io.EOF
				}
				item, err := in.Next(ctx)
				if err == io.EOF {
					done = true
					queue = held
					held = nil
					continue
				}
				if err != nil {
					return nil, err
				}
				if pipe.IsFlush(item) {
					queue = append(held, item)
					held = nil
					continue
				}
				if pipe.IsMeta(item) {
					// Other metadata rides ahead of the held batch.
					return item, nil
				}
				held = append(held, item)
			}
		})
	}), nil
}
