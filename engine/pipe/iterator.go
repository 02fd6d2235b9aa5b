package pipe

import (
	"context"
	"io"
)

// Iterator is a pull-based lazy stream of items. Next returns io.EOF when
// the stream is exhausted; any other error terminates the stream.
type Iterator interface {
	Next(ctx context.Context) (Item, error)
}

// IteratorFunc adapts a function to the Iterator interface.
type IteratorFunc func(ctx context.Context) (Item, error)

func (f IteratorFunc) Next(ctx context.Context) (Item, error) { return f(ctx) }

// Empty returns an iterator that is immediately exhausted.
func Empty() Iterator {
	return IteratorFunc(func(context.Context) (Item, error) {
		return nil, io.EOF
	})
}

// FromSlice returns an iterator over a fixed slice.
func FromSlice(items []Item) Iterator {
	i := 0
	return IteratorFunc(func(ctx context.Context) (Item, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(items) {
			return nil, io.EOF
		}
		it := items[i]
		i++
		return it, nil
	})
}

// Once returns an iterator yielding a single item.
func Once(item Item) Iterator {
	return FromSlice([]Item{item})
}

// Collect drains an iterator into a slice.
func Collect(ctx context.Context, it Iterator) ([]Item, error) {
	var out []Item
	for {
		item, err := it.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
}

// Drain exhausts an iterator, discarding items.
func Drain(ctx context.Context, it Iterator) error {
	for {
		if _, err := it.Next(ctx); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// lazyIterator defers construction of the underlying iterator until the
// first Next call. Script and Loop use it so that earlier stages do not run
// before the caller starts pulling.
type lazyIterator struct {
	init func(ctx context.Context) (Iterator, error)
	it   Iterator
	err  error
}

func (l *lazyIterator) Next(ctx context.Context) (Item, error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.it == nil {
		it, err := l.init(ctx)
		if err != nil {
			l.err = err
			return nil, err
		}
		l.it = it
	}
	return l.it.Next(ctx)
}
