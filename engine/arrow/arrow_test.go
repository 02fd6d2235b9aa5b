package arrow

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/chatterflow/chatterflow/engine/pipe"
)

func producerOf(items ...pipe.Item) func(ctx context.Context) pipe.Iterator {
	return func(ctx context.Context) pipe.Iterator {
		return pipe.FromSlice(items)
	}
}

func TestSingleProducerSingleConsumer(t *testing.T) {
	q := New("bus", 0)
	it, err := q.RegisterConsumer()
	if err != nil {
		t.Fatal(err)
	}
	if err := q.RegisterProducer(producerOf("x", "y")); err != nil {
		t.Fatal(err)
	}
	if err := q.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	out, err := pipe.Collect(context.Background(), it)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, []pipe.Item{"x", "y"}) {
		t.Fatalf("got %v", out)
	}
	q.Wait()
	if q.State() != Closed {
		t.Fatalf("state %v after drain", q.State())
	}
}

func TestBroadcastToAllConsumers(t *testing.T) {
	q := New("bus", 0)
	c1, _ := q.RegisterConsumer()
	c2, _ := q.RegisterConsumer()
	if err := q.RegisterProducer(producerOf(1, 2, 3)); err != nil {
		t.Fatal(err)
	}
	if err := q.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	type result struct {
		items []pipe.Item
		err   error
	}
	results := make(chan result, 2)
	for _, c := range []pipe.Iterator{c1, c2} {
		go func(it pipe.Iterator) {
			items, err := pipe.Collect(context.Background(), it)
			results <- result{items, err}
		}(c)
	}
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatal(r.err)
		}
		if !reflect.DeepEqual(r.items, []pipe.Item{1, 2, 3}) {
			t.Fatalf("consumer got %v", r.items)
		}
	}
}

func TestMultipleProducersInterleave(t *testing.T) {
	q := New("bus", 0)
	c, _ := q.RegisterConsumer()
	if err := q.RegisterProducer(producerOf(1, 2)); err != nil {
		t.Fatal(err)
	}
	if err := q.RegisterProducer(producerOf(10, 20)); err != nil {
		t.Fatal(err)
	}
	if err := q.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	out, err := pipe.Collect(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}

	got := make([]int, len(out))
	for i, v := range out {
		got[i] = v.(int)
	}
	sort.Ints(got)
	if !reflect.DeepEqual(got, []int{1, 2, 10, 20}) {
		t.Fatalf("got %v", got)
	}

	// Per-producer order: 1 before 2, 10 before 20.
	idx := map[int]int{}
	for i, v := range out {
		idx[v.(int)] = i
	}
	if idx[1] > idx[2] || idx[10] > idx[20] {
		t.Fatalf("per-producer order broken: %v", out)
	}
}

func TestRegistrationClosedAfterStart(t *testing.T) {
	q := New("bus", 0)
	if err := q.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := q.RegisterProducer(producerOf(1)); !errors.Is(err, pipe.ErrConcurrency) {
		t.Fatalf("got %v", err)
	}
	if _, err := q.RegisterConsumer(); !errors.Is(err, pipe.ErrConcurrency) {
		t.Fatalf("got %v", err)
	}
	if err := q.Start(context.Background()); !errors.Is(err, pipe.ErrConcurrency) {
		t.Fatalf("double start: got %v", err)
	}
}

func TestProducerErrorReachesConsumers(t *testing.T) {
	boom := errors.New("boom")
	q := New("bus", 0)
	c, _ := q.RegisterConsumer()
	if err := q.RegisterProducer(func(ctx context.Context) pipe.Iterator {
		return pipe.IteratorFunc(func(context.Context) (pipe.Item, error) {
			return nil, boom
		})
	}); err != nil {
		t.Fatal(err)
	}
	if err := q.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := pipe.Collect(context.Background(), c)
	if !errors.Is(err, pipe.ErrConcurrency) {
		t.Fatalf("got %v", err)
	}
}

func TestStateLifecycle(t *testing.T) {
	q := New("bus", 0)
	if q.State() != Unstarted {
		t.Fatal("fresh queue should be unstarted")
	}
	c, _ := q.RegisterConsumer()
	if err := q.RegisterProducer(producerOf("a")); err != nil {
		t.Fatal(err)
	}
	if err := q.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := pipe.Collect(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	q.Wait()
	if q.State() != Closed {
		t.Fatalf("got %v", q.State())
	}
}
