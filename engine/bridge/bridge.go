// Package bridge registers NATS-backed nodes: a segment that mirrors every
// item onto a subject, and a source that yields decoded messages from one.
// They decouple ChatterFlow graphs across processes the same way arrow
// forks decouple pipelines inside one.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/chatterflow/chatterflow/engine/ops"
	"github.com/chatterflow/chatterflow/engine/pipe"
	"github.com/chatterflow/chatterflow/pkg/natsutil"
	"github.com/chatterflow/chatterflow/pkg/resilience"
	"github.com/nats-io/nats.go"
)

func init() {
	ops.RegisterSegment("natsPublish", newPublish)
	ops.RegisterSource("natsSubscribe", newSubscribe)
}

// connection cache: one conn per URL, shared by every bridge node.
var (
	connMu sync.Mutex
	conns  = make(map[string]*nats.Conn)
)

func connect(url string) (*nats.Conn, error) {
	connMu.Lock()
	defer connMu.Unlock()
	if nc, ok := conns[url]; ok && nc.IsConnected() {
		return nc, nil
	}
	nc, err := natsutil.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("bridge: connect %s: %w", url, err)
	}
	conns[url] = nc
	return nc, nil
}

func resolveURL(params map[string]any, rt *pipe.Runtime) (string, error) {
	if url := ops.StringParam(params, "url", ""); url != "" {
		return url, nil
	}
	if v, ok := rt.Const("NATS_URL"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	return "", pipe.PipelineErrorf("bridge: no NATS url (set url param or NATS_URL const)")
}

func encode(item pipe.Item, codec natsutil.Codec) ([]byte, error) {
	if codec == natsutil.CodecProto {
		return natsutil.EncodeProto(item)
	}
	return json.Marshal(item)
}

func decode(data []byte, codec natsutil.Codec) (pipe.Item, error) {
	if codec == natsutil.CodecProto {
		return natsutil.DecodeProto(data)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// newPublish passes items through, publishing each data item on the
// subject. Publish failures trip a breaker so a dead broker fails fast
// instead of stalling the stream on every item.
func newPublish(params map[string]any) (pipe.Segment, error) {
	subject, err := ops.RequiredString(params, "subject")
	if err != nil {
		return nil, err
	}
	codec := natsutil.Codec(ops.StringParam(params, "codec", string(natsutil.CodecJSON)))
	if codec != natsutil.CodecJSON && codec != natsutil.CodecProto {
		return nil, pipe.CompileErrorf("natsPublish: unknown codec %q", codec)
	}
	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	rawParams := params

	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			url, err := resolveURL(rawParams, rt)
			if err != nil {
				return nil, err
			}
			pubErr := breaker.Call(ctx, func(ctx context.Context) error {
				nc, err := connect(url)
				if err != nil {
					return err
				}
				data, err := encode(item, codec)
				if err != nil {
					return err
				}
				return natsutil.PublishRaw(ctx, nc, subject, data)
			})
			if pubErr != nil {
				return nil, pipe.PipelineErrorf("natsPublish %s: %v", subject, pubErr)
			}
			return item, nil
		})
	}), nil
}

// newSubscribe yields decoded messages from a subject. With limit > 0 the
// source ends after that many messages; otherwise it runs until the
// context is cancelled.
func newSubscribe(params map[string]any) (pipe.Source, error) {
	subject, err := ops.RequiredString(params, "subject")
	if err != nil {
		return nil, err
	}
	codec := natsutil.Codec(ops.StringParam(params, "codec", string(natsutil.CodecJSON)))
	if codec != natsutil.CodecJSON && codec != natsutil.CodecProto {
		return nil, pipe.CompileErrorf("natsSubscribe: unknown codec %q", codec)
	}
	limit, err := ops.IntParam(params, "limit", 0)
	if err != nil {
		return nil, err
	}
	rawParams := params

	return pipe.NewSourceFunc(func(ctx context.Context, rt *pipe.Runtime) pipe.Iterator {
		var (
			sub     *nats.Subscription
			msgs    chan *nats.Msg
			started bool
			count   int
		)
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			if !started {
				url, err := resolveURL(rawParams, rt)
				if err != nil {
					return nil, err
				}
				nc, err := connect(url)
				if err != nil {
					return nil, pipe.PipelineErrorf("natsSubscribe %s: %v", subject, err)
				}
				msgs = make(chan *nats.Msg, 64)
				sub, err = nc.ChanSubscribe(subject, msgs)
				if err != nil {
					return nil, pipe.PipelineErrorf("natsSubscribe %s: %v", subject, err)
				}
				started = true
			}
			if limit > 0 && count >= limit {
				_ = sub.Unsubscribe()
				return nil, io.EOF
			}
			select {
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return nil, ctx.Err()
			case msg := <-msgs:
				item, err := decode(msg.Data, codec)
				if err != nil {
					rt.Logger().Warn("bridge: dropping malformed message", "subject", subject, "error", err)
					return nil, pipe.DataErrorf("natsSubscribe %s: %v", subject, err)
				}
				count++
				return item, nil
			}
		})
	}), nil
}
