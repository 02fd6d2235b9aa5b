package ops

import (
	"context"

	"github.com/chatterflow/chatterflow/engine/pipe"
	"golang.org/x/time/rate"
)

func init() {
	RegisterSegment("rateLimit", newRateLimit)
}

// newRateLimit throttles the stream to per_second items, blocking upstream
// pulls until a token is available.
func newRateLimit(params map[string]any) (pipe.Segment, error) {
	perSecond, err := FloatParam(params, "per_second", 1)
	if err != nil {
		return nil, err
	}
	if perSecond <= 0 {
		return nil, pipe.CompileErrorf("rateLimit: per_second must be > 0")
	}
	burst, err := IntParam(params, "burst", 1)
	if err != nil {
		return nil, err
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return pipe.NewSegmentFunc(func(ctx context.Context, rt *pipe.Runtime, in pipe.Iterator) pipe.Iterator {
		return pipe.IteratorFunc(func(ctx context.Context) (pipe.Item, error) {
			item, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return item, nil
		})
	}), nil
}
