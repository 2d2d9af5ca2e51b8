package rpc

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryPolicy retries unary calls that failed with a retryable error: the
// gateway timed out or the server was unreachable.
type RetryPolicy struct {
	// MaxAttempts counts the first call. Values below 2 disable retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
}

// DefaultRetryPolicy is used by the CLI.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    5 * time.Second,
	Jitter:      0.2,
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	delay += delay * p.Jitter * (2*rand.Float64() - 1)
	if delay < 0 {
		delay = float64(p.BaseDelay)
	}
	return time.Duration(delay)
}

// retryable reports whether err may succeed on a new attempt. A
// DeadlineExceeded is only the gateway's timeout while ctx is still live.
func retryable(ctx context.Context, err error) bool {
	switch status.Code(err) {
	case codes.Unavailable:
		return true
	case codes.DeadlineExceeded:
		return ctx.Err() == nil
	}
	return false
}

func (p RetryPolicy) unaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		var err error
		for attempt := 0; attempt < p.MaxAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(p.backoff(attempt - 1)):
				case <-ctx.Done():
					return err
				}
			}
			err = invoker(ctx, method, req, reply, cc, opts...)
			if err == nil || !retryable(ctx, err) {
				return err
			}
		}
		return err
	}
}
