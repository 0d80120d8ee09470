// Package resilience guards calls to cache backends.
//
// A Guard composes three independent protections, applied outermost first:
//
//   - Limiter caps the number of in-flight operations against one backend.
//   - Breaker stops sending operations to a backend after consecutive
//     failures and probes it again after a cooldown.
//   - Timeout bounds each operation with a deadline.
//
// All protections report failures as ordinary errors. The cache layer treats
// them like any other backend failure and runs the procedure uncached.
//
// # Usage
//
//	guard := resilience.NewGuard("redis",
//	    resilience.WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{
//	        Threshold: 5,
//	        Cooldown:  10 * time.Second,
//	    })),
//	    resilience.WithTimeout(250*time.Millisecond),
//	)
//
//	value, err := resilience.Call(ctx, guard, func(ctx context.Context) (string, error) {
//	    return client.Get(ctx, key).Result()
//	})
//
// Operations are never retried. A failed backend read or write is
// reported once and the procedure runs without the cache.
package resilience
