// Package health reports the reachability of cache backends.
//
// Every backend pool exposes a Checker. An Aggregator runs its checkers
// concurrently under one deadline and folds the results into a Report:
//
//	agg := health.NewAggregator(health.AggregatorConfig{Timeout: 2 * time.Second})
//	agg.Register(health.NewPingChecker("redis", redisPool, health.PingConfig{}))
//	report := agg.Run(ctx)
//
// Handlers expose the report for probes: Liveness always answers OK,
// Readiness answers 503 when any backend is unhealthy, and Detailed
// renders the full report as JSON.
//
// A degraded backend (slow, or guarded by an open breaker) keeps the
// service ready: calls still succeed, they just skip the cache.
package health
