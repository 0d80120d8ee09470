// Package observe provides logging, metrics and tracing for procedure calls
// and the cache that fronts them.
//
// Logger is the structured JSON logger every other package logs through.
// Metrics and Tracer instrument procedure execution; CacheMetrics counts cache
// lookups by outcome and cache writes. NewObserver wires the OpenTelemetry
// providers selected by Config and hands out the primitives.
package observe
