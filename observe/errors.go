package observe

import "errors"

var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample_pct outside [0, 1]")
	ErrInvalidTracingExporter = errors.New("observe: unsupported tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: unsupported metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: unsupported log level")

	// ErrNilObserver is returned by the *FromObserver constructors.
	ErrNilObserver = errors.New("observe: nil observer")

	// ErrMissingRoute is returned when a procedure is wrapped without a route.
	ErrMissingRoute = errors.New("observe: procedure route is required")
)
