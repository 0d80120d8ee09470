package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// LivenessHandler answers 200 while the process is serving.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler answers 503 when any backend is unhealthy.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := agg.Run(r.Context())
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(httpStatus(report.Status))
		_, _ = w.Write([]byte(report.Status.String()))
	}
}

// ReportJSON is the JSON form of a Report.
type ReportJSON struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Checks    []CheckJSON `json:"checks"`
}

// CheckJSON is the JSON form of a NamedResult.
type CheckJSON struct {
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ToJSON converts a report for rendering.
func (r Report) ToJSON() ReportJSON {
	out := ReportJSON{
		Status:    r.Status.String(),
		Timestamp: time.Now().UTC(),
		Checks:    make([]CheckJSON, 0, len(r.Checks)),
	}
	for _, c := range r.Checks {
		cj := CheckJSON{
			Name:     c.Name,
			Status:   c.Status.String(),
			Message:  c.Message,
			Duration: c.Duration.String(),
			Details:  c.Details,
		}
		if c.Err != nil {
			cj.Error = c.Err.Error()
		}
		out.Checks = append(out.Checks, cj)
	}
	return out
}

// DetailedHandler renders the full report as JSON.
func DetailedHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := agg.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus(report.Status))
		_ = json.NewEncoder(w).Encode(report.ToJSON())
	}
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
