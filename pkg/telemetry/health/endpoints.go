package health

import (
	"encoding/json"
	"net/http"
)

// LivenessHandler serves the liveness probe.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	}
}

// ReadinessHandler serves the readiness probe: 200 when ready, 503 otherwise.
// version is included in the body.
func (c *Checker) ReadinessHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.CheckReadiness(r.Context())
		status.Version = version

		code := http.StatusOK
		if !status.Ready() {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, r, code, status)
	}
}

func writeStatus(w http.ResponseWriter, r *http.Request, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(status)
	}
}
