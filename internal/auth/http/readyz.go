package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// ReadyzHandler godoc
//
//	@Summary		Readiness probe
//	@Description	Pings the principal store, the Redis cache and the signing key ring.
//	@Description	Any failing check turns the response into 503.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse	"every check ok"
//	@Failure		503	{object}	HealthResponse	"at least one check failed"
//	@Router			/readyz [get]
func ReadyzHandler(startTime time.Time, version string, timeout time.Duration, checks []Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(checks))
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, c := range checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(r.Context(), timeout)
				defer cancel()

				result := "ok"
				if err := c.Ping(ctx); err != nil {
					result = "error: " + err.Error()
				}
				mu.Lock()
				results[c.Name] = result
				mu.Unlock()
			}()
		}
		wg.Wait()

		status, code := "ok", http.StatusOK
		for _, result := range results {
			if result != "ok" {
				status, code = "degraded", http.StatusServiceUnavailable
				break
			}
		}

		httpx.WriteJSON(w, code, HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: version,
			Checks:  results,
		})
	}
}
