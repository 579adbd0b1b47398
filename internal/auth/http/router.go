// Package http serves the operational endpoints next to the gRPC API:
// probes, the public JWKS, Prometheus metrics and the Swagger UI.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/aussiebroadwan/authcore/api/ops" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Check is one readiness dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Options configures the ops router.
type Options struct {
	Ring     *jwtx.KeyRing
	Checks   []Check
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Version  string
	Logger   *slog.Logger

	// Limit applies per client IP to every route. The zero value disables it.
	Limit ratelimit.Config

	// CheckTimeout bounds each readiness check. Default: 2s.
	CheckTimeout time.Duration
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	opts      Options
	startTime time.Time
}

func NewRouter(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 2 * time.Second
	}

	r := &Router{
		Mux:       http.NewServeMux(),
		opts:      opts,
		startTime: time.Now(),
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(opts.Logger),
	}
	if opts.Metrics != nil {
		r.middlewares = append(r.middlewares, opts.Metrics.Instrument)
	}
	if !opts.Limit.Disabled() {
		r.middlewares = append(r.middlewares, httpx.RateLimitByIP(opts.Limit))
	}
	return r
}

func (r *Router) ApplyRoutes() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.opts.Version))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.opts.Version, r.opts.CheckTimeout, r.checks()))
	r.Mux.Handle("GET /.well-known/jwks.json", JWKSHandler(r.opts.Ring))
	r.Mux.Handle("GET /metrics", metrics.Handler(r.opts.Gatherer))
	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// checks appends the key ring check to the configured dependencies.
func (r *Router) checks() []Check {
	checks := append([]Check(nil), r.opts.Checks...)
	if r.opts.Ring != nil {
		ring := r.opts.Ring
		checks = append(checks, Check{Name: "signer", Ping: func(context.Context) error {
			_, err := ring.Active()
			return err
		}})
	}
	return checks
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			authcore operations API
//	@version		0.1.0
//	@description	Probes, key discovery and metrics for the authcore credential service.
//	@description	The credential API itself is gRPC (authcore.v1.AuthService).
//
//	@contact.name	AussieBroadWAN Team
//	@contact.url	https://github.com/aussiebroadwan/authcore
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host			localhost:8080
//	@BasePath		/
//	@schemes		http https
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}
