// Package http provides the HTTP ingest surface: endpoints that turn
// tracking requests into stream messages and hand them to the producer
// registry, plus the pixel and visitor-id helpers browsers need.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/streamfan/config"
	"github.com/c360/streamfan/consent"
	"github.com/c360/streamfan/errors"
	"github.com/c360/streamfan/message"
	"github.com/c360/streamfan/metric"
)

// Dispatcher fans one message out to the destinations selected by the
// routing key. The producer registry implements it.
type Dispatcher interface {
	Dispatch(msg message.Message, selector string)
}

// Option configures the gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics exposes the shared metrics registry on /metrics.
func WithMetrics(m *metric.Registry) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// Gateway is the HTTP ingest server. Every tracking endpoint follows
// the same path: evaluate consent, build the message, dispatch it, and
// answer the client without waiting for delivery.
type Gateway struct {
	cfg        config.GatewayConfig
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metric.Registry
	ipToken    []byte

	// Per-client token buckets; reset wholesale when the map grows
	// unreasonably large.
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// NewGateway creates the ingest server for a validated configuration.
func NewGateway(cfg config.GatewayConfig, d Dispatcher, opts ...Option) (*Gateway, error) {
	if d == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"dispatcher is required")
	}
	if cfg.Listen == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"listen address is required")
	}

	g := &Gateway{
		cfg:        cfg,
		dispatcher: d,
		logger:     slog.Default(),
		ipToken:    []byte(cfg.IPToken),
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RegisterHandlers registers every endpoint on the mux.
func (g *Gateway) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /pixel.gif", g.wrap(g.handlePixel))
	mux.HandleFunc("POST /events", g.wrap(g.handleEvents))
	mux.HandleFunc("GET /uuid", g.wrap(g.handleUUID))
	mux.HandleFunc("GET /health", g.handleHealth)
	if g.metrics != nil {
		mux.Handle("GET /metrics", g.metrics.Handler())
	}
}

// Serve runs the HTTP server until the context is canceled, then shuts
// it down gracefully.
func (g *Gateway) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	g.RegisterHandlers(mux)

	srv := &http.Server{
		Addr:              g.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			g.logger.Warn("gateway shutdown incomplete", "error", err)
		}
	}()

	g.logger.Info("gateway listening", "addr", g.cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Gateway", "Serve", fmt.Sprintf("listen on %s", g.cfg.Listen))
	}
	return nil
}

// wrap applies the shared request pipeline: counters, rate limiting,
// and CORS.
func (g *Gateway) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.requestsTotal.Add(1)

		if g.cfg.EnableCORS {
			g.applyCORS(w, r)
		}

		if !g.allow(clientIP(r)) {
			g.requestsFailed.Add(1)
			g.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next(w, r)
	}
}

// allow checks the per-client token bucket. A zero rate disables
// limiting entirely.
func (g *Gateway) allow(ip string) bool {
	if g.cfg.RateLimit <= 0 {
		return true
	}

	g.limiterMu.Lock()
	defer g.limiterMu.Unlock()

	// Bound the map; losing bucket state under churn is acceptable.
	if len(g.limiters) > 10000 {
		g.limiters = make(map[string]*rate.Limiter)
	}

	lim, ok := g.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(g.cfg.RateLimit), g.cfg.RateBurst)
		g.limiters[ip] = lim
	}
	return lim.Allow()
}

// applyCORS sets the CORS response headers for allowed origins.
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, o := range g.cfg.CORSOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// clientIP extracts the client address, preferring the first
// X-Forwarded-For entry. Behind a proxy that does not forward the
// original address this is the proxy, and nothing can recover the real
// client.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// consentFrom evaluates the privacy signals of one request.
func (g *Gateway) consentFrom(r *http.Request) consent.Consent {
	q := r.URL.Query()
	return consent.FromValues(
		q.Get(consent.ParamMode),
		q.Get(consent.ParamHasConsent),
		q.Get(consent.ParamOptOut),
	)
}

func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	data, _ := json.Marshal(map[string]any{"error": msg, "status": statusCode})
	w.Write(data)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
