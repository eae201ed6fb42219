// Package interceptor implements the HTTP proxy that stands between an
// agent process and the outside world: every outbound call is looked up
// in the Routing Table and forwarded to a configured mock, emitting
// external-call-made / external-call-completed events around the hop.
package interceptor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/itsemmanuelingwani/sentra-lab/internal/certmint"
	"github.com/itsemmanuelingwani/sentra-lab/internal/event"
	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
	"github.com/itsemmanuelingwani/sentra-lab/internal/middleware"
	"github.com/itsemmanuelingwani/sentra-lab/internal/routing"
)

const (
	msgNoRoute        = "No mock service configured for this host"
	msgForwardFailed  = "Failed to reach mock service"
)

// Recorder is the narrow interface the interceptor needs from the Ring
// Queue / recorder to emit events; satisfied by *recorder.Recorder.
type Recorder interface {
	Record(ev event.Event)
}

// Config configures header/body logging, the listen address, and the
// per-host outbound rate limit applied before forwarding.
type Config struct {
	ListenAddr       string
	LogHeaders       bool
	LogBodies        bool
	MaxLoggedBodyLen int
	PerHostRateLimit rate.Limit
	PerHostBurst     int
	RequestTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8888"
	}
	if c.MaxLoggedBodyLen <= 0 {
		c.MaxLoggedBodyLen = 4096
	}
	if c.PerHostRateLimit <= 0 {
		c.PerHostRateLimit = rate.Inf
	}
	if c.PerHostBurst <= 0 {
		c.PerHostBurst = 1
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// Interceptor is the MITM forwarding proxy.
type Interceptor struct {
	cfg      Config
	routes   *routing.Table
	mint     *certmint.Mint
	recorder Recorder
	logger   *logging.Logger
	runID    string
	client   *http.Client

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	server *http.Server
}

// New constructs an Interceptor bound to the given routing table. mint
// mints the leaf certificates used to terminate TLS on CONNECT tunnels; it
// may be nil if HTTPS interception is not needed, in which case a CONNECT
// to a routed host is answered with bad-gateway through the forward-failure
// path (recording an error-encountered event), and a CONNECT to an unrouted
// host gets the usual route-miss bad-gateway.
func New(cfg Config, routes *routing.Table, mint *certmint.Mint, rec Recorder, logger *logging.Logger, runID string) *Interceptor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Interceptor{
		cfg:      cfg.withDefaults(),
		routes:   routes,
		mint:     mint,
		recorder: rec,
		logger:   logger,
		runID:    runID,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiters: make(map[string]*rate.Limiter),
	}
}

// ListenAndServe starts the proxy; it blocks until the context is
// cancelled or the server fails.
func (ic *Interceptor) ListenAndServe(ctx context.Context) error {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(ic.logger))
	router.Use(middleware.NewRecoveryMiddleware(ic.logger, ic.recorder, ic.runID).Handler)
	router.Use(middleware.NewTimeoutMiddleware(ic.cfg.RequestTimeout).Handler)
	router.PathPrefix("/").HandlerFunc(ic.handle)

	ic.server = &http.Server{
		Addr:    ic.cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- ic.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ic.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (ic *Interceptor) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		ic.handleConnect(w, r)
		return
	}

	host := targetHost(r)

	route, ok := ic.routes.Lookup(host)
	if !ok {
		http.Error(w, msgNoRoute, http.StatusBadGateway)
		return
	}

	if !ic.limiterFor(host).Allow() {
		http.Error(w, "Too many requests to this host", http.StatusTooManyRequests)
		return
	}

	targetURL := strings.TrimRight(route.TargetURL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	var reqBody []byte
	if r.Body != nil {
		reqBody, _ = io.ReadAll(r.Body)
		r.Body.Close()
	}

	ic.recorder.Record(event.New(newEventID(), ic.runID, event.KindExternalCallMade, map[string]any{
		event.DataKeyMethod:             r.Method,
		event.DataKeyURL:                targetURL,
		event.DataKeyRequestHeaders:     ic.loggedHeaders(r.Header),
		event.DataKeyRequestBodySnippet: ic.loggedBody(reqBody),
	}))

	start := time.Now()

	proxyReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, bytes.NewReader(reqBody))
	if err != nil {
		ic.forwardError(w, r, host, err)
		return
	}
	proxyReq.Header = r.Header.Clone()

	resp, err := ic.client.Do(proxyReq)
	if err != nil {
		ic.forwardError(w, r, host, err)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	elapsed := time.Since(start)

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)

	ic.recorder.Record(event.New(newEventID(), ic.runID, event.KindExternalCallComplete, map[string]any{
		event.DataKeyMethod:                r.Method,
		event.DataKeyURL:                   targetURL,
		event.DataKeyStatus:                resp.StatusCode,
		event.DataKeyResponseHeaders:       ic.loggedHeaders(resp.Header),
		event.DataKeyResponseBodySnippet:   ic.loggedBody(respBody),
	}).WithDuration(elapsed))
}

func (ic *Interceptor) forwardError(w http.ResponseWriter, r *http.Request, host string, cause error) {
	http.Error(w, msgForwardFailed, http.StatusBadGateway)
	ic.recorder.Record(event.New(newEventID(), ic.runID, event.KindErrorEncountered, map[string]any{
		"host":  host,
		"cause": cause.Error(),
	}))
}

// loggedHeaders renders headers for event data only when header logging
// is enabled; otherwise returns nil so nothing is recorded.
func (ic *Interceptor) loggedHeaders(h http.Header) map[string][]string {
	if !ic.cfg.LogHeaders {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// loggedBody renders a body snippet for event data, truncated to the
// configured cap, only when body logging is enabled.
func (ic *Interceptor) loggedBody(body []byte) string {
	if !ic.cfg.LogBodies || len(body) == 0 {
		return ""
	}
	if len(body) > ic.cfg.MaxLoggedBodyLen {
		return string(body[:ic.cfg.MaxLoggedBodyLen])
	}
	return string(body)
}

// targetHost extracts the destination host from the request, stripping
// any port suffix, falling back to the Host header when the URI carries
// no explicit host (the common case for a forward proxy receiving an
// absolute-form request vs. a plain Host-based request).
func targetHost(r *http.Request) string {
	host := r.URL.Host
	if host == "" {
		host = r.Host
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

func newEventID() string {
	return uuid.NewString()
}

// limiterFor returns the per-host rate limiter, creating one on first use.
func (ic *Interceptor) limiterFor(host string) *rate.Limiter {
	ic.limiterMu.Lock()
	defer ic.limiterMu.Unlock()
	l, ok := ic.limiters[host]
	if !ok {
		l = rate.NewLimiter(ic.cfg.PerHostRateLimit, ic.cfg.PerHostBurst)
		ic.limiters[host] = l
	}
	return l
}
