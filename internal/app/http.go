package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"

	"objpool/pkg/banner"
	"objpool/pkg/httpx"
	"objpool/pkg/recycler"
	"objpool/pkg/security"
	"objpool/pkg/telemetry"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	tuning := map[string]any{
		"max_capacity_per_thread":       a.cfg.Recycler.MaxCapacityPerThread,
		"max_shared_capacity_factor":    a.cfg.Recycler.MaxSharedCapacityFactor,
		"max_delayed_queues_per_thread": a.cfg.Recycler.MaxDelayedQueuesPerThread,
		"link_capacity":                 a.cfg.Recycler.LinkCapacity,
		"ratio":                         a.cfg.Recycler.Ratio,
		"delayed_queue_ratio":           a.cfg.Recycler.DelayedQueueRatio,
	}
	banner.Print(a.addr, a.cfgSource, verStr, tuning)
}

// debugPoolHandler serves the process-wide recycler.Stats snapshot as JSON.
func debugPoolHandler(w httpx.ResponseWriter, r *httpx.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recycler.GlobalStats())
}

func healthzHandler(w httpx.ResponseWriter, r *httpx.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// echoHandler is the daemon's one real workload: every request pulls a
// scratchBuffer off the calling goroutine's Stack (or allocates a fresh one
// on a miss), copies the request body into it, writes the buffer back out,
// and recycles it. This is what actually drives recycler.GlobalStats() under
// concurrent load instead of leaving it permanently zero.
func (a *App) echoHandler(w httpx.ResponseWriter, r *httpx.Request) {
	buf := a.pool.Get()
	defer buf.release()

	if r.Body != nil {
		_, _ = io.Copy(buf, r.Body)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(buf.Bytes())
}

// startHTTP builds the admin mux, starts the net/http server in a goroutine,
// and also starts a fasthttp listener serving the same handlers through the
// same httpx.HandlerFunc values (spec.md ambient stack: both transports
// share one handler definition, proving the adapter abstraction rather than
// duplicating routing logic per transport).
func (a *App) startHTTP(_ context.Context) <-chan error {
	router := mux.NewRouter()
	router.Handle("/debug/pool", httpx.NetHTTPAdapter(debugPoolHandler)).Methods(http.MethodGet)
	router.Handle("/healthz", httpx.NetHTTPAdapter(healthzHandler)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/echo", httpx.NetHTTPAdapter(a.echoHandler)).Methods(http.MethodPost)

	secCfg := security.SecConfig{
		AllowedOrigins: []string{"*"},
		RPS:            5,
		Burst:          10,
	}
	wrapped := security.AuthenticateRequestMiddleware(secCfg)(telemetry.Middleware(router))

	a.srv = &http.Server{Addr: a.addr, Handler: wrapped}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe()
	}()

	if a.fastAddr != "" {
		go func() {
			fastMux := func(ctx *fasthttp.RequestCtx) {
				switch string(ctx.Path()) {
				case "/debug/pool":
					httpx.FastHTTPAdapter(debugPoolHandler)(ctx)
				case "/healthz":
					httpx.FastHTTPAdapter(healthzHandler)(ctx)
				case "/echo":
					httpx.FastHTTPAdapter(a.echoHandler)(ctx)
				default:
					ctx.SetStatusCode(http.StatusNotFound)
				}
			}
			if err := fasthttp.ListenAndServe(a.fastAddr, fastMux); err != nil {
				errCh <- err
			}
		}()
	}

	return errCh
}
