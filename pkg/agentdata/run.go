package agentdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"
	"github.com/torusai/agentdata/pkg/scheduler"
	"github.com/torusai/agentdata/pkg/store/sqlstore"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// uuidPattern keeps /data/{id} from shadowing the other /data routes.
const uuidPattern = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

// Router builds the HTTP handler for the API.
//
// # Endpoints
//
// Ingress and query:
//
//	POST /data                      - Store one agent submission as pending
//	POST /data/query                - Page through an owner's records, newest first
//	GET  /data/events               - Websocket stream of synced records
//	GET  /data/{id}                 - Get one record by ID
//
// Operations (admin role when auth is enabled):
//
//	POST /sync                      - Run one sync cycle now
//	GET  /admin/stats               - Record counts by sync status
//	POST /admin/records/{id}/requeue - Move a failed record back to pending
//	GET  /admin/read-only           - Get maintenance mode
//	POST /admin/read-only           - Set maintenance mode
//
// Health:
//
//	GET  /health
//	GET  /api/health
//	GET  /ready                     - Ping the record store
//
// Every route other than the health and readiness checks requires a bearer token when
// Config.AuthJWTSecret is set.
func (a *App) Router() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/health", a.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", a.handleReady).Methods(http.MethodGet)

	// Routes share the root router so a method mismatch answers 405.
	user := func(path string, h http.HandlerFunc, method string) {
		router.Handle(path, a.auth.middleware(h)).Methods(method)
	}
	admin := func(path string, h http.HandlerFunc, method string) {
		router.Handle(path, a.auth.requireAdmin(h)).Methods(method)
	}

	user("/data", a.handleSubmit, http.MethodPost)
	user("/data/query", a.handleQuery, http.MethodPost)
	user("/data/events", a.handleEvents, http.MethodGet)
	user("/data/{id:"+uuidPattern+"}", a.handleGetRecord, http.MethodGet)

	admin("/sync", a.handleSync, http.MethodPost)
	admin("/admin/stats", a.handleStats, http.MethodGet)
	admin("/admin/records/{id:"+uuidPattern+"}/requeue", a.handleRequeue, http.MethodPost)
	admin("/admin/read-only", a.handleGetReadOnly, http.MethodGet)
	admin("/admin/read-only", a.handleSetReadOnly, http.MethodPost)

	var h http.Handler = router
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	})(h)
	h = hlog.RequestIDHandler("request_id", "X-Request-Id")(h)
	h = hlog.NewHandler(a.logger)(h)
	return otelhttp.NewHandler(h, "agentdata")
}

// Run serves the API and runs scheduled sync cycles until ctx is cancelled.
//
// On cancellation the server gets up to 5 seconds to finish in-flight
// requests, then the scheduler is stopped and waits for a running cycle.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%s", a.config.ServerPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	event := a.logger.Info().
		Str("addr", addr).
		Str("content_store", a.config.ContentStore).
		Str("schedule", a.config.Schedule.Schedule).
		Bool("read_only", a.IsReadOnly())
	if next, err := scheduler.NextRunTime(a.config.Schedule.Schedule, time.Now()); err == nil {
		event = event.Time("next_sync", next)
	}
	event.Msg("Starting agentdata server")

	a.sched.Start(ctx)
	defer a.sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if a.listensPostgres() {
		listener := sqlstore.NewListener(a.config.DatabaseURL, a.hub, a.logger)
		g.Go(func() error {
			return listener.Run(gctx)
		})
	}
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Close open event streams so Shutdown does not wait on them.
		a.hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info().Msg("Server stopped")
	return nil
}
