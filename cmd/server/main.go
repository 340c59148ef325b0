// Command server starts the exercise judge HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/exercisejudge/judge/internal/adapter/httpserver"
	"github.com/exercisejudge/judge/internal/adapter/sandbox/dockerexec"
	"github.com/exercisejudge/judge/internal/config"
	"github.com/exercisejudge/judge/internal/jobmanager"
	"github.com/exercisejudge/judge/internal/observability"
	"github.com/exercisejudge/judge/internal/runner"
	"github.com/exercisejudge/judge/internal/taskrepo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	repo := taskrepo.New(cfg.TasksDir)

	sandbox, err := dockerexec.New(cfg.RunnerImage, cfg.DockerDialBackoffMaxElapsed)
	if err != nil {
		slog.Error("docker sandbox connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	exec := runner.New(repo, sandbox, "")
	jobs := jobmanager.New(exec, cfg.MaxWorkers, cfg.MaxQueue, cfg.JobTTL(), logger)
	jobs.Start()
	defer jobs.Stop()

	srv := httpserver.NewServer(cfg, jobs, repo)

	handler := buildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// buildRouter assembles the process-wide middleware stack around the
// server's routes: CORS, rate limiting, tracing, request correlation,
// recovery, access logging, and security headers.
func buildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()

	origins := strings.Split(cfg.CORSAllowOrigins, ",")
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		MaxAge:           300,
		AllowCredentials: false,
	}))
	r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.RequestID())
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.AccessLog())
	r.Use(httpserver.SecurityHeaders)

	srv.Routes(r)
	r.Handle("/metrics", observability.MetricsHandler())

	return r
}
