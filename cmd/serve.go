package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/recovery-atlas/facility-etl/internal/extract"
	"github.com/recovery-atlas/facility-etl/internal/fetcher"
	"github.com/recovery-atlas/facility-etl/internal/model"
	"github.com/recovery-atlas/facility-etl/internal/normalize"
	"github.com/recovery-atlas/facility-etl/internal/pipeline"
	"github.com/recovery-atlas/facility-etl/internal/resilience"
	"github.com/recovery-atlas/facility-etl/internal/sink"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the import trigger server",
	Long:  "Starts an HTTP server that accepts import requests at POST /api/import and exposes run history and city aggregates. Imports run asynchronously; the response carries the run id to poll.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		snk, err := openSink(ctx)
		if err != nil {
			return eris.Wrap(err, "open sink")
		}
		defer snk.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", portOrDefault()),
			Handler:           newRouter(ctx, snk),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Close()
		}()

		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func portOrDefault() int {
	if servePort > 0 {
		return servePort
	}
	return cfg.Server.Port
}

type importRequest struct {
	Location string `json:"location"`
	Path     string `json:"path"`
	Format   string `json:"format"`
	DryRun   bool   `json:"dry_run"`
}

// newRouter builds the API surface. serveCtx outlives individual requests;
// background imports inherit it so a server shutdown cancels them.
func newRouter(serveCtx context.Context, snk sink.Sink) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/import", func(w http.ResponseWriter, req *http.Request) {
		var body importRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		src, format, err := sourceFromRequest(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		runSink := snk
		if body.DryRun {
			runSink = &sink.DryRun{Inner: snk}
		}

		run := model.NewRunContext(src.Name())
		run.Format = string(format)
		run.DryRun = body.DryRun
		run.BatchSize = cfg.Pipeline.BatchSize
		run.Workers = cfg.Pipeline.Workers

		go func() {
			p := &pipeline.Pipeline{Sink: runSink, Retry: resilience.DefaultRetryConfig()}
			if _, err := p.Run(serveCtx, run, src); err != nil {
				zap.L().Error("import run failed",
					zap.String("run_id", run.ID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": run.ID,
			"source": run.Source,
		})
	})

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		runs, err := snk.ListRuns(req.Context(), 50)
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs failed"})
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/api/stats", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		stats, err := snk.CityStats(req.Context(), q.Get("state"), q.Get("city"))
		if err != nil {
			zap.L().Error("query city stats failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query city stats failed"})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	return r
}

// sourceFromRequest mirrors the import command's source resolution for the
// HTTP surface.
func sourceFromRequest(body importRequest) (extract.Source, normalize.SourceFormat, error) {
	switch {
	case body.Location != "" && body.Path != "":
		return nil, "", eris.New("location and path are mutually exclusive")

	case body.Location != "":
		src := &extract.APISource{
			BaseURL:  cfg.Source.APIBaseURL,
			APIKey:   cfg.Source.APIKey,
			Location: body.Location,
			PageSize: cfg.Source.PageSize,
			Fetcher: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				Timeout:    time.Duration(cfg.Source.TimeoutSecs) * time.Second,
				MaxRetries: cfg.Source.MaxRetries,
				RatePerSec: rate.Limit(cfg.Source.RatePerSec),
			}),
		}
		return src, normalize.FormatAPI, nil

	case body.Path != "":
		format, err := requestFormat(body)
		if err != nil {
			return nil, "", err
		}
		src, err := extract.NewFileSource(body.Path, format)
		if err != nil {
			return nil, "", err
		}
		return src, format, nil

	default:
		return nil, "", eris.New("one of location or path is required")
	}
}

func requestFormat(body importRequest) (normalize.SourceFormat, error) {
	if body.Format != "" {
		return normalize.ParseFormat(body.Format)
	}
	return extract.DetectFormat(body.Path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
