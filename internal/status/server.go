package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"icssync/internal/syncer"
)

// ReportSource provides the report of the latest sync cycle.
type ReportSource interface {
	LastReport() *syncer.Report
}

// NewRouter serves /healthz and /status.
func NewRouter(reports ReportSource) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		rep := reports.LastReport()
		if rep == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rep)
	})

	return r
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, logger *slog.Logger, addr string, reports ReportSource) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(reports),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Status server shutdown failed", "error", err)
		}
	}()

	logger.Info("Status server listening.", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
