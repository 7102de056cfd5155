package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// NewRouter wraps the handler's routes in the standard middleware stack.
func NewRouter(h *Handler, log *zap.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.CleanPath)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestLogger(
		&middleware.DefaultLogFormatter{
			Logger:  zap.NewStdLog(log.Named("http")),
			NoColor: true,
		},
	))
	router.Use(middleware.NoCache)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Heartbeat("/ping"))

	h.RegisterRoutes(router)
	return router
}

// Serve handles requests on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(log.Named("http")),
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	log.Info("status server listening", zap.String("addr", ln.Addr().String()))
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
