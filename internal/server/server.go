package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tptbm/api/tptbmapi"
)

// StatusSource reports the state of the benchmark being served.
type StatusSource interface {
	Status() tptbmapi.RunStatus
	WorkerStatus(ordinal int) (tptbmapi.SlotStatus, error)
}

type Handler struct {
	source StatusSource
	log    *zap.Logger

	Metrics *prometheus.Registry
}

func NewHandler(source StatusSource, log *zap.Logger) *Handler {
	return &Handler{
		source: source,
		log:    log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", routeListHandler(r, h.log))
	r.Get("/status", statusHandler(h.log, func(context.Context) (tptbmapi.RunStatus, error) {
		return h.source.Status(), nil
	}))
	r.Get("/status/{ordinal}", paramHandler(h.log, "ordinal", strconv.Atoi, func(_ context.Context, ordinal int) (tptbmapi.SlotStatus, error) {
		return h.source.WorkerStatus(ordinal)
	}))

	if h.Metrics != nil {
		r.Get("/metrics", promhttp.HandlerFor(h.Metrics, promhttp.HandlerOpts{}).ServeHTTP)
	}
}

func routeListHandler(router chi.Routes, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// list of available endpoints

		type routePath struct {
			Method string `json:"method"`
			Path   string `json:"path"`
		}

		var routes []routePath
		err := chi.Walk(router, func(method, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			routes = append(routes, routePath{Method: method, Path: route})
			return nil
		})

		type response struct {
			Routes []routePath `json:"routes"`
		}
		writeResponse(w, log, response{Routes: routes}, err)
	}
}

func statusHandler[O any](log *zap.Logger, fn func(context.Context) (O, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		resp, err := fn(r.Context())
		writeResponse(w, log, resp, err)
	}
}

func paramHandler[P any, O any](
	log *zap.Logger,
	name string,
	parse func(string) (P, error),
	fn func(context.Context, P) (O, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		raw := chi.URLParam(r, name)
		param, err := parse(raw)
		if err != nil {
			writeError(w, log, tptbmapi.ErrorBadRequest(errors.Newf("invalid %s %q", name, raw)))
			return
		}

		resp, err := fn(r.Context(), param)
		writeResponse(w, log, resp, err)
	}
}

func writeResponse[T any](w http.ResponseWriter, log *zap.Logger, resp T, err error) {
	if err != nil {
		writeError(w, log, err)
		return
	}

	enc, err := json.Marshal(resp)
	if err != nil {
		writeError(w, log, errors.Wrap(err, "failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(enc)
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	code := getErrorStatusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("code", code), zap.Error(err))
	}

	enc, _ := json.Marshal(map[string]string{"error": getDisplayError(err).Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(enc)
}
