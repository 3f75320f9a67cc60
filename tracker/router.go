package tracker

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP trigger surface for a Service.
//
// The Service serializes runs itself (shared with the scheduler); a trigger
// hitting a busy service answers 503.
func NewRouter(svc *Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	if svc.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(svc.metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/v1/runs", func(w http.ResponseWriter, req *http.Request) {
		if svc.runs == nil {
			writeJSON(w, 200, []any{})
			return
		}
		limit := queryInt(req, "limit", 50)
		runs, err := svc.runs.RecentRuns(req.Context(), limit)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if runs == nil {
			writeJSON(w, 200, []any{})
			return
		}
		writeJSON(w, 200, runs)
	})

	r.Group(func(r chi.Router) {
		if svc.config.AuthToken != "" {
			r.Use(requireBearer(svc.config.AuthToken))
		}

		trigger := func(fn func(req *http.Request) (int, error)) http.HandlerFunc {
			return func(w http.ResponseWriter, req *http.Request) {
				records, err := fn(req)
				switch {
				case errors.Is(err, ErrRunInProgress):
					writeError(w, 503, err)
				case errors.Is(err, ErrWouldOverwrite):
					writeError(w, 409, err)
				case errors.Is(err, ErrNoPrimaryASIN):
					writeError(w, 400, err)
				case err != nil:
					writeError(w, 500, err)
				default:
					writeJSON(w, 200, map[string]any{"status": "ok", "records": records})
				}
			}
		}

		r.Post("/v1/run/keywords", trigger(func(req *http.Request) (int, error) {
			force := req.URL.Query().Get("force") == "true"
			return svc.FetchKeywords(req.Context(), force)
		}))
		r.Post("/v1/run/rankings", trigger(func(req *http.Request) (int, error) {
			return svc.FetchRankingData(req.Context())
		}))
		r.Post("/v1/run/volumes", trigger(func(req *http.Request) (int, error) {
			return svc.FetchHistoricalVolumes(req.Context())
		}))
		r.Post("/v1/run/impressions", trigger(func(req *http.Request) (int, error) {
			return svc.ComputeImpressions(req.Context())
		}))
		r.Post("/v1/run/charts", trigger(func(req *http.Request) (int, error) {
			return svc.RenderCharts(req.Context())
		}))
	})

	return r
}

func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Authorization") != "Bearer "+token {
				writeJSON(w, 401, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
