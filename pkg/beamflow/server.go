package beamflow

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StreamStats describes one output queue.
type StreamStats struct {
	Stream  string `json:"stream"`
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
	Dropped uint64 `json:"dropped"`
}

// Handler serves /metrics, /healthz, /counters and /streams/{stream}.
func (r *Runtime) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/counters", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, r.Counters())
	})
	router.Get("/streams", func(w http.ResponseWriter, _ *http.Request) {
		streams := r.Streams()
		out := make([]StreamStats, 0, len(streams))
		for _, name := range streams {
			out = append(out, r.streamStats(name))
		}
		writeJSON(w, out)
	})
	router.Get("/streams/{stream}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "stream")
		if r.queue(name) == nil {
			http.Error(w, "unknown stream", http.StatusNotFound)
			return
		}
		writeJSON(w, r.streamStats(name))
	})
	return router
}

func (r *Runtime) streamStats(name string) StreamStats {
	q := r.queue(name)
	return StreamStats{Stream: name, Len: q.Len(), Cap: q.Cap(), Dropped: q.Dropped()}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
