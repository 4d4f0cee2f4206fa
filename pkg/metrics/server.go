package metrics

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/psantana5/airplay-fetch/pkg/logging"
	"github.com/psantana5/airplay-fetch/pkg/ratelimit"
)

// StatusFunc returns the JSON-serializable run status
type StatusFunc func() interface{}

// NewRouter builds the status router: /metrics, /healthz and /status
func NewRouter(rec *Recorder, status StatusFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var body interface{} = map[string]string{}
		if status != nil {
			body = status()
		}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}).Methods(http.MethodGet)

	limiter := ratelimit.NewLimiter(20, 40)
	r.Use(limiter.Middleware(ratelimit.IPKeyFunc))
	return r
}

// Serve starts the status server in the background. The returned server
// is stopped through its Shutdown method.
func Serve(addr string, rec *Recorder, status StatusFunc, logger *logging.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           NewRouter(rec, status),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[Metrics] status server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	logger.Info("[Metrics] status server listening", map[string]interface{}{"addr": ln.Addr().String()})
	return srv, nil
}
