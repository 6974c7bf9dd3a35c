package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/luxfi/log"

	"github.com/luxfi/perps/pkg/metrics"
)

// NewRouter mounts JSON-RPC on /rpc, the event feed on /ws and Prometheus on
// /metrics. ws and m may be nil.
func NewRouter(rpc *JSONRPCServer, ws http.Handler, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/rpc", rpc).Methods(http.MethodPost)
	r.HandleFunc("/health", rpc.handleHealth).Methods(http.MethodGet)
	if ws != nil {
		r.Handle("/ws", ws)
	}
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	return r
}

func (s *JSONRPCServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"height": s.node.Height(),
	})
}

// Serve runs an HTTP server on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger log.Logger) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP server started", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
