package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/boardwatch/internal/bridge"
	"github.com/hochfrequenz/boardwatch/internal/dispatch"
	"github.com/hochfrequenz/boardwatch/internal/domain"
	"github.com/hochfrequenz/boardwatch/internal/history"
)

// History is the dispatch log read by the API
type History interface {
	List(opts history.ListOptions) ([]domain.Dispatch, error)
	Counts() (history.Counts, error)
}

// StatsSource reports the controller's session dedup set
type StatsSource interface {
	Stats(ctx context.Context) (dispatch.Stats, error)
}

// Server is the HTTP status API
type Server struct {
	history History
	stats   StatsSource
	pages   bridge.Port
	addr    string
	mux     *http.ServeMux
	sseHub  *SSEHub
	log     zerolog.Logger
}

// NewServer creates a new API server. pages is the background end of the
// bridge used for rescan requests; any argument but addr may be nil.
func NewServer(addr string, hist History, stats StatsSource, pages bridge.Port, log zerolog.Logger) *Server {
	s := &Server{
		history: hist,
		stats:   stats,
		pages:   pages,
		addr:    addr,
		mux:     http.NewServeMux(),
		sseHub:  NewSSEHub(),
		log:     log.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/dispatches", s.listDispatchesHandler())
	s.mux.HandleFunc("/api/rescan", s.rescanHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
}

// Handle mounts an extra handler, e.g. the bridge websocket endpoint
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// ServeHTTP makes the server usable with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.sseHub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return hubCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

// OnDispatch streams a dispatch record to SSE clients
func (s *Server) OnDispatch(d domain.Dispatch) {
	s.Broadcast(SSEEvent{Type: "dispatch", Data: dispatchToResponse(d)})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}
