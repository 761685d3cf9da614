// Package statusapi serves the gateway's diagnostics over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/sensorbridge/internal/actuator"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/journal"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/status"
	"github.com/gorilla/mux"
)

const (
	maxCommandBody    = 64
	readHeaderTimeout = 5 * time.Second
)

// Snapshot is the document served at /status.
type Snapshot struct {
	Status    status.ConnectionStatus      `json:"status"`
	Mode      string                       `json:"mode"`
	Device    string                       `json:"device"`
	Connected bool                         `json:"connected"`
	Pending   map[string]float64           `json:"pending"`
	Flushes   uint64                       `json:"flushes"`
	Actuators map[string]actuator.Snapshot `json:"actuators"`
	Details   map[string]any               `json:"details,omitempty"`
}

// Provider produces the current Snapshot.
type Provider interface {
	Snapshot() Snapshot
}

// Commander applies local actuator overrides.
type Commander interface {
	Decode(label string, payload []byte) (actuator.Command, error)
	Apply(cmd actuator.Command) (bool, error)
}

// History exposes the journal.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

type Server struct {
	router    *mux.Router
	http      *http.Server
	provider  Provider
	commander Commander
	history   History
	logger    logger.Logger
}

// New builds the router. The server does not listen until Serve.
func New(addr string, provider Provider, commander Commander, history History, log logger.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		provider:  provider,
		commander: commander,
		history:   history,
		logger:    log,
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/journal", s.handleJournal).Methods(http.MethodGet)
	s.router.HandleFunc("/actuators/{label}", s.handleActuator).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errFactory := errors.New()

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errFactory.Wrap(ErrServeFailed, err)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Status API listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errFactory.Wrap(ErrServeFailed, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Snapshot())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := journal.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Journal query failed")
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleActuator(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["label"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	cmd, err := s.commander.Decode(label, body)
	switch {
	case errors.HasCode(err, actuator.ErrUnknownActuator):
		writeError(w, http.StatusNotFound, "unknown actuator")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "state must be 0 or 1")
		return
	}

	changed, err := s.commander.Apply(cmd)
	if err != nil {
		s.logger.Error().Err(err).Str("actuator", label).Msg("Local override failed")
		writeError(w, http.StatusBadGateway, "actuator write failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Label   string         `json:"label"`
		State   actuator.State `json:"state"`
		Changed bool           `json:"changed"`
	}{
		Label:   label,
		State:   cmd.Requested,
		Changed: changed,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
