// Package web serves the telemetry dashboard and its JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/telemetry-engine/internal/engine"
	"github.com/sweeney/telemetry-engine/internal/telemetry"
)

// maxBody bounds POST bodies. A frame is a few hundred bytes.
const maxBody = 64 << 10

// Server serves the dashboard over HTTP.
type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a Server that reads and updates state through eng.
func New(addr string, eng *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{engine: eng, logger: logger, now: time.Now}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("GET /api/ecg", s.handleECG)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/frame", s.handleFrame)
	mux.HandleFunc("POST /api/gps", s.handleGPS)
	mux.HandleFunc("POST /api/reset", s.handleReset)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route multiplexer. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.engine.Snapshot()); err != nil {
		s.logger.Error("render dashboard", zap.Error(err))
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	s.writeFormatted(w, engine.FormatJSON)
}

func (s *Server) handleECG(w http.ResponseWriter, r *http.Request) {
	s.writeFormatted(w, engine.FormatECGJSON)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeFormatted(w, engine.FormatHistoryJSON)
}

// writeFormatted renders the current snapshot with format. A state that
// cannot be encoded is a 500, never an empty 200.
func (s *Server) writeFormatted(w http.ResponseWriter, format func(engine.Snapshot) ([]byte, error)) {
	data, err := format(s.engine.Snapshot())
	if err != nil {
		s.logger.Error("encode state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// handleFrame ingests a raw text frame posted as the request body.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	entry, err := s.engine.InjectFrame(string(body), s.now())
	if err != nil {
		var pe *telemetry.ParseError
		if errors.As(err, &pe) {
			writeJSON(w, http.StatusBadRequest, errorJSON{Error: err.Error(), Line: pe.Line, Key: pe.Key})
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Debug("frame injected", zap.Uint64("log_id", entry.ID))
	writeJSON(w, http.StatusOK, logEntryJSON{
		ID:       entry.ID,
		Time:     entry.Time,
		Severity: string(entry.Severity),
		Text:     entry.Text,
	})
}

func (s *Server) handleGPS(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	fix, err := telemetry.DecodeFix(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.AddFix(fix); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, pathJSON{
		DistanceMeters: snap.Path.DistanceMeters,
		PointCount:     len(snap.Path.Points),
	})
}

// handleReset starts a new session. The dashboard's form post is sent back to
// the page; API clients get the new session ID.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := s.engine.Reset(s.now())
	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, resetJSON{SessionID: id})
}

type errorJSON struct {
	Error string `json:"error"`
	Line  int    `json:"line,omitempty"`
	Key   string `json:"key,omitempty"`
}

type logEntryJSON struct {
	ID       uint64 `json:"id"`
	Time     string `json:"time"`
	Severity string `json:"severity"`
	Text     string `json:"text"`
}

type pathJSON struct {
	DistanceMeters float64 `json:"distance_m"`
	PointCount     int     `json:"point_count"`
}

type resetJSON struct {
	SessionID string `json:"session_id"`
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, _ := json.Marshal(v)
	writeRaw(w, status, data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorJSON{Error: err.Error()})
}
