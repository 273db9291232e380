// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
	"github.com/GriffinCanCode/meetscribe/internal/export"
	"github.com/GriffinCanCode/meetscribe/internal/pipeline"
	"github.com/GriffinCanCode/meetscribe/internal/trace"
	"github.com/GriffinCanCode/meetscribe/internal/transcript"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type EntryMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
}

type StatusMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state"`
	Paused    bool   `json:"paused"`
	Error     string `json:"error,omitempty"`
}

// SpeakingMessage is sent by a playback client while synthesized speech
// is audible. Capture follows it until the connection closes.
type SpeakingMessage struct {
	Type     string `json:"type"`
	Speaking bool   `json:"speaking"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StartRequest is the body of POST /api/session/start. Missing fields fall
// back to the server defaults.
type StartRequest struct {
	Sources      []string `json:"sources,omitempty"`
	MicDevice    *int     `json:"mic_device,omitempty"`
	SystemDevice *int     `json:"system_device,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
}

// Session is a transcription session the server controls.
type Session interface {
	Start(ctx context.Context, sources []audio.Source, opts pipeline.Options) error
	Stop() (*transcript.Store, error)
	State() pipeline.State
	SessionID() string
	Transcript() *transcript.Store
	Done() <-chan struct{}
	Err() error
}

// DeviceLister lists capture devices.
type DeviceLister interface {
	ListInputDevices() ([]audio.DeviceDescriptor, error)
	ListOutputDevices() ([]audio.DeviceDescriptor, error)
}

// PauseControl pauses and resumes capture, either directly or by
// following a speaking signal.
type PauseControl interface {
	Pause()
	Resume()
	Paused() bool
	Follow(ctx context.Context, speaking <-chan bool)
}

// Options wires the server to the rest of the service.
type Options struct {
	NewSession func() Session
	Devices    DeviceLister
	Pause      PauseControl
	// Exporter serves POST /api/transcript/save; nil disables it.
	Exporter export.Exporter
	// Sources and Defaults apply when a start request omits them.
	Sources  []audio.Source
	Defaults pipeline.Options
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	opts Options

	// lifecycle serialises session start and stop.
	lifecycle sync.Mutex
	mu        sync.RWMutex
	session   Session
	conns     map[*websocket.Conn]*rateLimiter
}

// New creates a new server.
func New(opts Options) *Server {
	if len(opts.Sources) == 0 {
		opts.Sources = []audio.Source{audio.Mic, audio.System}
	}
	return &Server{
		opts:  opts,
		conns: make(map[*websocket.Conn]*rateLimiter),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", s.handleSessionStop)
	mux.HandleFunc("GET /api/session", s.handleSessionStatus)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("GET /api/transcript/recent", s.handleTranscriptRecent)
	mux.HandleFunc("POST /api/transcript/save", s.handleTranscriptSave)
	mux.HandleFunc("POST /api/pause", s.handlePause)
	mux.HandleFunc("POST /api/resume", s.handleResume)
	mux.HandleFunc("GET /api/devices", s.handleDevices)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Shutdown stops a running session and closes every websocket.
func (s *Server) Shutdown() {
	s.lifecycle.Lock()
	sess := s.current()
	if sess != nil && sess.State() == pipeline.Recording {
		if _, err := sess.Stop(); err != nil {
			slog.Warn("session stop on shutdown", "error", err)
		}
	}
	s.lifecycle.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (s *Server) current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "session_start")
	defer span.End()
	log := trace.Logger(ctx)

	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid request body"))
			return
		}
	}

	sources := s.opts.Sources
	if len(req.Sources) > 0 {
		sources = make([]audio.Source, 0, len(req.Sources))
		for _, name := range req.Sources {
			src, err := audio.ParseSource(name)
			if err != nil {
				writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid source"))
				return
			}
			sources = append(sources, src)
		}
	}

	opts := s.opts.Defaults
	if req.MicDevice != nil {
		opts.MicIndex = *req.MicDevice
	}
	if req.SystemDevice != nil {
		opts.SystemIndex = *req.SystemDevice
	}
	opts.SessionID = req.SessionID
	opts.OnEntry = nil

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if cur := s.current(); cur != nil && cur.State() == pipeline.Recording {
		writeError(w, apperrors.Newf(apperrors.CodePipelineLifecycle, "session %s already recording", cur.SessionID()))
		return
	}

	sess := s.opts.NewSession()
	opts.OnEntry = func(e transcript.Entry) { s.broadcastEntry(sess.SessionID(), e) }
	if err := sess.Start(ctx, sources, opts); err != nil {
		span.SetAttr("error", err.Error())
		log.Warn("session start failed", "error", err)
		writeError(w, err)
		return
	}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	go s.watch(sess)

	log.Info("session started", "session_id", sess.SessionID())
	writeJSON(w, http.StatusCreated, s.status(sess))
}

// watch reports a session that ended on its own.
func (s *Server) watch(sess Session) {
	<-sess.Done()
	if err := sess.Err(); err != nil {
		msg := s.status(sess)
		msg.Error = err.Error()
		s.broadcast(msg)
	}
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	sess := s.current()
	if sess == nil {
		writeError(w, pipeline.ErrNotRunning)
		return
	}
	store, err := sess.Stop()
	if store == nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"session_id": sess.SessionID(),
		"state":      sess.State().String(),
		"entries":    store.Len(),
		"fragments":  store.Fragments(),
	}
	if err != nil {
		log.Warn("session stopped with error", "error", err)
		resp["error"] = err.Error()
	}
	s.broadcast(s.status(sess))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	sess := s.current()
	if sess == nil {
		writeJSON(w, http.StatusOK, StatusMessage{Type: "status", State: pipeline.Idle.String(), Paused: s.paused()})
		return
	}
	writeJSON(w, http.StatusOK, s.status(sess))
}

func (s *Server) status(sess Session) StatusMessage {
	return StatusMessage{
		Type:      "status",
		SessionID: sess.SessionID(),
		State:     sess.State().String(),
		Paused:    s.paused(),
	}
}

func (s *Server) paused() bool {
	return s.opts.Pause != nil && s.opts.Pause.Paused()
}

// handleTranscript serves the current or last session transcript, as text
// lines by default or as JSON entries with ?format=json.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess := s.current()
	if sess == nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "no session"))
		return
	}
	store := sess.Transcript()

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sess.SessionID(),
			"entries":    store.Entries(),
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := store.Export(w); err != nil {
		trace.Logger(r.Context()).Warn("transcript write failed", "error", err)
	}
}

func (s *Server) handleTranscriptRecent(w http.ResponseWriter, r *http.Request) {
	sess := s.current()
	if sess == nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "no session"))
		return
	}
	window := RecentTranscriptWindow
	if v := r.URL.Query().Get("seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid seconds %q", v))
			return
		}
		window = time.Duration(n) * time.Second
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": sess.Transcript().GetRecent(window)})
}

func (s *Server) handleTranscriptSave(w http.ResponseWriter, r *http.Request) {
	if s.opts.Exporter == nil {
		writeError(w, apperrors.New(apperrors.CodeUnavailable, "transcript export not configured"))
		return
	}
	sess := s.current()
	if sess == nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "no session"))
		return
	}
	loc, err := s.opts.Exporter.Export(r.Context(), sess.SessionID(), sess.Transcript())
	if errors.Is(err, transcript.ErrEmpty) {
		writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "nothing to save"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"location": loc})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(r.Context(), true)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": s.paused()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.setPaused(r.Context(), false)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": s.paused()})
}

func (s *Server) setPaused(ctx context.Context, paused bool) {
	if s.opts.Pause == nil {
		return
	}
	if paused {
		s.opts.Pause.Pause()
	} else {
		s.opts.Pause.Resume()
	}
	trace.Logger(ctx).Info("capture pause changed", "paused", paused)
	if sess := s.current(); sess != nil {
		s.broadcast(s.status(sess))
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	inputs, err := s.opts.Devices.ListInputDevices()
	if err != nil {
		writeError(w, err)
		return
	}
	outputs, err := s.opts.Devices.ListOutputDevices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inputs": inputs, "outputs": outputs})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	rl := &rateLimiter{}
	s.mu.Lock()
	s.conns[conn] = rl
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	if sess := s.current(); sess != nil {
		_ = wsjson.Write(baseCtx, conn, s.status(sess))
	}

	// speaking feeds the pause gate for playback clients; closing it
	// resumes capture when the client goes away.
	var speaking chan bool
	defer func() {
		if speaking != nil {
			close(speaking)
		}
	}()

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		ctx := baseCtx
		if tc, ok := trace.ExtractFromJSON(msg); ok {
			ctx = trace.WithContext(ctx, tc)
		}

		switch base.Type {
		case "pause":
			s.setPaused(ctx, true)
		case "resume":
			s.setPaused(ctx, false)
		case "speaking":
			var sm SpeakingMessage
			if err := json.Unmarshal(msg, &sm); err != nil || s.opts.Pause == nil {
				continue
			}
			if speaking == nil {
				speaking = make(chan bool)
				go s.opts.Pause.Follow(context.WithoutCancel(baseCtx), speaking)
				log.Info("following playback speaking signal", "remote", r.RemoteAddr)
			}
			speaking <- sm.Speaking
		case "status":
			st := StatusMessage{Type: "status", State: pipeline.Idle.String(), Paused: s.paused()}
			if sess := s.current(); sess != nil {
				st = s.status(sess)
			}
			_ = wsjson.Write(ctx, conn, st)
		default:
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "unknown message type " + strconv.Quote(base.Type)})
		}
	}
}

func (s *Server) broadcastEntry(sessionID string, e transcript.Entry) {
	s.broadcast(EntryMessage{
		Type:      "entry",
		SessionID: sessionID,
		Timestamp: e.Timestamp.Format(transcript.TimeLayout),
		Speaker:   e.Speaker,
		Text:      e.Text,
	})
}

func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.conns {
		go func(c *websocket.Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
			defer cancel()
			_ = wsjson.Write(ctx, c, msg)
		}(conn)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	if apperrors.IsCode(err, apperrors.CodeCapture) {
		code = apperrors.CodeCapture
	}
	writeJSON(w, httpStatus(code), map[string]string{"error": err.Error(), "code": code.String()})
}

func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument, apperrors.CodeConfigInvalid:
		return http.StatusBadRequest
	case apperrors.CodePipelineLifecycle:
		return http.StatusConflict
	case apperrors.CodeDeviceEnumeration, apperrors.CodeUnavailable, apperrors.CodeCapture:
		return http.StatusServiceUnavailable
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.CodeRecognizer, apperrors.CodeExport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
