package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ericksa/docchat/internal/analysis"
	"github.com/ericksa/docchat/internal/middleware"
	"github.com/ericksa/docchat/internal/session"
	"github.com/ericksa/docchat/internal/storage"
)

type Options struct {
	// Store serves the original documents back. Nil disables the download route.
	Store         storage.Store
	MaxUploadSize int64
	Logger        *slog.Logger
	Now           func() time.Time
}

// Server exposes the session manager over HTTP and websockets.
type Server struct {
	sessions *session.Manager
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(sessions *session.Manager, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 20 << 20
	}
	return &Server{
		sessions: sessions,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS middleware already decides which origins may call us
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts the session routes on r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/greeting", s.greeting).Methods("GET")

	r.HandleFunc("/sessions", s.createSession).Methods("POST")
	r.HandleFunc("/sessions", s.listSessions).Methods("GET")

	sr := r.PathPrefix("/sessions/{id}").Subrouter()
	sr.HandleFunc("", s.getSession).Methods("GET")
	sr.HandleFunc("", s.deleteSession).Methods("DELETE")
	sr.HandleFunc("/messages", s.sendMessage).Methods("POST")
	sr.HandleFunc("/followups", s.submitFollowUp).Methods("POST")
	sr.HandleFunc("/documents", s.uploadDocument).Methods("POST")
	sr.HandleFunc("/document", s.downloadDocument).Methods("GET")
	sr.HandleFunc("/reset", s.reset).Methods("POST")
	sr.HandleFunc("/analysis", s.getAnalysis).Methods("GET")
	sr.HandleFunc("/analysis/reset", s.resetAnalysis).Methods("POST")
	sr.HandleFunc("/notices", s.drainNotices).Methods("GET")
	sr.HandleFunc("/layout/{panel}", s.togglePanel).Methods("POST")
	sr.HandleFunc("/events", s.events).Methods("GET")
}

func (s *Server) greeting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"greeting": session.Greeting(s.opts.Now())})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	c := s.sessions.Create()
	writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.sessions.List()})
}

// controller resolves the {id} route variable, writing 404 when unknown.
func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	c, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return c, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	Content  string `json:"content"`
	Question string `json:"question"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	s.chat(w, r, func(c *session.Controller, req messageRequest) error {
		return c.SendMessage(r.Context(), req.Content)
	})
}

func (s *Server) submitFollowUp(w http.ResponseWriter, r *http.Request) {
	s.chat(w, r, func(c *session.Controller, req messageRequest) error {
		q := req.Question
		if q == "" {
			q = req.Content
		}
		return c.SubmitFollowUp(r.Context(), q)
	})
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request, send func(*session.Controller, messageRequest) error) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if err := send(c, req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize+1<<20)
	file, header, err := r.FormFile("file")
	if tooLarge := new(http.MaxBytesError); errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
			contentType = byExt
		}
	}

	doc := analysis.Document{Name: filepath.Base(header.Filename), ContentType: contentType, Data: data}
	if err := c.UploadDocument(r.Context(), doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, c.Snapshot())
}

func (s *Server) downloadDocument(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	state := c.Analysis()
	if s.opts.Store == nil || state.File == nil || state.File.ObjectKey == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no stored document"})
		return
	}
	obj, err := s.opts.Store.Get(r.Context(), state.File.ObjectKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	contentType := state.File.ContentType
	if contentType == "" {
		contentType = obj.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": state.File.Name}))
	w.Write(obj.Data)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	c.ResetConversation(r.Context())
	writeJSON(w, http.StatusOK, c.Snapshot())
}

// resetAnalysis backs the "New Analysis" and "Try Again" actions: the
// analysis goes back to idle and the conversation stays.
func (s *Server) resetAnalysis(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	c.ResetAnalysis(r.Context())
	writeJSON(w, http.StatusOK, c.Snapshot())
}

type analysisResponse struct {
	State     analysis.State        `json:"state"`
	View      analysis.View         `json:"view"`
	Risk      *analysis.RiskSummary `json:"risk,omitempty"`
	ErrorText string                `json:"error_text,omitempty"`
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	state := c.Analysis()
	resp := analysisResponse{State: state, View: analysis.Project(state)}
	if state.Result != nil {
		risk := analysis.Assess(state.Result)
		resp.Risk = &risk
	}
	if state.Status == analysis.StatusError {
		resp.ErrorText = analysis.ErrorText(state)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) drainNotices(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]session.Notice{"notices": c.DrainNotices()})
}

func (s *Server) togglePanel(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	panel := mux.Vars(r)["panel"]
	layout, ok := c.TogglePanel(panel)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("unknown panel %q", panel)})
		return
	}
	writeJSON(w, http.StatusOK, layout)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrInputDisabled):
		status = http.StatusConflict
	default:
		middleware.LoggerFromContext(r.Context(), s.opts.Logger).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
