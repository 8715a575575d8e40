// Package trackerapi binds the tracker RPC surface of spec §6 to HTTP/JSON
// using go-chi/chi for routing (spec §4.9). Every response body is a JSON
// array of strings, preserving the ordered tagged-outcome contract of the
// underlying operations over the wire.
package trackerapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/anton-mishchenko/p2p-tracker/internal/fileindex"
	"github.com/anton-mishchenko/p2p-tracker/internal/session"
	"github.com/anton-mishchenko/p2p-tracker/internal/tags"
	"github.com/anton-mishchenko/p2p-tracker/internal/validate"
)

// Server wires the Session Manager and File Index to HTTP handlers. While
// Ready reports false, every route answers NOT_READY per spec §5.
type Server struct {
	Sessions *session.Manager
	Files    *fileindex.Index
	Logger   *slog.Logger
	Limiter  *loginLimiter

	// Ready reports whether the Active Peer Table has been constructed.
	// A nil value is treated as always ready. trackerd sets it to a
	// function that always reports true.
	Ready func() bool
}

// Router builds the chi router for the tracker RPC surface.
func (s *Server) Router() http.Handler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(s.withRecover)
	r.Use(s.withRequestLog)

	r.Group(func(r chi.Router) {
		if s.Limiter != nil {
			r.Use(s.loginRateLimit)
		}
		r.Post("/rpc/connect", s.handleConnect)
	})

	r.Post("/rpc/resume", s.handleResume)
	r.Post("/rpc/disconnect", s.handleDisconnect)
	r.Post("/rpc/heartbeat", s.handleHeartbeat)
	r.Post("/rpc/files/register", s.handleRegister)
	r.Post("/rpc/files/deregister", s.handleDeregister)
	r.Get("/rpc/files", s.handleList)
	r.Get("/rpc/search", s.handleSearch)
	r.Get("/rpc/hosts", s.handleHosts)

	return r
}

func (s *Server) notReady() bool {
	return s.Ready != nil && !s.Ready()
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.notReady() {
		writeNotReady(w)
		return
	}
	var req struct {
		Name, Password, IP string
		Port                int
	}
	if !decode(w, r, &req) {
		return
	}
	if err := validate.Username(req.Name); err != nil {
		writeReply(w, tags.Error, err.Error())
		return
	}
	if err := validate.Password(req.Password); err != nil {
		writeReply(w, tags.Error, err.Error())
		return
	}
	if err := validate.Port(req.Port); err != nil {
		writeReply(w, tags.Error, err.Error())
		return
	}
	tag, token, err := s.Sessions.Login(r.Context(), req.Name, req.Password, req.IP, req.Port)
	if err != nil {
		s.logInternal(r, "connect", err)
		writeReply(w, tags.Error, "internal error")
		return
	}
	if tag == tags.Error || tag == tags.Full || tag == tags.Copy || tag == tags.Password {
		writeReply(w, tag, reasonFor(tag))
		return
	}
	writeReply(w, tag, token)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.notReady() {
		writeNotReady(w)
		return
	}
	var req struct {
		Token, Name, IP string
		Port            int
	}
	if !decode(w, r, &req) {
		return
	}
	if err := validate.Port(req.Port); err != nil {
		writeReply(w, tags.Error, err.Error())
		return
	}
	tag, token, err := s.Sessions.Resume(r.Context(), req.Token, req.Name, req.IP, req.Port)
	if err != nil {
		s.logInternal(r, "resume", err)
		writeReply(w, tags.Error, "internal error")
		return
	}
	if tag == tags.Error || tag == tags.Cred {
		writeReply(w, tag, reasonFor(tag))
		return
	}
	writeReply(w, tag, token)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.notReady() {
		writeNotReady(w)
		return
	}
	var req struct{ Token, Name string }
	if !decode(w, r, &req) {
		return
	}
	tag, err := s.Sessions.Disconnect(req.Token, req.Name)
	if err != nil {
		s.logInternal(r, "disconnect", err)
		writeReply(w, tags.Error, "internal error")
		return
	}
	writeReply(w, tag, reasonFor(tag))
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.notReady() {
		writeNotReady(w)
		return
	}
	var req struct{ Token, Name string }
	if !decode(w, r, &req) {
		return
	}
	tag, err := s.Sessions.Heartbeat(req.Token, req.Name)
	if err != nil {
		s.logInternal(r, "heartbeat", err)
		writeReply(w, tags.Error, "internal error")
		return
	}
	writeReply(w, tag, reasonFor(tag))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.notReady() {
		writeNotReady(w)
		return
	}
	var req struct {
		Token, Name, FileName, FileType, FilePath string
		FileSize                                  int64
	}
	if !decode(w, r, &req) {
		return
	}
	if err := validateFileFields(req.FileName, req.FileType, req.FilePath); err != nil {
		writeReply(w, tags.Error, err.Error())
		return
	}
	tag, err := s.Files.Register(r.Context(), req.Token, req.Name, req.FileName, req.FileType, req.FilePath, req.FileSize)
	if err != nil {
		s.logInternal(r, "register", err)
		writeReply(w, tags.Error, "internal error")
		return
	}
	writeReply(w, tag, reasonFor(tag))
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	if s.notReady() {
		writeNotReady(w)
		return
	}
	var req struct{ Token, Name, FileName, FileType, FilePath string }
	if !decode(w, r, &req) {
		return
	}
	if err := validateFileFields(req.FileName, req.FileType, req.FilePath); err != nil {
		writeReply(w, tags.Error, err.Error())
		return
	}
	tag, err := s.Files.Deregister(r.Context(), req.Token, req.Name, req.FileName, req.FileType, req.FilePath)
	if err != nil {
		s.logInternal(r, "deregister", err)
		writeReply(w, tags.Error, "internal error")
		return
	}
	writeReply(w, tag, reasonFor(tag))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.notReady() {
		writeNotReady(w)
		return
	}
	token := r.URL.Query().Get("token")
	name := r.URL.Query().Get("name")
	tag, entries, err := s.Files.List(r.Context(), token, name)
	if err != nil {
		s.logInternal(r, "list", err)
		writeReply(w, tags.Error, "internal error")
		return
	}
	if tag != tags.OK {
		writeReply(w, tag, reasonFor(tag))
		return
	}
	fields := []string{tag}
	for _, e := range entries {
		fields = append(fields, strconv.FormatInt(e.FileID, 10), e.Name, e.Type, e.Path, strconv.FormatInt(e.Size, 10))
	}
	writeJSON(w, fields)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.notReady() {
		writeNotReady(w)
		return
	}
	token := r.URL.Query().Get("token")
	name := r.URL.Query().Get("name")
	query := r.URL.Query().Get("query")
	if err := validate.SearchQuery(query); err != nil {
		writeReply(w, tags.Error, err.Error())
		return
	}
	tag, entries, err := s.Files.Search(r.Context(), token, name, query)
	if err != nil {
		s.logInternal(r, "search", err)
		writeReply(w, tags.Error, "internal error")
		return
	}
	if tag != tags.OK {
		writeReply(w, tag, reasonFor(tag))
		return
	}
	fields := []string{tag}
	for _, e := range entries {
		fields = append(fields, strconv.FormatInt(e.FileID, 10), e.Name, e.Type, strconv.FormatInt(e.Size, 10))
	}
	writeJSON(w, fields)
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if s.notReady() {
		writeNotReady(w)
		return
	}
	token := r.URL.Query().Get("token")
	name := r.URL.Query().Get("name")
	fileID, convErr := strconv.ParseInt(r.URL.Query().Get("file_id"), 10, 64)
	if convErr != nil {
		writeReply(w, tags.Error, "invalid file_id")
		return
	}
	tag, hosts, err := s.Files.HostLookup(r.Context(), token, name, fileID)
	if err != nil {
		s.logInternal(r, "hosts", err)
		writeReply(w, tags.Error, "internal error")
		return
	}
	if tag != tags.OK {
		writeReply(w, tag, reasonFor(tag))
		return
	}
	fields := []string{tag}
	for _, h := range hosts {
		fields = append(fields, h.IP, strconv.Itoa(h.Port), h.Path)
	}
	writeJSON(w, fields)
}

func validateFileFields(name, typ, path string) error {
	if err := validate.FileName(name); err != nil {
		return err
	}
	if err := validate.FileType(typ); err != nil {
		return err
	}
	return validate.FilePath(path)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeReply(w, tags.Error, "invalid request body")
		return false
	}
	return true
}

func writeReply(w http.ResponseWriter, tag, msg string) {
	writeJSON(w, []string{tag, msg})
}

func writeNotReady(w http.ResponseWriter) {
	writeReply(w, tags.Error, "not ready")
}

func reasonFor(tag string) string {
	switch tag {
	case tags.OK:
		return "ok"
	case tags.New:
		return "new account"
	case tags.Update:
		return "details updated"
	case tags.Full:
		return "tracker is full"
	case tags.Copy:
		return "already connected"
	case tags.Cred:
		return "invalid credentials"
	case tags.Password:
		return "wrong password"
	case tags.NotFound:
		return "no results"
	default:
		return "internal error"
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logInternal(r *http.Request, op string, err error) {
	s.Logger.Error("trackerapi: operation failed", "op", op, "request_id", requestID(r), "error", err)
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// withRecover guards handlers against panics and converts them into a
// logged error and a generic ERROR response tag, never a crashed process
// (spec §7).
func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.Logger.Error("trackerapi: recovered panic", "panic", v, "stack", string(debug.Stack()))
				writeReply(w, tags.Error, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withRequestLog emits a structured per-request log line.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		s.Logger.Info("trackerapi: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
