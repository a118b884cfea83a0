// Package api exposes the session manager over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/api/schemas"
	"github.com/xkilldash9x/wabridge/internal/config"
	"github.com/xkilldash9x/wabridge/internal/messenger"
	"github.com/xkilldash9x/wabridge/internal/observability"
)

// DefaultAccount is used when a request names no account.
const DefaultAccount = "default"

// Messenger is what the HTTP adapter needs from the session manager.
type Messenger interface {
	Login(ctx context.Context, account string) (schemas.LoginResult, error)
	Accounts() ([]string, error)
	Chats(ctx context.Context, account string) ([]schemas.Chat, error)
	SendMessage(ctx context.Context, account, target, text string) error
	SendFile(ctx context.Context, account, target, path string) error
	Close(ctx context.Context, account string) error
	UnreadMessages(ctx context.Context, account string) (schemas.MessageBatch, error)
}

var _ Messenger = (*messenger.Manager)(nil)

// Server routes requests to a Messenger.
type Server struct {
	svc    Messenger
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewServer builds the router.
func NewServer(svc Messenger, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: observability.Component(logger, "api"),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /open", s.handleOpen)
	s.mux.HandleFunc("GET /accounts", s.handleAccounts)
	s.mux.HandleFunc("GET /chats", s.handleChats)
	s.mux.HandleFunc("POST /send_message", s.handleSendMessage)
	s.mux.HandleFunc("POST /send_file", s.handleSendFile)
	s.mux.HandleFunc("GET /close", s.handleClose)
	s.mux.HandleFunc("GET /get_new_messages_unread", s.handleUnread)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", rec.status),
		zap.Duration("duration", time.Since(start)),
	}
	// r.Form is only populated when the handler read its parameters.
	if account := r.Form.Get("account"); account != "" {
		fields = append(fields, observability.Account(account))
	}
	s.logger.Info("Request served", fields...)
}

// ListenAndServe serves on cfg.Listen until ctx is done, then drains
// in-flight requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      s,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Login(r.Context(), account(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if len(result.QRCode) > 0 {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.QRCode)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Already logged in"})
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts, err := s.svc.Accounts()
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]string{"accounts": accounts})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.svc.Chats(r.Context(), account(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if chats == nil {
		chats = []schemas.Chat{}
	}
	s.respondJSON(w, http.StatusOK, map[string][]schemas.Chat{"chats": chats})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	chat, message := r.FormValue("chat"), r.FormValue("message")
	if chat == "" || message == "" {
		s.respondDetail(w, http.StatusBadRequest, "chat and message are required")
		return
	}
	if err := s.svc.SendMessage(r.Context(), account(r), chat, message); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Message sent to %s", chat),
	})
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	chat, path := r.FormValue("chat"), r.FormValue("file_path")
	if chat == "" || path == "" {
		s.respondDetail(w, http.StatusBadRequest, "chat and file_path are required")
		return
	}
	if err := s.svc.SendFile(r.Context(), account(r), chat, path); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("File %s sent to %s", path, chat),
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	acct := account(r)
	if err := s.svc.Close(r.Context(), acct); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Session %s closed", acct)})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	batch, err := s.svc.UnreadMessages(r.Context(), account(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if batch == nil {
		batch = schemas.MessageBatch{}
	}
	s.respondJSON(w, http.StatusOK, map[string]schemas.MessageBatch{"new_messages": batch})
}

func account(r *http.Request) string {
	if a := r.FormValue("account"); a != "" {
		return a
	}
	return DefaultAccount
}

// StatusFor maps an operation error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, messenger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, messenger.ErrInvalidAccount), errors.Is(err, messenger.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, messenger.ErrHandleNotStarted),
		errors.Is(err, messenger.ErrHandleUnavailable),
		errors.Is(err, messenger.ErrWrongContext),
		errors.Is(err, messenger.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, messenger.ErrLoginTimeout),
		errors.Is(err, messenger.ErrElementTimeout),
		errors.Is(err, messenger.ErrDownloadTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Warn("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	s.respondDetail(w, status, err.Error())
}

func (s *Server) respondDetail(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
