// Package notify receives the transaction notifications MVola sends to a
// partner's callback URL. Delivery is best effort on the remote side, so the
// receiver only decodes and hands off; it never replaces status polling.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/berniyo/mvola-lambda/internal/mvola"
)

const (
	// CallbackPath is where the remote service delivers notifications.
	CallbackPath = "/mvola/callback"

	maxBodyBytes   = 64 << 10
	requestTimeout = 30 * time.Second
)

// HandlerFunc consumes one decoded notification.
type HandlerFunc func(ctx context.Context, n mvola.Notification) error

// Receiver decodes notifications and passes them to a HandlerFunc.
type Receiver struct {
	handle HandlerFunc
	logger *slog.Logger
}

// NewReceiver builds a Receiver. A nil logger falls back to slog.Default.
func NewReceiver(handle HandlerFunc, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{handle: handle, logger: logger}
}

// NewRouter mounts the callback and health routes.
func NewRouter(rcv *Receiver) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&slogFormatter{logger: rcv.logger}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Put(CallbackPath, rcv.HandleCallback)
	r.Post(CallbackPath, rcv.HandleCallback)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// HandleCallback decodes a notification body and dispatches it.
func (rcv *Receiver) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var n mvola.Notification
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&n); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "notification body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid notification body")
		return
	}
	if strings.TrimSpace(n.TransactionStatus) == "" {
		writeError(w, http.StatusBadRequest, "transactionStatus is required")
		return
	}
	if n.ServerCorrelationID == "" && n.TransactionReference == "" {
		writeError(w, http.StatusBadRequest, "serverCorrelationId or transactionReference is required")
		return
	}

	rcv.logger.Info("notification received",
		"request_id", middleware.GetReqID(r.Context()),
		"server_correlation_id", n.ServerCorrelationID,
		"transaction_reference", n.TransactionReference,
		"status", n.Status())

	if rcv.handle != nil {
		if err := rcv.handle(r.Context(), n); err != nil {
			rcv.logger.Error("notification handling failed",
				"server_correlation_id", n.ServerCorrelationID, "error", err)
			writeError(w, http.StatusInternalServerError, "notification not processed")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// slogFormatter routes chi's request log through the receiver's slog logger.
type slogFormatter struct {
	logger *slog.Logger
}

func (f *slogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &slogEntry{logger: f.logger.With(
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)}
}

type slogEntry struct {
	logger *slog.Logger
}

func (e *slogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	e.logger.Info("request served", "status", status, "bytes", bytes, "elapsed", elapsed)
}

func (e *slogEntry) Panic(v any, stack []byte) {
	e.logger.Error("request panicked", "panic", fmt.Sprint(v), "stack", string(stack))
}
