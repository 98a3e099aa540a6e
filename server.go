package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"i4.energy/across/atengine/at"
	"i4.energy/across/atengine/modem"
)

// Modem is the part of *modem.Modem the HTTP API uses.
type Modem interface {
	SendSMS(ctx context.Context, recipient, message string) (int, error)
	ListSMS(ctx context.Context, status string) ([]modem.SMS, error)
	DeleteSMS(ctx context.Context, index int) error
	SignalQuality(ctx context.Context) (rssi, ber int, err error)
	Exec(ctx context.Context, cmd string) ([]string, error)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// pingInterval is the keepalive period of the URC stream.
var pingInterval = 20 * time.Second

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *zap.Logger
	Modem  Modem
	URCs   *URCBus
	// Token, when set, must be presented as a bearer token
	Token string
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sms", s.handleSMS)
	mux.HandleFunc("GET /sms", s.handleListSMS)
	mux.HandleFunc("DELETE /sms/{index}", s.handleDeleteSMS)
	mux.HandleFunc("POST /at", s.handleAT)
	mux.HandleFunc("GET /signal", s.handleSignal)
	mux.HandleFunc("GET /urc", s.handleURC)
	mux.ServeHTTP(w, r)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.Token == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) == 1
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps a modem error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, modem.ErrAlreadyClosed), errors.Is(err, modem.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, at.ErrDevice), errors.Is(err, modem.ErrUnexpectedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	type SMSRequest struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	type SMSResponse struct {
		Reference int `json:"reference"`
	}

	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	ref, err := s.Modem.SendSMS(r.Context(), req.To, req.Message)
	if err != nil {
		s.Logger.Error("Failed to send SMS", zap.Error(err), zap.String("to", req.To))
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("SMS sent successfully",
		zap.String("to", req.To),
		zap.Int("message_length", len(req.Message)),
		zap.Int("reference", ref),
	)
	s.sendJSON(w, SMSResponse{Reference: ref}, http.StatusOK)
}

func (s *Server) handleListSMS(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "ALL"
	}

	list, err := s.Modem.ListSMS(r.Context(), status)
	if err != nil {
		s.Logger.Error("Failed to list SMS", zap.Error(err), zap.String("status", status))
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	if list == nil {
		list = []modem.SMS{}
	}
	s.sendJSON(w, list, http.StatusOK)
}

func (s *Server) handleDeleteSMS(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		s.sendError(w, "invalid message index", http.StatusBadRequest)
		return
	}

	if err := s.Modem.DeleteSMS(r.Context(), index); err != nil {
		s.Logger.Error("Failed to delete SMS", zap.Error(err), zap.Int("index", index))
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAT passes a raw command line to the modem.
func (s *Server) handleAT(w http.ResponseWriter, r *http.Request) {
	type ATRequest struct {
		Command string `json:"command"`
	}
	type ATResponse struct {
		Lines []string `json:"lines"`
	}

	var req ATRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		s.sendError(w, "'command' field is required", http.StatusBadRequest)
		return
	}

	lines, err := s.Modem.Exec(r.Context(), req.Command)
	if err != nil {
		s.Logger.Warn("AT command failed", zap.Error(err), zap.String("command", req.Command))
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	if lines == nil {
		lines = []string{}
	}
	s.sendJSON(w, ATResponse{Lines: lines}, http.StatusOK)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	type SignalResponse struct {
		RSSI int `json:"rssi"`
		BER  int `json:"ber"`
	}

	rssi, ber, err := s.Modem.SignalQuality(r.Context())
	if err != nil {
		s.Logger.Error("Failed to read signal quality", zap.Error(err))
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	s.sendJSON(w, SignalResponse{RSSI: rssi, BER: ber}, http.StatusOK)
}

// handleURC streams URC lines to a websocket client as text messages.
func (s *Server) handleURC(w http.ResponseWriter, r *http.Request) {
	if s.URCs == nil {
		s.sendError(w, "URC stream not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	urcs, unsubscribe := s.URCs.Subscribe()
	defer unsubscribe()

	// the reader notices when the client goes away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case line, ok := <-urcs:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				s.Logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
