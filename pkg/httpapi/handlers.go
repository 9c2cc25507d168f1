package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/voyager-travel/voyager/pkg/checkpoint"
	"github.com/voyager-travel/voyager/pkg/observability"
	"github.com/voyager-travel/voyager/pkg/session"
)

const maxBodyBytes = 1 << 20

// ChatRequest is the body of POST /api/chat and /api/chat/stream.
type ChatRequest struct {
	Message        string `json:"message"`
	SessionID      string `json:"sessionId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	Image          string `json:"image,omitempty"` // base64
	ImageMediaType string `json:"imageMediaType,omitempty"`
}

// ChatResponse is the body of a blocking chat reply.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, opts, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	reply, err := s.coord.FullResponse(r.Context(), req.Message, req.SessionID, opts...)
	if err != nil {
		observability.RecordTurn("blocking", "error", time.Since(start))
		s.log.WithError(err).Error("chat turn failed")
		writeError(w, statusFor(err), "assistant is unavailable, please retry")
		return
	}
	observability.RecordTurn("blocking", "ok", time.Since(start))

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = session.DefaultSessionID
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: reply, SessionID: sessionID})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, opts, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	start := time.Now()
	stream, err := s.coord.StreamResponse(r.Context(), req.Message, req.SessionID, opts...)
	if err != nil {
		observability.RecordTurn("streaming", "error", time.Since(start))
		s.log.WithError(err).Error("stream turn failed")
		writeError(w, statusFor(err), "assistant is unavailable, please retry")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			fmt.Fprint(w, "event: done\ndata: \n\n")
			flusher.Flush()
			observability.RecordTurn("streaming", "ok", time.Since(start))
			return
		}
		if err != nil {
			// Headers are gone; report the failure in-band.
			s.log.WithError(err).Error("stream turn failed")
			fmt.Fprint(w, "event: error\ndata: assistant is unavailable, please retry\n\n")
			flusher.Flush()
			observability.RecordTurn("streaming", "error", time.Since(start))
			return
		}
		observability.RecordStreamFragment()
		fmt.Fprintf(w, "data: %s\n\n", encodeSSEData(text))
		flusher.Flush()
	}
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := r.URL.Query().Get("userId")

	if err := s.coord.DeleteSession(r.Context(), sessionID, userID); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
		}).Error("delete session failed")
		writeError(w, statusFor(err), "could not delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*ChatRequest, []session.TurnOption, bool) {
	var req ChatRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return nil, nil, false
	}

	var opts []session.TurnOption
	if req.UserID != "" {
		opts = append(opts, session.WithUser(req.UserID))
	}
	if req.Image != "" {
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			writeError(w, http.StatusBadRequest, "image must be base64 encoded")
			return nil, nil, false
		}
		mediaType := req.ImageMediaType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		opts = append(opts, session.WithImage(data, mediaType))
	}
	return &req, opts, true
}

// encodeSSEData keeps fragments on a single SSE data line.
func encodeSSEData(text string) string {
	b, _ := json.Marshal(text)
	return string(b)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, checkpoint.ErrUnavailable), errors.Is(err, checkpoint.ErrWriteFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrAgentInvocation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
