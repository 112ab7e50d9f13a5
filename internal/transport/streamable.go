// ABOUTME: Streamable HTTP binding: one endpoint carrying POST, GET, DELETE.
// ABOUTME: Sessions ride the Mcp-Session-Id header; replies are JSON or single-event SSE.

package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/transit-gateway/internal/router"
	"github.com/2389/transit-gateway/internal/rpc"
	"github.com/2389/transit-gateway/internal/session"
)

const sessionHeader = "Mcp-Session-Id"

// handleStreamable is the single streamable endpoint.
func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStreamablePost(w, r)
	case http.MethodGet:
		s.handleStreamableGet(w, r)
	case http.MethodDelete:
		s.handleStreamableDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleStreamablePost processes one JSON-RPC frame. The first frame
// of a connection carries no session header; a successful handshake
// mints the session and returns its ID in the response header.
func (s *Server) handleStreamablePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.writeResponse(w, r, rpc.NewError(nil, rpc.CodeParseError, "failed to read request body", nil))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.writeResponse(w, r, rpc.NewError(nil, rpc.CodeInvalidRequest, "request body too large", nil))
		return
	}

	var conn *router.Conn
	if sessionID := r.Header.Get(sessionHeader); sessionID != "" {
		sess, ok := s.router.Sessions().Get(sessionID)
		if !ok {
			// session expired or unknown; the client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		conn = s.router.BindConn(sess)
	} else {
		conn = s.router.NewConn(session.TransportStreamable)
	}

	resp := conn.Handle(r.Context(), body)

	if sess := conn.Session(); sess != nil {
		w.Header().Set(sessionHeader, sess.ID)
	}

	if resp == nil {
		// notification: accepted, nothing to send
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.writeResponse(w, r, resp)
}

// handleStreamableGet opens a server-to-client stream. The gateway
// has no server-initiated messages, so the stream only carries
// keepalives until the session goes away or the client disconnects.
func (s *Server) handleStreamableGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing "+sessionHeader, http.StatusBadRequest)
		return
	}
	if _, ok := s.router.Sessions().Get(sessionID); !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if !acceptsSSE(r) {
		http.Error(w, "Not Acceptable: requires text/event-stream", http.StatusNotAcceptable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	writeSSEHeaders(w)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, ok := s.router.Sessions().Get(sessionID); !ok {
				return
			}
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleStreamableDelete terminates the session named in the header.
func (s *Server) handleStreamableDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing "+sessionHeader, http.StatusBadRequest)
		return
	}

	sess, ok := s.router.Sessions().Get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	s.router.BindConn(sess).Close()
	s.logger.Info("session terminated by client", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// writeResponse sends a JSON-RPC response either inline or as a
// single SSE event, depending on what the client accepts.
func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, resp *rpc.Response) {
	if acceptsSSE(r) {
		writeSSEHeaders(w)
		if err := writeSSEEvent(w, "message", resp); err != nil {
			s.logger.Warn("failed to write SSE response", "error", err)
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func acceptsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeSSEEvent serializes one JSON payload as a named SSE event.
func writeSSEEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "event: "+event+"\ndata: "+string(data)+"\n\n")
	return err
}
