// ABOUTME: Legacy SSE binding: GET /sse rendezvous stream plus POST /messages.
// ABOUTME: Responses flow back over the stream; the write endpoint only acknowledges.

package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389/transit-gateway/internal/rpc"
	"github.com/2389/transit-gateway/internal/session"
	"github.com/2389/transit-gateway/internal/store"
)

// streamBuffer bounds how many responses can queue between stream
// writes before the write endpoint starts shedding.
const streamBuffer = 16

// handleSSE opens the legacy rendezvous stream. The session is minted
// before the handshake because the endpoint event must carry its ID;
// a stream that never completes the handshake is dropped after the
// handshake timeout.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := s.router.Sessions().Create(session.TransportLegacy, "")
	conn := s.router.BindConn(sess)

	ch := make(chan *rpc.Response, streamBuffer)
	s.registerStream(sess.ID, ch)
	defer func() {
		s.unregisterStream(sess.ID)
		conn.Close()
	}()

	if err := s.usage.RecordSessionEvent(r.Context(), &store.SessionEvent{
		SessionID: sess.ID,
		Event:     "created",
		Transport: string(session.TransportLegacy),
	}); err != nil {
		s.logger.Warn("failed to record session event", "error", err)
	}

	writeSSEHeaders(w)
	fmt.Fprintf(w, "event: endpoint\ndata: %s/messages?session_id=%s\n\n", s.baseURL, sess.ID)
	flusher.Flush()

	s.logger.Info("legacy stream opened", "session_id", sess.ID)

	handshake := time.NewTimer(s.handshakeTimeout)
	defer handshake.Stop()
	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("legacy stream closed", "session_id", sess.ID)
			return

		case resp := <-ch:
			if err := writeSSEEvent(w, "message", resp); err != nil {
				return
			}
			flusher.Flush()

		case <-handshake.C:
			if !sess.Initialized() {
				s.logger.Warn("dropping stream: handshake timed out", "session_id", sess.ID)
				return
			}

		case <-heartbeat.C:
			// pending responses go out before any keepalive
			if !s.drainStream(w, ch) {
				return
			}
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// drainStream flushes queued responses. Returns false on write failure.
func (s *Server) drainStream(w io.Writer, ch chan *rpc.Response) bool {
	for {
		select {
		case resp := <-ch:
			if err := writeSSEEvent(w, "message", resp); err != nil {
				return false
			}
		default:
			return true
		}
	}
}

// handleMessages is the legacy write endpoint. Frames are dispatched
// against the stream's session and acknowledged with 202; the actual
// response is pushed over the rendezvous stream.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing session_id", http.StatusBadRequest)
		return
	}

	sess, ok := s.router.Sessions().Get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	ch, ok := s.stream(sessionID)
	if !ok {
		// session exists but its stream has gone away
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return
	}

	// the write request's deadline must not cancel dispatch mid-flight
	// once we have acknowledged, so dispatch runs synchronously here
	resp := s.router.BindConn(sess).Handle(context.WithoutCancel(r.Context()), body)
	if resp != nil {
		select {
		case ch <- resp:
		default:
			s.logger.Warn("stream buffer full, dropping response", "session_id", sessionID)
		}
	}

	w.WriteHeader(http.StatusAccepted)
}
