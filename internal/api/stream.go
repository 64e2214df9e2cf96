package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seantiz/partstock/internal/relay"
)

// handleStream serves an SSE stream through the in-process hub. The handler
// plays the relay's part: it mints a subscriber token, subscribes it on the
// hub, then binds it to the stream identifier through the registry.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	identifier, err := s.registry.Router().Identify(r.URL.Path)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unknown stream")
		return
	}

	token := uuid.NewString()

	// Subscribe before connecting so no event sent after the bind is missed.
	ch, unsub := s.hub.Subscribe(token)
	defer unsub()

	if status := s.connect(r.Context(), r.URL.Path, token); status != http.StatusOK {
		msg := "stream has no live producer"
		if status == http.StatusServiceUnavailable {
			msg = "server is shutting down"
		}
		s.writeError(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	sseStreamsOpen.Inc()
	defer sseStreamsOpen.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// The registry closed the stream.
				_ = writeSSEEvent(w, relay.EventStreamEnd, "{}")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				s.logger.Error("encode stream event",
					"identifier", identifier,
					"event", ev.Name,
					"error", err,
				)
				continue
			}
			if err := writeSSEEvent(w, ev.Name, string(data)); err != nil {
				s.registry.OnDisconnect(identifier, token, "write failed")
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			s.registry.OnDisconnect(identifier, token, "client closed")
			return
		}
	}
}

// writeSSEEvent writes a named SSE event. Multi-line data is split so that
// each segment gets its own "data:" prefix.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if eventType == "" {
		return errors.New("sse: empty event type")
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	for seg := range strings.SplitSeq(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}
