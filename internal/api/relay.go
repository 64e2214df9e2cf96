package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/seantiz/partstock/internal/engine"
	"github.com/seantiz/partstock/internal/inventory"
	"github.com/seantiz/partstock/internal/relay"
	"github.com/seantiz/partstock/internal/store"
)

// Relay callback actions.
const (
	actionConnect    = "connect"
	actionDisconnect = "disconnect"
)

// Stream URL patterns understood by the relay router. They mirror the SSE
// routes mounted on the server.
const (
	TaskStreamPattern  = "/v1/tasks/{key}/stream"
	TopicStreamPattern = "/v1/topics/{topic}/{key}/stream"
)

// relayCallback is the JSON body for POST /v1/relay/callback.
type relayCallback struct {
	Action     string `json:"action"`
	Token      string `json:"token"`
	RequestURL string `json:"request_url"`
	Reason     string `json:"reason"`
}

// RegisterStreamRoutes maps the stream URLs to identifiers on rt and
// registers the task and part producers.
func RegisterStreamRoutes(rt *relay.Router, eng *engine.Engine, s store.Store) {
	rt.Route(TaskStreamPattern, engine.StreamPrefix)
	rt.Route(TopicStreamPattern, "")
	rt.Producer(engine.StreamPrefix, func(_ context.Context, key string) bool {
		return eng.Live(key)
	})
	rt.Producer(inventory.StreamPrefix, inventory.PartLive(s))
}

// handleRelayCallback receives connect and disconnect notifications from the
// relay. Replies carry no body; the status is the whole answer.
func (s *Server) handleRelayCallback(w http.ResponseWriter, r *http.Request) {
	var cb relayCallback
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch cb.Action {
	case actionConnect:
		w.WriteHeader(s.connect(r.Context(), cb.RequestURL, cb.Token))

	case actionDisconnect:
		identifier, err := s.registry.Router().Identify(cb.RequestURL)
		if err != nil {
			s.logger.Debug("disconnect for unroutable url ignored",
				"request_url", cb.RequestURL,
			)
			w.WriteHeader(http.StatusOK)
			return
		}
		s.registry.OnDisconnect(identifier, cb.Token, cb.Reason)
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

// connect binds token to the stream requestURL names and returns the HTTP
// status for the outcome.
func (s *Server) connect(ctx context.Context, requestURL, token string) int {
	identifier, err := s.registry.Router().Identify(requestURL)
	if err != nil {
		s.logger.Info("connect rejected", "request_url", requestURL, "error", err)
		return http.StatusBadRequest
	}

	err = s.registry.OnConnect(ctx, identifier, token, requestURL)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, relay.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, relay.ErrUnroutable), errors.Is(err, relay.ErrInvalidToken):
		return http.StatusBadRequest
	default:
		s.logger.Error("relay connect", "identifier", identifier, "error", err)
		return http.StatusInternalServerError
	}
}

// listConnectionsResponse is the JSON response for GET /v1/relay/connections.
type listConnectionsResponse struct {
	Connections []relay.Connection `json:"connections"`
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, listConnectionsResponse{
		Connections: s.registry.Connections(),
	})
}
