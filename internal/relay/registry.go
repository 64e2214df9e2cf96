package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/partstock/internal/lifecycle"
)

// EventStreamEnd is the reserved terminal event. It is sent exactly once per
// stream, on completion or shutdown.
const EventStreamEnd = "stream_end"

var (
	// ErrClosed is returned by OnConnect after the registry has shut down.
	ErrClosed = errors.New("registry closed")

	// ErrInvalidToken is returned by OnConnect for an empty token.
	ErrInvalidToken = errors.New("subscriber token required")
)

// Event is a named payload pushed to a subscriber.
type Event struct {
	Name string `json:"name"`
	Data any    `json:"data"`
}

// Publisher forwards an event to the subscriber holding token.
type Publisher interface {
	Publish(ctx context.Context, token string, ev Event) error
}

// Lifecycle is the subset of the lifecycle coordinator the registry uses.
type Lifecycle interface {
	RegisterNotification(name string, fn lifecycle.Notification)
}

// Connection is a bound subscriber.
type Connection struct {
	Identifier   string    `json:"identifier"`
	Token        string    `json:"-"`
	SourceURL    string    `json:"source_url"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry tracks the subscriber token bound to each stream identifier and
// pushes events to it. mu guards the connection map and is never held across
// I/O; sendMu serializes outbound pushes so events for an identifier reach
// the relay in the order they were sent. Lock order is sendMu then mu.
type Registry struct {
	router *Router
	pub    Publisher
	logger *slog.Logger

	sendMu sync.Mutex

	mu     sync.Mutex
	conns  map[string]Connection
	closed bool
}

// NewRegistry creates a registry and registers it to close every open stream
// on SHUTDOWN.
func NewRegistry(router *Router, pub Publisher, lc Lifecycle, logger *slog.Logger) *Registry {
	r := &Registry{
		router: router,
		pub:    pub,
		logger: logger,
		conns:  make(map[string]Connection),
	}
	lc.RegisterNotification("relay", func(p lifecycle.Phase) error {
		if p == lifecycle.PhaseShutdown {
			r.CloseAll(context.Background())
		}
		return nil
	})
	return r
}

// Router returns the router used to resolve callback URLs.
func (r *Registry) Router() *Router {
	return r.router
}

// OnConnect binds token to identifier. The identifier must resolve to a live
// producer; otherwise ErrUnroutable is returned and nothing is recorded. A
// second connect for the same identifier replaces the previous binding.
func (r *Registry) OnConnect(ctx context.Context, identifier, token, sourceURL string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if !r.router.Live(ctx, identifier) {
		connectsRejected.Inc()
		r.logger.Info("connect rejected, no producer",
			"identifier", identifier,
			"source_url", sourceURL,
		)
		return fmt.Errorf("%w: %s", ErrUnroutable, identifier)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	_, replaced := r.conns[identifier]
	r.conns[identifier] = Connection{
		Identifier:   identifier,
		Token:        token,
		SourceURL:    sourceURL,
		RegisteredAt: time.Now().UTC(),
	}
	r.mu.Unlock()

	if !replaced {
		connectionsOpen.Inc()
	}
	r.logger.Info("subscriber connected",
		"identifier", identifier,
		"replaced", replaced,
	)

	// The producer may have finished between the liveness check and the
	// insert, in which case its Close already ran and found nothing bound.
	if !r.router.Live(ctx, identifier) {
		r.closeToken(ctx, identifier, token)
	}
	return nil
}

// closeToken ends identifier's stream only if it is still bound to token.
func (r *Registry) closeToken(ctx context.Context, identifier, token string) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	c, ok := r.conns[identifier]
	if !ok || c.Token != token {
		r.mu.Unlock()
		return
	}
	delete(r.conns, identifier)
	r.mu.Unlock()

	r.endStream(ctx, identifier, c)
	r.logger.Info("producer finished during connect, stream ended",
		"identifier", identifier,
	)
}

// OnDisconnect removes the binding for identifier if it still holds token.
// Unknown identifiers and stale tokens are ignored, which absorbs races
// between natural completion and relay-initiated teardown.
func (r *Registry) OnDisconnect(identifier, token, reason string) {
	r.mu.Lock()
	c, ok := r.conns[identifier]
	if !ok || c.Token != token {
		r.mu.Unlock()
		r.logger.Debug("disconnect for unknown connection ignored",
			"identifier", identifier,
			"reason", reason,
		)
		return
	}
	delete(r.conns, identifier)
	r.mu.Unlock()

	connectionsOpen.Dec()
	r.logger.Info("subscriber disconnected",
		"identifier", identifier,
		"reason", reason,
	)
}

// SendEvent pushes an event to the subscriber bound to identifier. It reports
// false, without error, when nobody is subscribed or the push failed.
func (r *Registry) SendEvent(ctx context.Context, identifier, name string, data any) bool {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	c, ok := r.conns[identifier]
	r.mu.Unlock()

	if !ok {
		eventsTotal.WithLabelValues(resultMissed).Inc()
		r.logger.Debug("no subscriber for event",
			"identifier", identifier,
			"event", name,
		)
		return false
	}

	if err := r.pub.Publish(ctx, c.Token, Event{Name: name, Data: data}); err != nil {
		eventsTotal.WithLabelValues(resultError).Inc()
		r.logger.Warn("publish event",
			"identifier", identifier,
			"event", name,
			"error", err,
		)
		return false
	}

	eventsTotal.WithLabelValues(resultDelivered).Inc()
	return true
}

// Close sends the terminal stream-end event to identifier's subscriber and
// removes the binding. It reports whether a subscriber was bound.
func (r *Registry) Close(ctx context.Context, identifier string) bool {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	c, ok := r.conns[identifier]
	if ok {
		delete(r.conns, identifier)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.endStream(ctx, identifier, c)
	return true
}

// endStream sends the stream-end event for a binding already removed from the
// map. The caller holds sendMu.
func (r *Registry) endStream(ctx context.Context, identifier string, c Connection) {
	connectionsOpen.Dec()

	if err := r.pub.Publish(ctx, c.Token, Event{Name: EventStreamEnd}); err != nil {
		eventsTotal.WithLabelValues(resultError).Inc()
		r.logger.Warn("publish stream end",
			"identifier", identifier,
			"error", err,
		)
	} else {
		eventsTotal.WithLabelValues(resultDelivered).Inc()
	}
	r.logger.Debug("stream closed", "identifier", identifier)
}

// CloseAll ends every open stream and refuses further connects. It returns
// the number of streams closed.
func (r *Registry) CloseAll(ctx context.Context) int {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	var n int
	for _, id := range ids {
		if r.Close(ctx, id) {
			n++
		}
	}
	r.logger.Info("closed all streams", "count", n)
	return n
}

// Connections returns a snapshot of bound connections sorted by identifier.
func (r *Registry) Connections() []Connection {
	r.mu.Lock()
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Identifier < out[j].Identifier
	})
	return out
}
