package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// ErrUnroutable is returned when a request URL or identifier does not resolve
// to a live producer.
var ErrUnroutable = errors.New("unroutable stream")

// URL parameters recognised in route patterns.
const (
	ParamKey   = "key"
	ParamTopic = "topic"
)

// Producer reports whether key currently has a live producer behind it.
type Producer func(ctx context.Context, key string) bool

type route struct {
	pattern string
	prefix  string
	mux     *chi.Mux
}

// Router derives stream identifiers from relay callback URLs and checks them
// against registered producers. Identifiers have the form "<prefix>:<key>".
type Router struct {
	mu        sync.RWMutex
	routes    []*route
	producers map[string]Producer
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		producers: make(map[string]Producer),
	}
}

// Route maps request paths matching pattern to identifiers. The pattern must
// contain a {key} parameter. When prefix is empty the pattern must also
// contain {topic}, whose value becomes the prefix.
func (r *Router) Route(pattern, prefix string) {
	m := chi.NewRouter()
	m.Get(pattern, func(http.ResponseWriter, *http.Request) {})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, &route{pattern: pattern, prefix: prefix, mux: m})
}

// Producer registers the liveness check for identifiers with the given prefix.
func (r *Router) Producer(prefix string, live Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[prefix] = live
}

// Identify resolves a callback request URL to a stream identifier. Routes are
// tried in registration order.
func (r *Router) Identify(requestURL string) (string, error) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %v", ErrUnroutable, requestURL, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rt := range r.routes {
		rctx := chi.NewRouteContext()
		if !rt.mux.Match(rctx, http.MethodGet, u.Path) {
			continue
		}
		key := rctx.URLParam(ParamKey)
		prefix := rt.prefix
		if prefix == "" {
			prefix = rctx.URLParam(ParamTopic)
		}
		if key == "" || prefix == "" {
			continue
		}
		return prefix + ":" + key, nil
	}
	return "", fmt.Errorf("%w: no route for %q", ErrUnroutable, u.Path)
}

// Live reports whether identifier names a registered producer that currently
// has the key live.
func (r *Router) Live(ctx context.Context, identifier string) bool {
	prefix, key, ok := SplitIdentifier(identifier)
	if !ok {
		return false
	}

	r.mu.RLock()
	live, ok := r.producers[prefix]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return live(ctx, key)
}

// SplitIdentifier splits "<prefix>:<key>" into its parts.
func SplitIdentifier(identifier string) (prefix, key string, ok bool) {
	prefix, key, ok = strings.Cut(identifier, ":")
	if !ok || prefix == "" || key == "" {
		return "", "", false
	}
	return prefix, key, true
}
