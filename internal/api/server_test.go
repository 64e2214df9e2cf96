package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/partstock/internal/engine"
	"github.com/seantiz/partstock/internal/inventory"
	"github.com/seantiz/partstock/internal/lifecycle"
	"github.com/seantiz/partstock/internal/relay"
	"github.com/seantiz/partstock/internal/store"
)

const testShutdownTimeout = 2 * time.Second

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	coord := lifecycle.NewCoordinator(logger)
	router := relay.NewRouter()
	hub := relay.NewHub()
	reg := relay.NewRegistry(router, hub, coord, logger)
	eng := engine.New(engine.Options{Workers: 2, PollInterval: 10 * time.Millisecond}, coord, reg, logger)
	RegisterStreamRoutes(router, eng, s)

	srv := NewServer(":0", testShutdownTimeout, Deps{
		Store:       s,
		Engine:      eng,
		Registry:    reg,
		Coordinator: coord,
		Importer:    inventory.NewImporter(s, reg, logger),
		Hub:         hub,
	}, logger)

	coord.FireStartup()
	t.Cleanup(func() {
		coord.Shutdown(testShutdownTimeout)
		eng.Wait()
	})
	return srv
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestStreamRoutesNotMountedWithoutHub(t *testing.T) {
	full := newTestServer(t)
	srv := NewServer(":0", testShutdownTimeout, Deps{
		Store:       full.store,
		Engine:      full.engine,
		Registry:    full.registry,
		Coordinator: full.coord,
		Importer:    full.importer,
	}, full.logger)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/topics/part/x/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
