package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/partstock/internal/inventory"
	"github.com/seantiz/partstock/internal/model"
)

const yamlManifest = `
parts:
  - sku: R-10K
    name: 10k resistor
    quantity: 500
    location: A1
  - sku: C-100N
    name: 100nF capacitor
    quantity: 1200
`

func postImport(t *testing.T, url, contentType, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/v1/parts/import", contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST import: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestImportParts(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postImport(t, ts.URL, "application/yaml", yamlManifest)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var accepted importResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.TaskID == "" {
		t.Fatal("expected task_id")
	}

	task := waitForState(t, srv.engine, accepted.TaskID, model.TaskSucceeded)
	if task.Kind != inventory.TaskKind {
		t.Errorf("kind = %q, want %q", task.Kind, inventory.TaskKind)
	}
	if task.Progress != 100 {
		t.Errorf("progress = %d, want 100", task.Progress)
	}

	listResp := doRequest(t, http.MethodGet, ts.URL+"/v1/parts")
	defer listResp.Body.Close()

	var list listPartsResponse
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 2 || len(list.Parts) != 2 {
		t.Fatalf("list = %+v, want 2 parts", list)
	}

	getResp := doRequest(t, http.MethodGet, ts.URL+"/v1/parts/"+list.Parts[0].ID)
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d, want 200", getResp.StatusCode)
	}
}

func TestImportPartsRejectsInvalidManifest(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"duplicate sku", "application/json", `{"parts":[{"sku":"A","name":"a"},{"sku":"A","name":"b"}]}`},
		{"empty", "application/json", `{"parts":[]}`},
		{"bad yaml", "application/yaml", "parts: [:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postImport(t, ts.URL, tt.contentType, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	if stats := srv.engine.Stats(); stats.Total != 0 {
		t.Errorf("tasks = %d, want none submitted", stats.Total)
	}
}

func TestImportPartsAfterShutdown(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	if err := srv.coord.Shutdown(testShutdownTimeout); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	resp := postImport(t, ts.URL, "application/yaml", yamlManifest)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestGetPartNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// A malformed id and a well-formed id with no row both answer 404.
	for _, id := range []string{"nope", model.NewID()} {
		resp := doRequest(t, http.MethodGet, ts.URL+"/v1/parts/"+id)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET /v1/parts/%s status = %d, want 404", id, resp.StatusCode)
		}
	}
}

func TestPartStreamReceivesUpdates(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	first := postImport(t, ts.URL, "application/json", `{"parts":[{"sku":"A","name":"a","quantity":1}]}`)
	var accepted importResponse
	if err := json.NewDecoder(first.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	waitForState(t, srv.engine, accepted.TaskID, model.TaskSucceeded)

	listResp := doRequest(t, http.MethodGet, ts.URL+"/v1/parts")
	defer listResp.Body.Close()
	var list listPartsResponse
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	partID := list.Parts[0].ID

	stream := openStream(t, ts.URL+"/v1/topics/part/"+partID+"/stream")
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d, want 200", stream.StatusCode)
	}

	second := postImport(t, ts.URL, "application/json", `{"parts":[{"sku":"A","name":"a","quantity":7}]}`)
	if second.StatusCode != http.StatusAccepted {
		t.Fatalf("import status = %d, want 202", second.StatusCode)
	}

	events := readEvents(t, stream.Body, inventory.EventPartUpdated)
	if len(events) != 1 {
		t.Fatalf("events = %v, want one update", eventNames(events))
	}
	if !strings.Contains(events[0].data, `"quantity":7`) {
		t.Errorf("update data = %s", events[0].data)
	}
}
