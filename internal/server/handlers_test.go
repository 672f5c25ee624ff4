package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/fusen/internal/config"
	"github.com/hyperjump/fusen/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "annotations.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return NewServer(store, cfg, zap.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestServer(t).Router(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAddAndListInk(t *testing.T) {
	router := newTestServer(t).Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents/doc-1/ink", map[string]any{
		"pageIndex": 0,
		"color":     4278190335,
		"thickness": 2.0,
		"points":    []map[string]any{{"x": 1, "y": 2}, {"x": 3, "y": 4}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)
	if created.ID == "" {
		t.Fatal("no id returned")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/documents/doc-1/pages/0/annotations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var listing struct {
		Ink []struct {
			ID     string              `json:"id"`
			Points []map[string]float64 `json:"points"`
		} `json:"ink"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Ink) != 1 || listing.Ink[0].ID != created.ID {
		t.Fatalf("listing: %+v", listing)
	}
	if len(listing.Ink[0].Points) != 2 {
		t.Errorf("points not serialized: %+v", listing.Ink[0])
	}
}

func TestAddInk_RejectsDegenerate(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents/doc-1/ink", map[string]any{
		"pageIndex": 0,
		"points":    []map[string]any{{"x": 1, "y": 2}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHighlightLifecycleAndUndo(t *testing.T) {
	router := newTestServer(t).Router()
	quad := []map[string]any{
		{"x": 0, "y": 10}, {"x": 50, "y": 10}, {"x": 50, "y": 0}, {"x": 0, "y": 0},
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents/doc-1/highlights", map[string]any{
		"pageIndex":  2,
		"type":       "underline",
		"quote":      "quick brown",
		"quadPoints": quad,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/documents/doc-1/highlights/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}

	// Undo restores the deleted highlight.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/documents/doc-1/undo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("undo: %d", rec.Code)
	}
	var undo struct {
		Undone bool `json:"undone"`
	}
	decodeBody(t, rec, &undo)
	if !undo.Undone {
		t.Error("undo reported nothing to undo")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/documents/doc-1/pages/2/annotations", nil)
	var listing struct {
		Highlights []struct {
			ID string `json:"id"`
		} `json:"highlights"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Highlights) != 1 || listing.Highlights[0].ID != created.ID {
		t.Errorf("highlight not restored: %+v", listing)
	}
}

func TestNoteUpdate(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents/doc-1/notes", map[string]any{
		"pageIndex": 0,
		"bounds":    map[string]any{"left": 0, "top": 0, "right": 40, "bottom": 20},
		"text":      "first",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)

	rec = doJSON(t, router, http.MethodPatch, "/api/v1/documents/doc-1/notes/"+created.ID, map[string]any{
		"text": "second",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/documents/doc-1/pages/0/annotations", nil)
	var listing struct {
		Notes []struct {
			Text string `json:"text"`
		} `json:"notes"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Notes) != 1 || listing.Notes[0].Text != "second" {
		t.Errorf("note not updated: %+v", listing)
	}
}

func TestProbesAndStatus(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents/doc-1/highlights", map[string]any{
		"pageIndex":       0,
		"layoutProfileId": "layout-a",
		"quadPoints": []map[string]any{
			{"x": 0, "y": 10}, {"x": 10, "y": 10}, {"x": 10, "y": 0}, {"x": 0, "y": 0},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/documents/doc-1/probes?layout=layout-b", nil)
	var probes map[string]bool
	decodeBody(t, rec, &probes)
	if probes["hasAnnotationsInLayout"] {
		t.Error("in-layout probe false positive")
	}
	if !probes["hasAnnotationsElsewhere"] {
		t.Error("elsewhere probe missed layout-a row")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/documents/doc-1/status", nil)
	var status struct {
		Highlights int64 `json:"highlights"`
	}
	decodeBody(t, rec, &status)
	if status.Highlights != 1 {
		t.Errorf("status = %s", rec.Body.String())
	}
}

func TestBundleExportImport(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents/doc-1/ink", map[string]any{
		"pageIndex": 0,
		"points":    []map[string]any{{"x": 1, "y": 1}, {"x": 2, "y": 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/documents/doc-1/bundle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}
	exported := rec.Body.Bytes()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/doc-2/bundle", bytes.NewReader(exported))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("import: %d %s", rec2.Code, rec2.Body.String())
	}
	var stats struct {
		Imported int `json:"imported"`
	}
	decodeBody(t, rec2, &stats)
	if stats.Imported != 1 {
		t.Errorf("imported = %d", stats.Imported)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/documents/doc-2/pages/0/annotations", nil)
	var listing struct {
		Ink []json.RawMessage `json:"ink"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Ink) != 1 {
		t.Errorf("imported row not listed under doc-2: %s", rec.Body.String())
	}
}

func TestImportBundle_BadFormat(t *testing.T) {
	router := newTestServer(t).Router()
	body := bytes.NewReader([]byte(`{"format":"nope","version":1,"docId":"x"}`))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/doc-1/bundle", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReanchor_RequiresLayout(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents/doc-1/reanchor", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestOpenDocument_MissingFile(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents", map[string]any{
		"path": filepath.Join(t.TempDir(), "missing.pdf"),
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPageIndexValidation(t *testing.T) {
	router := newTestServer(t).Router()
	for _, page := range []string{"-1", "abc"} {
		rec := doJSON(t, router, http.MethodGet,
			fmt.Sprintf("/api/v1/documents/doc-1/pages/%s/annotations", page), nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("page %q: status = %d, want 400", page, rec.Code)
		}
	}
}
