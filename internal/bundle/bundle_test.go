package bundle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hyperjump/fusen/internal/models"
	"github.com/hyperjump/fusen/internal/pointcodec"
	"github.com/hyperjump/fusen/internal/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "annotations.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func quadB64(points ...*models.Point) string {
	return base64.StdEncoding.EncodeToString(pointcodec.Encode(points))
}

func sampleQuads() []*models.Point {
	return []*models.Point{
		{X: 0, Y: 10}, {X: 100, Y: 10}, {X: 100, Y: 0}, {X: 0, Y: 0},
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	stroke := &models.InkStroke{
		Meta:      models.Meta{ID: "s1", PageIndex: 0, CreatedAtMs: 10},
		Color:     0xFF0000FF,
		Thickness: 3,
		Points:    []*models.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
	}
	highlight := &models.Highlight{
		Meta:              models.Meta{ID: "h1", PageIndex: 2, LayoutProfileID: "layout-a", CreatedAtMs: 20},
		Type:              models.HighlightTypeStrikeout,
		Color:             0xFFFFFF00,
		Opacity:           0.5,
		QuadPoints:        sampleQuads(),
		Quote:             "quick brown",
		QuotePrefix:       "The ",
		QuoteSuffix:       " fox",
		DocProgress01:     0.25,
		ReflowLocation:    "loc-3",
		AnchorStartWord:   1,
		AnchorEndWordExcl: 3,
	}
	note := &models.Note{
		Meta:     models.Meta{ID: "n1", PageIndex: 1, CreatedAtMs: 30},
		Bounds:   models.Rect{Left: 5, Top: 5, Right: 50, Bottom: 40},
		Text:     "todo",
		Color:    models.NoteDefaultColor,
		FontSize: 12,
	}
	if err := src.InsertInk(ctx, "doc-a", []*models.InkStroke{stroke}); err != nil {
		t.Fatal(err)
	}
	if err := src.InsertHighlight(ctx, "doc-a", highlight); err != nil {
		t.Fatal(err)
	}
	if err := src.InsertNote(ctx, "doc-a", note); err != nil {
		t.Fatal(err)
	}

	data, err := Export(ctx, src, "doc-a")
	if err != nil {
		t.Fatal(err)
	}

	// Import into a different document identity.
	dst := newTestStore(t)
	stats, err := Import(ctx, dst, "doc-b", data)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Ink != 1 || stats.Highlights != 1 || stats.Notes != 1 || stats.Total() != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Skipped != (SkipStats{}) {
		t.Errorf("unexpected skips: %+v", stats.Skipped)
	}

	gotH, err := dst.ListAllHighlights(ctx, "doc-b")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotH) != 1 {
		t.Fatalf("%d highlights after import", len(gotH))
	}
	if diff := cmp.Diff(highlight, gotH[0]); diff != "" {
		t.Errorf("highlight changed across round trip (-want +got):\n%s", diff)
	}

	gotInk, _ := dst.ListAllInk(ctx, "doc-b")
	if len(gotInk) != 1 || gotInk[0].Thickness != 3 || len(gotInk[0].Points) != 2 {
		t.Errorf("ink after import: %+v", gotInk)
	}
	gotNotes, _ := dst.ListAllNotes(ctx, "doc-b")
	if len(gotNotes) != 1 || gotNotes[0].Text != "todo" || gotNotes[0].Bounds != note.Bounds {
		t.Errorf("notes after import: %+v", gotNotes)
	}
}

func TestDecode_FatalErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"wrong format", `{"format":"something-else","version":1,"docId":"d"}`},
		{"version zero", `{"format":"fusen-sidecar","version":0,"docId":"d"}`},
		{"missing doc id", `{"format":"fusen-sidecar","version":1,"docId":"  "}`},
		{"not json", `{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.data)); err == nil {
				t.Error("expected a fatal decode error")
			}
		})
	}
}

func TestDecode_ForwardVersionAccepted(t *testing.T) {
	b, err := Decode([]byte(`{"format":"fusen-sidecar","version":2,"docId":"d","extraField":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if b.Version != 2 {
		t.Errorf("version = %d", b.Version)
	}
}

func TestImport_SkipsRowMissingPayload(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	root := map[string]any{
		"format":  Format,
		"version": 1,
		"docId":   "doc-a",
		"highlights": []map[string]any{
			{
				"id": "good", "pageIndex": 0, "type": "highlight",
				"quadPointsB64": quadB64(sampleQuads()...),
			},
			{
				// No quadPointsB64: skipped, not fatal.
				"id": "bad", "pageIndex": 0, "type": "highlight",
			},
		},
	}
	data, err := json.Marshal(root)
	if err != nil {
		t.Fatal(err)
	}

	stats, err := Import(ctx, store, "doc-a", data)
	if err != nil {
		t.Fatalf("row-level problem must not abort the import: %v", err)
	}
	if stats.Highlights != 1 || stats.Skipped.Highlights != 1 {
		t.Errorf("stats = %+v", stats)
	}
	rows, _ := store.ListAllHighlights(ctx, "doc-a")
	if len(rows) != 1 || rows[0].ID != "good" {
		t.Errorf("stored rows: %+v", rows)
	}
}

func TestDecode_RowValidation(t *testing.T) {
	mkBundle := func(rows []map[string]any) []byte {
		data, _ := json.Marshal(map[string]any{
			"format": Format, "version": 1, "docId": "d", "ink": rows,
		})
		return data
	}
	twoPoints := base64.StdEncoding.EncodeToString(pointcodec.Encode(
		[]*models.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}))

	cases := []struct {
		name     string
		row      map[string]any
		wantKept bool
	}{
		{"valid", map[string]any{"id": "a", "pageIndex": 0, "pointsB64": twoPoints}, true},
		{"missing id", map[string]any{"pageIndex": 0, "pointsB64": twoPoints}, false},
		{"missing page index", map[string]any{"id": "a", "pointsB64": twoPoints}, false},
		{"negative page index", map[string]any{"id": "a", "pageIndex": -1, "pointsB64": twoPoints}, false},
		{"garbage base64", map[string]any{"id": "a", "pageIndex": 0, "pointsB64": "!!"}, false},
		{"single point", map[string]any{"id": "a", "pageIndex": 0,
			"pointsB64": base64.StdEncoding.EncodeToString(pointcodec.Encode([]*models.Point{{X: 1, Y: 1}}))}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Decode(mkBundle([]map[string]any{tc.row}))
			if err != nil {
				t.Fatal(err)
			}
			if kept := len(b.Ink) == 1; kept != tc.wantKept {
				t.Errorf("kept = %v, want %v (skipped: %+v)", kept, tc.wantKept, b.Skipped)
			}
		})
	}
}

func TestDecode_OptionalHighlightFieldsDefault(t *testing.T) {
	data, _ := json.Marshal(map[string]any{
		"format": Format, "version": 1, "docId": "d",
		"highlights": []map[string]any{
			{"id": "h", "pageIndex": 3, "quadPointsB64": quadB64(sampleQuads()...)},
		},
	})
	b, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Highlights) != 1 {
		t.Fatal("row dropped")
	}
	h := b.Highlights[0]
	if h.Type != models.HighlightTypeHighlight {
		t.Errorf("type = %q", h.Type)
	}
	if h.DocProgress01 >= 0 || h.AnchorStartWord >= 0 || h.AnchorEndWordExcl >= 0 {
		t.Errorf("absent optionals must decode to sentinels: %+v", h)
	}
}
