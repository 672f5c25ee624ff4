package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) record(path string) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func (r *recorder) waitFor(t *testing.T, want int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		got := r.snapshot()
		if len(got) >= want {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d callbacks, got %v", want, r.snapshot())
	return nil
}

func startWatcher(t *testing.T, dir string, rec *recorder) *Watcher {
	t.Helper()
	w := NewWatcher(dir, rec.record, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_ImportsDroppedBundle(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	path := filepath.Join(dir, "annotations.json")
	if err := os.WriteFile(path, []byte(`{}`), 0600); err != nil {
		t.Fatal(err)
	}

	got := rec.waitFor(t, 1, 3*time.Second)
	if filepath.Clean(got[0]) != filepath.Clean(path) {
		t.Errorf("callback path = %q, want %q", got[0], path)
	}
}

func TestWatcher_IgnoresNonBundleFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("non-json file triggered import: %v", got)
	}
}

func TestWatcher_DebouncesRepeatedWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	path := filepath.Join(dir, "bundle.json")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`{}`), 0600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec.waitFor(t, 1, 3*time.Second)
	// A trailing settle window: no further imports should fire.
	time.Sleep(300 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("%d imports for one settled file, want 1", len(got))
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := startWatcher(t, dir, rec)
	w.Stop()
	w.Stop()
}

func TestWatcher_StartOnMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "nope"), func(string) {})
	if err := w.Start(context.Background()); err == nil {
		t.Error("expected an error for a missing root")
		w.Stop()
	}
}

func TestIsBundleFile(t *testing.T) {
	cases := map[string]bool{
		"/a/b.json":  true,
		"/a/b.JSON":  true,
		"/a/b.txt":   false,
		"/a/b.jsonx": false,
		"/a/json":    false,
	}
	for path, want := range cases {
		if got := isBundleFile(path); got != want {
			t.Errorf("isBundleFile(%q) = %v, want %v", path, got, want)
		}
	}
}
