package r2s3

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeUploader struct {
	mu       sync.Mutex
	keys     []string
	failures int
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("transient")
	}
	f.keys = append(f.keys, key)
	return nil
}

func writeFile(t *testing.T, p string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMirror_UploadsWithPrefixAndRetry(t *testing.T) {
	dir := t.TempDir()
	seg := filepath.Join(dir, "episodes", "episodes-2026-01-01-10.jsonl.zst")
	writeFile(t, seg)

	up := &fakeUploader{failures: 2}
	m := NewMirror(up, dir, MirrorOptions{Prefix: "/runs/a/", Backoff: time.Millisecond})
	m.Enqueue(seg)
	m.Enqueue(filepath.Join(dir, "missing.zst"))
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "runs/a/episodes/episodes-2026-01-01-10.jsonl.zst" {
		t.Fatalf("keys: %v", up.keys)
	}
	st := m.Stats()
	if st.EnqueuedTotal != 2 || st.UploadSuccessTotal != 1 || st.UploadFailTotal != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if st.LastSuccessUnix == 0 {
		t.Fatalf("last success not recorded")
	}
}

func TestMirror_RejectsOutsideBase(t *testing.T) {
	base := t.TempDir()
	other := filepath.Join(t.TempDir(), "x.zst")
	writeFile(t, other)
	m := &Mirror{baseDir: base}
	if _, err := m.objectKey(other); err == nil {
		t.Fatalf("expected outside-base error")
	}
}

func TestMirror_NilIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if m.Stats() != (Stats{}) {
		t.Fatalf("nil mirror stats")
	}
}

func TestNormalizeObjectKey(t *testing.T) {
	cases := map[string]string{
		"a/b.zst":       "a/b.zst",
		"/a//b.zst":     "a/b.zst",
		`a\b.zst`:       "a/b.zst",
		"  ":            "",
		"a/../../b.zst": "b.zst",
	}
	for in, want := range cases {
		if got := normalizeObjectKey(in); got != want {
			t.Fatalf("normalizeObjectKey(%q)=%q want %q", in, got, want)
		}
	}
}
