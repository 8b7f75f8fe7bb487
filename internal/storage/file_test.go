package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "render.mp4")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFileStoreSaveAndOpen(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}

	src := writeTemp(t, "video-bytes")
	if err := store.Save(ctx, "3f1c.mp4", src); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source should be moved, stat err = %v", err)
	}

	art, err := store.Open(ctx, "3f1c.mp4")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer art.Content.Close()
	body, err := io.ReadAll(art.Content)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "video-bytes" || art.Size != int64(len(body)) {
		t.Fatalf("unexpected artifact %q (size %d)", body, art.Size)
	}
}

func TestFileStoreOpenMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Open(context.Background(), "nope.mp4")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(context.Background(), "nope.mp4"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"final_output.mp4", true},
		{"0b8e7c1e-5d1a-4f7e-9a55-3a4f2b1c9d00.mp4", true},
		{"", false},
		{"..", false},
		{"../etc/passwd", false},
		{"a/b.mp4", false},
		{`a\b.mp4`, false},
		{".hidden", false},
		{"clip..mp4", false},
		{"with space.mp4", false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateName(%q) = %v, want valid=%v", tt.name, err, tt.valid)
		}
		if err != nil && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) should wrap ErrInvalidName, got %v", tt.name, err)
		}
	}
}

func TestFileStoreSweep(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"old.mp4", "new.mp4"} {
		if err := store.Save(ctx, name, writeTemp(t, name)); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "old.mp4"), past, past); err != nil {
		t.Fatal(err)
	}

	n, err := store.Sweep(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, err := store.Open(ctx, "old.mp4"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old artifact should be gone, got %v", err)
	}
	art, err := store.Open(ctx, "new.mp4")
	if err != nil {
		t.Fatalf("new artifact should survive: %v", err)
	}
	art.Content.Close()
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(context.Background(), "stale.mp4", writeTemp(t, "x")); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "stale.mp4"), past, past); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, store, time.Minute, 10*time.Millisecond, zap.NewNop())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(dir, "stale.mp4")); os.IsNotExist(err) {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("sweeper did not remove the stale artifact")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
