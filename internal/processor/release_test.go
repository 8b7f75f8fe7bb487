package processor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

func TestReleaseAttemptsEveryResource(t *testing.T) {
	var order []int
	r := &releaser{}
	r.add(func() error { order = append(order, 1); return nil })
	r.add(func() error { order = append(order, 2); return errors.New("close failed") })
	r.add(func() error { order = append(order, 3); return errors.New("busy") })

	err := r.Release()
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 combined errors, got %d (%v)", got, err)
	}
	if len(order) != 3 || order[0] != 3 || order[2] != 1 {
		t.Fatalf("expected reverse release of all resources, got %v", order)
	}
	if err := r.Release(); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}

func TestReleaseRemovesFilesAndDirs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "work")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, "01_body_trimmed.mp4")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	r := &releaser{}
	r.dir(dir)
	r.file(file)
	r.file(filepath.Join(dir, "never_created.mp4"))

	if err := r.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("work dir should be gone, stat err = %v", err)
	}
}
