package storage

import (
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no artifact exists under the requested name.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidName is returned for names that could escape the store.
	ErrInvalidName = errors.New("invalid artifact name")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$`)

// Artifact is a finished output opened for download.
type Artifact struct {
	Name    string
	Size    int64
	ModTime time.Time
	Content io.ReadSeekCloser
}

// Store keeps finished outputs until they expire.
type Store interface {
	// Save moves the file at srcPath into the store under name.
	Save(ctx context.Context, name, srcPath string) error
	Open(ctx context.Context, name string) (*Artifact, error)
	Delete(ctx context.Context, name string) error
	// Sweep removes artifacts last modified before cutoff and reports how many went.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// ValidateName rejects empty names, path separators and traversal.
func ValidateName(name string) error {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}

// RunSweeper evicts artifacts older than ttl every interval until ctx is done.
func RunSweeper(ctx context.Context, store Store, ttl, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.Sweep(ctx, now.Add(-ttl))
			if err != nil {
				log.Warn("artifact sweep failed", zap.Error(err))
			}
			if n > 0 {
				log.Info("expired artifacts removed", zap.Int("count", n))
			}
		}
	}
}
