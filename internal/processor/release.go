package processor

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// releaser tracks resources acquired during one composition and frees them all,
// in reverse order, on every exit path.
type releaser struct {
	mu    sync.Mutex
	funcs []func() error
}

func (r *releaser) add(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs = append(r.funcs, fn)
}

// file registers a path for removal. A missing file is not an error.
func (r *releaser) file(path string) string {
	r.add(func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %s", path)
		}
		return nil
	})
	return path
}

func (r *releaser) dir(path string) string {
	r.add(func() error {
		return errors.Wrapf(os.RemoveAll(path), "remove %s", path)
	})
	return path
}

// Release runs every registered release; one failure never stops the others.
func (r *releaser) Release() error {
	r.mu.Lock()
	funcs := r.funcs
	r.funcs = nil
	r.mu.Unlock()

	var err error
	for i := len(funcs) - 1; i >= 0; i-- {
		err = multierr.Append(err, funcs[i]())
	}
	return err
}
