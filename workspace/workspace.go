// Package workspace clears the download and encode directories.
package workspace

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"feedrelay/models"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// Workspace is the set of scratch directories owned by this process.
type Workspace struct {
	fs   afero.Fs
	dirs []string
}

// New creates a workspace over dirs. Empty entries are ignored.
func New(fs afero.Fs, dirs ...string) *Workspace {
	w := &Workspace{fs: fs}
	for _, d := range dirs {
		if d != "" {
			w.dirs = append(w.dirs, filepath.Clean(d))
		}
	}
	return w
}

// ForSettings covers the download, swarm, encode and split directories.
func ForSettings(fs afero.Fs, s *models.Settings) *Workspace {
	return New(fs, s.Download.Dir, s.Download.DataDir, s.Encode.Dir, s.Upload.TempDir)
}

// Dirs returns the managed directories.
func (w *Workspace) Dirs() []string {
	return w.dirs
}

// Purge deletes everything inside each directory, keeping the directories themselves.
// It carries on past failures and returns them together, with the number of entries removed.
func (w *Workspace) Purge() (int, error) {
	var result *multierror.Error
	removed := 0
	for _, dir := range w.dirs {
		n, err := w.purgeDir(dir)
		removed += n
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if removed > 0 {
		log.Printf("Purged %d entries from %v", removed, w.dirs)
	}
	return removed, result.ErrorOrNil()
}

// ErrWorkerActive is returned by PurgeIdle while a worker holds a live lease.
var ErrWorkerActive = errors.New("a worker cycle is running")

// LeaseSource reads the persisted worker lease.
type LeaseSource interface {
	State() (models.WorkerState, error)
}

// PurgeIdle purges only when no worker holds a live lease, so an out-of-process
// purge cannot delete files a running cycle is downloading or uploading.
func (w *Workspace) PurgeIdle(leases LeaseSource, now time.Time) (int, error) {
	state, err := leases.State()
	if err != nil {
		return 0, fmt.Errorf("failed to read worker lease: %w", err)
	}
	if state.IsWorking(now) {
		return 0, fmt.Errorf("%w (owner %s, lease until %s)", ErrWorkerActive, state.LeaseOwner, state.LeaseExpiresAt.Format(time.RFC3339))
	}
	return w.Purge()
}

func (w *Workspace) purgeDir(dir string) (int, error) {
	exists, err := afero.DirExists(w.fs, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !exists {
		return 0, nil
	}
	entries, err := afero.ReadDir(w.fs, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var result *multierror.Error
	removed := 0
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if err := w.fs.RemoveAll(path); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to remove %s: %w", path, err))
			continue
		}
		removed++
	}
	return removed, result.ErrorOrNil()
}

// Usage returns the total size in bytes of the files under the managed directories.
func (w *Workspace) Usage() (int64, error) {
	var total int64
	for _, dir := range w.dirs {
		if ok, _ := afero.DirExists(w.fs, dir); !ok || w.nested(dir) {
			continue
		}
		err := afero.Walk(w.fs, dir, func(_ string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() {
				total += info.Size()
			}
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// nested reports whether dir lies inside another managed directory.
func (w *Workspace) nested(dir string) bool {
	for _, other := range w.dirs {
		if other == dir {
			continue
		}
		rel, err := filepath.Rel(other, dir)
		if err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}
