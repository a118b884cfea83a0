// Package download detects files the browser finishes writing into a
// directory and moves them out of the way under collision-free names.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/internal/observability"
	"github.com/xkilldash9x/wabridge/internal/poll"
)

// PartialSuffix marks a download Chrome is still writing.
const PartialSuffix = ".crdownload"

// ErrTimeout is returned when the awaited file never completes in time.
var ErrTimeout = errors.New("download did not complete in time")

// Snapshot is the set of entry names present in the directory at one instant.
type Snapshot map[string]struct{}

// Reconciler watches one download directory.
type Reconciler struct {
	dir      string
	interval time.Duration
	logger   *zap.Logger
}

// New creates a reconciler for dir, creating the directory if needed.
// interval is the polling period used between filesystem notifications.
func New(dir string, interval time.Duration, logger *zap.Logger) (*Reconciler, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download directory %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory %q: %w", abs, err)
	}
	return &Reconciler{
		dir:      abs,
		interval: interval,
		logger:   observability.Component(logger, "download"),
	}, nil
}

// Dir returns the absolute directory path.
func (r *Reconciler) Dir() string { return r.dir }

// Snapshot lists the directory.
func (r *Reconciler) Snapshot() (Snapshot, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.dir, err)
	}
	snap := make(Snapshot, len(entries))
	for _, e := range entries {
		snap[e.Name()] = struct{}{}
	}
	return snap, nil
}

// IsPartial reports whether name is an in-progress download.
func IsPartial(name string) bool {
	return strings.HasSuffix(name, PartialSuffix)
}

// WaitForNew waits for a completed file that was not in before and returns
// its name. When several qualify, the lexically first one wins.
func (r *Reconciler) WaitForNew(ctx context.Context, before Snapshot, timeout time.Duration) (string, error) {
	var found string
	err := r.wait(ctx, timeout, func(context.Context) (bool, error) {
		now, err := r.Snapshot()
		if err != nil {
			return false, err
		}
		var fresh []string
		for name := range now {
			if _, seen := before[name]; seen || IsPartial(name) {
				continue
			}
			fresh = append(fresh, name)
		}
		if len(fresh) == 0 {
			return false, nil
		}
		sort.Strings(fresh)
		found = fresh[0]
		return true, nil
	})
	if err != nil {
		return "", r.timeoutErr(err, "new file")
	}
	return found, nil
}

// WaitForFile waits for the download of name that started after before was
// taken. Chrome saves a download whose name is taken as "stem (N).ext", so
// such a variant counts as well, and a same-named file already in before does
// not. The file is complete once no partial download for the stem remains.
// The returned name is the entry actually written.
func (r *Reconciler) WaitForFile(ctx context.Context, before Snapshot, name string, timeout time.Duration) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid download file name %q", name)
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	var found string
	err := r.wait(ctx, timeout, func(context.Context) (bool, error) {
		snap, err := r.Snapshot()
		if err != nil {
			return false, err
		}
		var fresh []string
		for entry := range snap {
			if IsPartial(entry) {
				if strings.HasPrefix(entry, stem) {
					return false, nil
				}
				continue
			}
			if _, seen := before[entry]; seen {
				continue
			}
			if entry == name || isRenamedCopy(entry, name) {
				fresh = append(fresh, entry)
			}
		}
		if len(fresh) == 0 {
			return false, nil
		}
		// The exact name sorts before its " (N)" variants.
		sort.Strings(fresh)
		found = fresh[0]
		return true, nil
	})
	if err != nil {
		return "", r.timeoutErr(err, name)
	}
	if found != name {
		r.logger.Debug("Download was saved under another name", zap.String("expected", name), zap.String("actual", found))
	}
	return found, nil
}

// isRenamedCopy reports whether entry is name with Chrome's " (N)" counter
// inserted before the extension.
func isRenamedCopy(entry, name string) bool {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	rest, ok := strings.CutPrefix(entry, stem+" (")
	if !ok {
		return false
	}
	counter, ok := strings.CutSuffix(rest, ")"+ext)
	if !ok || counter == "" {
		return false
	}
	for _, c := range counter {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Claim renames a completed download to a unique name built from prefix and
// the extension of name (or defaultExt), returning the new name and its path.
func (r *Reconciler) Claim(name, prefix, defaultExt string) (string, string, error) {
	unique := UniqueName(prefix, name, defaultExt)
	dst := filepath.Join(r.dir, unique)
	if err := os.Rename(filepath.Join(r.dir, name), dst); err != nil {
		return "", "", fmt.Errorf("failed to rename download %q: %w", name, err)
	}
	r.logger.Debug("Claimed download", zap.String("from", name), zap.String("to", unique))
	return unique, dst, nil
}

// UniqueName returns "<prefix>_<uuid><ext>", where ext is the extension of
// original, or defaultExt when original has none.
func UniqueName(prefix, original, defaultExt string) string {
	ext := filepath.Ext(original)
	if ext == "" || ext == original {
		ext = defaultExt
	}
	return prefix + "_" + uuid.NewString() + ext
}

func (r *Reconciler) timeoutErr(err error, what string) error {
	if errors.Is(err, poll.ErrExhausted) {
		return fmt.Errorf("%w: %s in %s", ErrTimeout, what, r.dir)
	}
	return err
}

func (r *Reconciler) wait(ctx context.Context, timeout time.Duration, check poll.Check) error {
	wake, stop := r.watch()
	defer stop()
	return poll.UntilNotified(ctx, poll.Policy{Interval: r.interval, MaxWait: timeout}, wake, check)
}

// watch wakes the poll loop on directory changes. If the watcher cannot be
// set up the returned channel is nil and the loop falls back to its interval.
func (r *Reconciler) watch() (<-chan struct{}, func()) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Debug("Directory watcher unavailable, polling only", zap.Error(err))
		return nil, func() {}
	}
	if err := w.Add(r.dir); err != nil {
		_ = w.Close()
		r.logger.Debug("Directory watcher unavailable, polling only", zap.Error(err))
		return nil, func() {}
	}

	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Debug("Directory watcher error", zap.Error(err))
			}
		}
	}()

	return wake, func() {
		close(done)
		_ = w.Close()
		wg.Wait()
	}
}
