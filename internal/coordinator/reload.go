package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/policydiff"
)

// reloadDebounce is how long the watcher waits after the last write.
const reloadDebounce = 500 * time.Millisecond

// Reloader watches the policy file and the list directory and hot-reloads
// whichever changed.
type Reloader struct {
	watcher    *fsnotify.Watcher
	coord      *Coordinator
	policyPath string
	listDir    string
}

// NewReloader creates a watcher. Either path may be empty.
func NewReloader(coord *Coordinator, policyPath, listDir string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	r := &Reloader{watcher: watcher, coord: coord}

	// Watch the policy file's directory: editors replace files by rename,
	// which drops a watch on the file itself.
	if policyPath != "" {
		if _, err := os.Stat(policyPath); err == nil {
			r.policyPath = filepath.Clean(policyPath)
			if err := watcher.Add(filepath.Dir(r.policyPath)); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("failed to watch %q: %w", policyPath, err)
			}
		}
	}
	if listDir != "" {
		r.listDir = filepath.Clean(listDir)
		if err := watcher.Add(r.listDir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", listDir, err)
		}
	}
	return r, nil
}

// Run handles change events until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var policyTimer, listTimer *time.Timer
	stop := func() {
		if policyTimer != nil {
			policyTimer.Stop()
		}
		if listTimer != nil {
			listTimer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				stop()
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(event.Name)
			switch {
			case name == r.policyPath:
				policyTimer = debounce(policyTimer, func() { r.reloadPolicy(ctx) })
			case r.listDir != "" && filepath.Dir(name) == r.listDir && filepath.Ext(name) == ".list":
				listTimer = debounce(listTimer, func() { r.reloadLists(ctx) })
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				stop()
				return nil
			}
			fmt.Fprintf(os.Stderr, "file watcher error: %v\n", err)
		}
	}
}

func debounce(t *time.Timer, fn func()) *time.Timer {
	if t != nil {
		t.Stop()
	}
	return time.AfterFunc(reloadDebounce, fn)
}

func (r *Reloader) reloadPolicy(ctx context.Context) {
	doc, hash, err := policy.LoadWithHash(r.policyPath)
	if err != nil {
		// A broken edit keeps the running policy.
		fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
		return
	}
	old, current := r.coord.Policy()
	if current == hash {
		return
	}
	if err := r.coord.ReloadPolicy(ctx, doc, hash); err != nil {
		fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "hot-reload: policy reloaded (%s)\n", hash)
	if diff := policydiff.Diff(old, doc); diff.HasChanges {
		diff.OldPath, diff.NewPath = current, hash
		fmt.Fprint(os.Stderr, policydiff.FormatText(diff))
	}
}

func (r *Reloader) reloadLists(ctx context.Context) {
	// The store's own flushes land here too; only a file that disagrees
	// with memory is a hand edit.
	changed, err := r.coord.cfg.Lists.Changed()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
		return
	}
	if !changed {
		return
	}
	if err := r.coord.ReloadLists(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "hot-reload: lists reloaded\n")
}
