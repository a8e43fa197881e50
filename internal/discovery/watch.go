package discovery

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces bursts of filesystem events (e.g. an editor saving
// a manifest writes several events in quick succession) into one rediscovery.
const debounceWindow = 200 * time.Millisecond

// Watch rediscovers roots whenever a file under any of them changes, and
// publishes the fresh Catalog on the returned channel, so a long-running
// host process can keep its view of available cases/suites/plans current
// without polling. The channels are closed when ctx is canceled.
func Watch(ctx context.Context, roots Roots) (<-chan *Catalog, <-chan error) {
	catalogs := make(chan *Catalog)
	errs := make(chan error, 1)

	go func() {
		defer close(catalogs)
		defer close(errs)

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			errs <- err
			return
		}
		defer watcher.Close()

		for _, root := range []string{roots.CasesRoot, roots.SuitesRoot, roots.PlansRoot} {
			if root == "" {
				continue
			}
			if err := addTree(watcher, root); err != nil {
				errs <- err
				return
			}
		}

		cat, _, err := Discover(roots)
		if err != nil {
			errs <- err
			return
		}
		if !publish(ctx, catalogs, cat) {
			return
		}

		var timer *time.Timer
		pending := false
		for {
			var fire <-chan time.Time
			if timer != nil {
				fire = timer.C
			}
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				pending = true
				if timer == nil {
					timer = time.NewTimer(debounceWindow)
				} else {
					timer.Reset(debounceWindow)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				default:
				}
			case <-fire:
				if !pending {
					continue
				}
				pending = false
				cat, _, err := Discover(roots)
				if err != nil {
					select {
					case errs <- err:
					default:
					}
					continue
				}
				if !publish(ctx, catalogs, cat) {
					return
				}
			}
		}
	}()

	return catalogs, errs
}

func publish(ctx context.Context, ch chan<- *Catalog, cat *Catalog) bool {
	select {
	case ch <- cat:
		return true
	case <-ctx.Done():
		return false
	}
}

// addTree watches root and its immediate subdirectories: new manifests added
// to a new test-case/suite/plan folder after the watch started are still
// observed because fsnotify on the parent reports the create, and at that
// point we simply rediscover (which re-reads the whole root).
func addTree(watcher *fsnotify.Watcher, root string) error {
	if err := watcher.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := watcher.Add(filepath.Join(root, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
