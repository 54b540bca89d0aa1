// Re-runs a sync whenever the watched source trees change, with
// debouncing so event storms collapse into one run.
package syncwatch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/function61/gokit/logex"
)

type Watcher struct {
	paths    []string
	debounce time.Duration
	resync   func(ctx context.Context) error
	log      *logex.Leveled
}

func New(paths []string, debounce time.Duration, resync func(ctx context.Context) error, logger *log.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		paths:    paths,
		debounce: debounce,
		resync:   resync,
		log:      logex.Levels(logex.NonNil(logger)),
	}, nil
}

// Run syncs once up front, then blocks re-syncing on changes until the
// context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer notify.Close()

	for _, path := range w.paths {
		if err := addRecursively(notify, filepath.Clean(strings.TrimSuffix(path, "/"))); err != nil {
			return err
		}
	}

	if err := w.resync(ctx); err != nil {
		return err
	}

	// a nil channel never fires; armed only while changes are pending
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-notify.Events:
			if !ok {
				return nil
			}

			// new subdirectories must get watched too
			if event.Has(fsnotify.Create) {
				if fi, err := os.Lstat(event.Name); err == nil && fi.IsDir() {
					if err := addRecursively(notify, event.Name); err != nil {
						w.log.Error.Printf("watch %s: %v", event.Name, err)
					}
				}
			}

			w.log.Debug.Printf("%s", event)
			pending = time.After(w.debounce)

		case err, ok := <-notify.Errors:
			if !ok {
				return nil
			}
			w.log.Error.Printf("watcher: %v", err)

		case <-pending:
			pending = nil

			if err := w.resync(ctx); err != nil {
				return err
			}
			w.log.Info.Printf("re-synced")
		}
	}
}

func addRecursively(notify *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return notify.Add(path)
		}

		return nil
	})
}
