// Package watch publishes settings file edits onto the settings queue,
// so a rig can drive the coordinator from a YAML file instead of the
// control socket.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"stimsync/internal/queue"
)

// debounce coalesces editor save bursts into one publish.
const debounce = 100 * time.Millisecond

type Watcher struct {
	path  string
	queue *queue.Settings
}

func New(path string, q *queue.Settings) *Watcher {
	return &Watcher{path: path, queue: q}
}

// Run publishes the file once if it already exists, then watches it until
// ctx is cancelled. The containing directory is watched rather than the
// file itself, so atomic save-and-rename editors keep working.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Printf("Watching settings file %s", w.path)

	if _, err := os.Stat(w.path); err == nil {
		w.load()
	}

	base := filepath.Base(w.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("Warning: settings watcher error: %v", err)
		case <-pending:
			pending = nil
			w.load()
		}
	}
}

// load parses the file and publishes its content. Malformed YAML is
// logged and dropped; the previously published settings stay in effect.
func (w *Watcher) load() {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		log.Printf("Warning: failed to read settings file: %v", err)
		return
	}
	var payload map[string]any
	if err := yaml.Unmarshal(raw, &payload); err != nil {
		log.Printf("Warning: ignoring malformed settings file: %v", err)
		return
	}
	if payload == nil {
		return
	}
	w.queue.Put(payload)
	log.Printf("Published settings from %s (%d keys)", w.path, len(payload))
}
