// Package live watches a drop directory for inbound message batches and
// feeds them through the ingest hook as they arrive.
package live

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/skein-dev/skein/internal/ingest"
)

// Watcher tails an inbox directory of *.json batch files. Files are picked up
// debounced after the last write event and renamed to *.done once indexed, so
// a restart re-processes nothing (indexing is an upsert anyway, so a crash
// between index and rename is harmless).
type Watcher struct {
	processor *ingest.Processor
	dir       string
	debounce  time.Duration
	log       *zap.Logger
}

// NewWatcher builds a watcher over dir. debounce <= 0 defaults to 2s.
func NewWatcher(processor *ingest.Processor, dir string, debounce time.Duration, log *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{processor: processor, dir: dir, debounce: debounce, log: log}
}

// Run watches until ctx is canceled. Pending batch files are processed once
// on startup before the watch loop begins.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox %s: %w", w.dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.log.Info("watching inbox", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	w.sweep()

	var debounceTimer *time.Timer
	trigger := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(w.debounce, w.sweep)
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				trigger()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

// sweep processes every pending batch file in the inbox, oldest first.
func (w *Watcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("failed to read inbox", zap.Error(err))
		return
	}

	var pending []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		pending = append(pending, entry.Name())
	}
	sort.Strings(pending)

	for _, name := range pending {
		path := filepath.Join(w.dir, name)
		result, err := w.processor.ProcessFile(path)
		if err != nil {
			w.log.Warn("failed to ingest batch", zap.String("file", name), zap.Error(err))
			continue
		}
		if err := os.Rename(path, path+".done"); err != nil {
			w.log.Warn("failed to mark batch done", zap.String("file", name), zap.Error(err))
		}
		w.log.Info("ingested batch",
			zap.String("file", name),
			zap.Int("indexed", result.Indexed),
			zap.Int("resolved", result.Resolved),
			zap.Int("skipped", result.Skipped),
		)
	}
}
