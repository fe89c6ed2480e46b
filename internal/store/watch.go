package store

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the store when record files change underneath it, e.g.
// after the transport pulled another replica's changes.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func(*LoadReport, error)

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Watch starts a watcher over the record directories. Events are coalesced
// for debounce before a single Reload. onReload may be nil.
func (s *Store) Watch(ctx context.Context, debounce time.Duration, onReload func(*LoadReport, error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{memoriesDir, relationsDir} {
		if err := fw.Add(filepath.Join(s.root, dir)); err != nil {
			fw.Close()
			return nil, err
		}
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		store:    s,
		watcher:  fw,
		debounce: debounce,
		onReload: onReload,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		<-w.done
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(ev.Name, ".tmp") {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.log.Warn("watch error", zap.Error(err))
		case <-timer.C:
			report, err := w.store.Reload(ctx)
			if err != nil {
				w.store.log.Warn("reload failed", zap.Error(err))
			} else {
				w.store.log.Info("store reloaded",
					zap.Int("memories", report.Memories),
					zap.Int("relations", report.Relations),
					zap.Int("skipped", len(report.Skipped)))
			}
			if w.onReload != nil {
				w.onReload(report, err)
			}
		}
	}
}
