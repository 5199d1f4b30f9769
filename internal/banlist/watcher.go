package banlist

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a List whenever its rule file changes on disk, so
// bans take effect without a server restart.
type Watcher struct {
	list   *List
	logger *zap.Logger
	fw     *fsnotify.Watcher
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewWatcher starts watching the list's rule file.
//
// Precondition: list must have been loaded from a non-empty path;
// logger must be non-nil.
// Postcondition: Returns a running Watcher or a non-nil error.
func NewWatcher(list *List, logger *zap.Logger) (*Watcher, error) {
	if list.Path() == "" {
		return nil, fmt.Errorf("ban list has no file to watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating ban list watcher: %w", err)
	}
	if err := fw.Add(list.Path()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", list.Path(), err)
	}

	w := &Watcher{
		list:   list,
		logger: logger,
		fw:     fw,
		quit:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := w.list.Reload(); err != nil {
				w.logger.Warn("ban list reload failed", zap.Error(err))
				continue
			}
			w.logger.Info("ban list reloaded",
				zap.String("path", w.list.Path()),
				zap.Int("rules", w.list.Len()),
			)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("ban list watch error", zap.Error(err))
		}
	}
}

// Stop stops watching the rule file. The list keeps its current rules.
func (w *Watcher) Stop() {
	close(w.quit)
	w.fw.Close()
	w.wg.Wait()
}
