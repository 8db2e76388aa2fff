package bank

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"YoloBench/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Catalog keeps the bank listing in memory and refreshes it when the
// directory changes on disk.
type Catalog struct {
	bank    *Bank
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	files []string
	err   error

	changed chan struct{}
}

// NewCatalog creates the bank directory if needed and starts watching it.
func NewCatalog(b *Bank) (*Catalog, error) {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", b.Dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(b.Dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", b.Dir, err)
	}
	c := &Catalog{bank: b, watcher: w, changed: make(chan struct{}, 1)}
	c.refresh()
	return c, nil
}

// Files returns the cached listing, with the same errors as Bank.List.
func (c *Catalog) Files() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	return slices.Clone(c.files), nil
}

// Changed is signalled after each refresh triggered by a directory event.
func (c *Catalog) Changed() <-chan struct{} {
	return c.changed
}

func (c *Catalog) refresh() {
	files, err := c.bank.List()
	c.mu.Lock()
	c.files, c.err = files, err
	c.mu.Unlock()
}

// Run processes directory events until ctx is done, then closes the watcher.
func (c *Catalog) Run(ctx context.Context) {
	defer c.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
				continue
			}
			c.refresh()
			if files, err := c.Files(); err == nil {
				logger.Log().Debug("bank changed", zap.String("event", ev.String()), zap.Int("files", len(files)))
			} else if !errors.Is(err, ErrNotFound) {
				logger.Log().Warn("bank refresh failed", zap.Error(err))
			}
			select {
			case c.changed <- struct{}{}:
			default:
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			logger.Log().Warn("bank watcher error", zap.Error(err))
		}
	}
}
