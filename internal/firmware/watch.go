package firmware

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/logging"
)

// settleDelay coalesces the burst of write events a single copy produces.
const settleDelay = 300 * time.Millisecond

// Watch rescans the catalog whenever an application image in its directory
// is created, written, renamed or removed. onChange, if non-nil, receives the
// image current after each rescan (nil when none is left). Watch blocks until
// ctx is done.
func (c *Catalog) Watch(ctx context.Context, onChange func(*Image)) error {
	dir := c.Dir()
	if dir == "" {
		return errors.New("no firmware directory to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logging.Info("Watching firmware directory", zap.String("dir", dir))

	var (
		settle  *time.Timer
		settleC <-chan time.Time
	)
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			logging.Debug("Firmware directory event",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()),
			)
			if settle == nil {
				settle = time.NewTimer(settleDelay)
			} else {
				if !settle.Stop() {
					select {
					case <-settle.C:
					default:
					}
				}
				settle.Reset(settleDelay)
			}
			settleC = settle.C

		case <-settleC:
			settleC = nil
			c.rescanAndNotify(onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Firmware watcher error", zap.Error(err))
		}
	}
}

func (c *Catalog) rescanAndNotify(onChange func(*Image)) {
	err := c.Rescan()
	img, ok := c.Current()
	switch {
	case err != nil && !errors.Is(err, ErrNotFound):
		logging.Warn("Failed to rescan firmware", zap.Error(err))
	case !ok:
		logging.Warn("No firmware image available", zap.String("dir", c.Dir()))
	default:
		logging.Info("Firmware updated",
			zap.String("name", img.Name),
			zap.String("size", img.SizeLabel),
			zap.String("md5", img.MD5),
		)
	}
	if onChange != nil {
		if !ok {
			img = nil
		}
		onChange(img)
	}
}

func relevant(event fsnotify.Event) bool {
	if !IsApplicationImage(filepath.Base(event.Name)) {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}
