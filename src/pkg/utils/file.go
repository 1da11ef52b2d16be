package utils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WriteNewFile creates path exclusively and writes data into it. An existing
// file is never overwritten.
func WriteNewFile(path string, data []byte, perm os.FileMode) (retErr error) {
	file, openErr := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if openErr != nil {
		return openErr
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			if retErr == nil {
				// Return close error if no other error
				retErr = closeErr
			} else {
				retErr = errors.Join(retErr, closeErr)
			}
		}
		if retErr != nil {
			if rmErr := os.Remove(file.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
				retErr = errors.Join(retErr, rmErr)
			}
		}
	}()

	if _, writeErr := file.Write(data); writeErr != nil {
		return fmt.Errorf("failed to write %s: %w", path, writeErr)
	}
	return file.Sync()
}

// WatchFile calls onChange every time filename is written or (re)created and
// blocks until ctx is cancelled. The parent directory is watched so that
// editors replacing the file atomically are noticed too.
func WatchFile(ctx context.Context, filename string, onChange func()) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	watcher, watcherErr := fsnotify.NewWatcher()
	if watcherErr != nil {
		return watcherErr
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Error("WatchFile: failed to close watcher", "error", err)
		}
	}()

	if addErr := watcher.Add(dir); addErr != nil {
		return addErr
	}

	slog.Debug("WatchFile: starting to watch directory", "directory", dir, "filename", base)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				slog.Debug("WatchFile: file changed", "event", event.Op, "name", event.Name)
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			slog.Warn("WatchFile: watcher error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}
