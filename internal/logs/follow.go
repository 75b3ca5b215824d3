package logs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ErrRotated is returned by Follow when the file is removed or renamed.
var ErrRotated = errors.New("log file removed or rotated")

// Follow sends the file's bytes from offset onward to emit, then keeps
// sending appended bytes until ctx is done or the file goes away.
func Follow(ctx context.Context, path string, offset int64, emit func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if offset > 0 {
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if offset > info.Size() {
			offset = info.Size()
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: a watched file that is still open reports its
	// removal late on Linux.
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	buf := make([]byte, copyBufferSize)
	drain := func() error {
		for {
			n, err := f.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if emitErr := emit(chunk); emitErr != nil {
					return emitErr
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}

	// Catch up before waiting for events.
	if err := drain(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) {
				if err := drain(); err != nil {
					return err
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return ErrRotated
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}

// Size returns the current size of path, or 0 if it does not exist.
func Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
