package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Follow calls fn for every record appended after it starts, until ctx is
// done. The parent directory is watched so the ledger may be created or
// replaced by a reward rewrite while following.
func (l *Ledger) Follow(ctx context.Context, fn func(Record)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(l.path), err)
	}

	offset := int64(0)
	if info, err := os.Stat(l.path); err == nil {
		offset = info.Size()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("trace watcher error", "error", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(l.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			offset, err = l.readFrom(offset, fn)
			if err != nil {
				l.logger.Warn("read appended traces", "error", err)
			}
		}
	}
}

// readFrom emits complete lines after offset and returns the new offset.
// A file shorter than offset was rewritten; its lines were already seen.
func (l *Ledger) readFrom(offset int64, fn func(Record)) (int64, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, err
	}
	if info.Size() < offset {
		return info.Size(), nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			// partial line; pick it up on the next write
			return offset, nil
		}
		offset += int64(len(line))
		var rec Record
		if jsonErr := json.Unmarshal(line, &rec); jsonErr != nil {
			continue
		}
		fn(rec)
	}
}
