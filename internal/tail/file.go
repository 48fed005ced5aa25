package tail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FollowFile feeds lines appended to path until ctx is cancelled. The
// parent directory is watched so that rotation (rename + create) and
// truncation are followed. With fromStart the existing content is fed too.
func FollowFile(ctx context.Context, path string, fromStart bool, f *Feeder) error {
	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	ft := &fileTail{path: path, feeder: f}
	defer ft.close()
	if err := ft.open(!fromStart); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	ft.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				ft.close()
				if err := ft.open(false); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
				ft.drain(ctx)
			case ev.Has(fsnotify.Write):
				if ft.file == nil {
					if err := ft.open(false); err != nil && !errors.Is(err, os.ErrNotExist) {
						return err
					}
				}
				ft.drain(ctx)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				ft.drain(ctx)
				ft.close()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}

type fileTail struct {
	path    string
	feeder  *Feeder
	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial string
}

func (t *fileTail) open(atEnd bool) error {
	file, err := os.Open(t.path)
	if err != nil {
		return err
	}
	var offset int64
	if atEnd {
		if offset, err = file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return err
		}
	}
	t.file, t.offset, t.partial = file, offset, ""
	t.reader = bufio.NewReaderSize(file, 64*1024)
	return nil
}

func (t *fileTail) close() {
	if t.file != nil {
		t.file.Close()
		t.file, t.reader = nil, nil
	}
}

func (t *fileTail) drain(ctx context.Context) {
	if t.file == nil {
		return
	}
	if info, err := t.file.Stat(); err == nil && info.Size() < t.offset {
		// truncated in place
		if _, err := t.file.Seek(0, io.SeekStart); err == nil {
			t.offset, t.partial = 0, ""
			t.reader.Reset(t.file)
		}
	}
	for {
		chunk, err := t.reader.ReadSlice('\n')
		t.offset += int64(len(chunk))
		if err == nil {
			t.feeder.Feed(ctx, t.partial+string(chunk))
			t.partial = ""
			continue
		}
		// keep an unterminated tail for the next write, split at maxLineSize
		t.partial += string(chunk)
		if len(t.partial) >= maxLineSize {
			t.feeder.Feed(ctx, t.partial)
			t.partial = ""
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return
		}
	}
}
