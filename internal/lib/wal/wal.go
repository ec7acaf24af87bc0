// Package wal is an append-only JSON-lines log used to rebuild in-memory state on start.
package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

const FileMode fs.FileMode = 0600

type WAL struct {
	file *os.File
	mu   sync.Mutex
}

// Open opens or creates the log at path. Writes always go to the end of the file.
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileMode)
	if err != nil {
		return nil, fmt.Errorf("wal.Open: %w", err)
	}
	return &WAL{file: file}, nil
}

// Write appends v as one JSON line and fsyncs before returning.
func (w *WAL) Write(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wal.Write: %w", err)
	}
	raw = append(raw, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(raw); err != nil {
		return fmt.Errorf("wal.Write: %w", err)
	}
	return w.file.Sync()
}

func (w *WAL) Close() error {
	return w.file.Close()
}

// ReadAll replays every record from the start of the log. A torn final line left by a
// crash mid-write is truncated away.
func (w *WAL) ReadAll(callback func(raw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal.ReadAll: %w", err)
	}

	reader := bufio.NewReader(w.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				return w.file.Truncate(offset)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("wal.ReadAll: %w", err)
		}
		offset += int64(len(line))
		if len(line) <= 1 {
			continue
		}
		if err := callback(line[:len(line)-1]); err != nil {
			return err
		}
	}
}
