// Package spool implements the handoff between the decoder and the
// curator: one JSON document per file, named so that lexical order is
// arrival order, written under a temporary name and renamed once
// complete. The curator deletes each file after applying it, so the
// directory doubles as the crash-recovery backlog.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Writer emits spool files into a single directory. Safe for
// concurrent use.
type Writer struct {
	dir string

	mu   sync.Mutex
	seq  int
	last string
}

// NewWriter creates the spool directory if needed and returns a writer
// for it.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write stores one JSON document stamped with now and returns the
// final path. The sequence suffix keeps files landing within the same
// microsecond ordered; image block bursts are the usual cause.
func (w *Writer) Write(doc []byte, now time.Time) (string, error) {
	w.mu.Lock()
	stamp := now.UTC().Format("20060102T150405.000000")
	if stamp == w.last {
		w.seq = (w.seq + 1) % 100
	} else {
		w.last = stamp
		w.seq = 0
	}
	name := fmt.Sprintf("%s-%02d.json", stamp, w.seq)
	w.mu.Unlock()

	if len(doc) == 0 || doc[len(doc)-1] != '\n' {
		doc = append(doc, '\n')
	}

	tmp := filepath.Join(w.dir, name+".tmp")
	if err := os.WriteFile(tmp, doc, 0o644); err != nil {
		return "", fmt.Errorf("failed to write spool file: %w", err)
	}
	final := filepath.Join(w.dir, name)
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("failed to publish spool file: %w", err)
	}
	return final, nil
}

// Scan lists the finished spool files, oldest first. Files still being
// written carry the temporary suffix and are skipped.
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}
	// os.ReadDir returns entries sorted by name, which is arrival
	// order by construction.
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// Archive appends raw capture lines to day-stamped files, one per UTC
// day, in the format the trickle replayer reads back.
type Archive struct {
	dir string

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewArchive creates the archive directory if needed and returns an
// archive writer for it.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// WriteLine appends one capture line to the file named for now's UTC
// day, rotating when the day changes.
func (a *Archive) WriteLine(line string, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	day := now.UTC().Format("20060102")
	if a.file == nil || day != a.day {
		if a.file != nil {
			a.file.Close()
			a.file = nil
		}
		f, err := os.OpenFile(filepath.Join(a.dir, day+".978"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open archive file: %w", err)
		}
		a.file, a.day = f, day
	}

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := a.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to append to archive: %w", err)
	}
	return nil
}

// Close closes the current archive file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
