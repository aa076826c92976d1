// Package vfs stages compiler output in memory. Each output file is written
// through a Handle that either commits on Close or is discarded, so a
// failed compilation never leaves a half-written file behind. Committed
// files are flushed to a host directory with PersistTo.
package vfs

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

// validFilename accepts a bare file name: no directories, no traversal.
var validFilename = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

var (
	ErrFileNotFound    = errors.New("file not found")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrHandleClosed    = errors.New("handle already closed")
)

type FileEntry struct {
	Data     []byte
	Modified time.Time
}

// VirtualDisk is an in-memory set of named files.
type VirtualDisk struct {
	Mu         sync.RWMutex
	Files      map[string]*FileEntry
	DirtyFiles map[string]bool
	// Removed holds names whose host copy PersistTo must delete.
	Removed    map[string]bool
}

func NewVirtualDisk() *VirtualDisk {
	return &VirtualDisk{
		Files:      make(map[string]*FileEntry),
		DirtyFiles: make(map[string]bool),
		Removed:    make(map[string]bool),
	}
}

// Write stores a copy of data under filename, replacing any previous content.
func (vd *VirtualDisk) Write(filename string, data []byte) error {
	if !validFilename.MatchString(filename) {
		return ErrInvalidFilename
	}
	newData := make([]byte, len(data))
	copy(newData, data)

	vd.Mu.Lock()
	defer vd.Mu.Unlock()
	vd.Files[filename] = &FileEntry{Data: newData, Modified: time.Now()}
	vd.DirtyFiles[filename] = true
	delete(vd.Removed, filename)
	return nil
}

func (vd *VirtualDisk) Read(filename string) ([]byte, error) {
	vd.Mu.RLock()
	defer vd.Mu.RUnlock()

	if !validFilename.MatchString(filename) {
		return nil, ErrInvalidFilename
	}
	entry, ok := vd.Files[filename]
	if !ok {
		return nil, ErrFileNotFound
	}
	return entry.Data, nil
}

// Delete removes a file. Deleting a file that was never persisted leaves no trace.
func (vd *VirtualDisk) Delete(filename string) error {
	vd.Mu.Lock()
	defer vd.Mu.Unlock()

	if _, ok := vd.Files[filename]; !ok {
		return ErrFileNotFound
	}
	delete(vd.Files, filename)
	delete(vd.DirtyFiles, filename)
	return nil
}

// Remove drops filename from the disk, if present, and schedules its host
// copy for deletion on the next PersistTo.
func (vd *VirtualDisk) Remove(filename string) error {
	if !validFilename.MatchString(filename) {
		return ErrInvalidFilename
	}
	vd.Mu.Lock()
	defer vd.Mu.Unlock()
	delete(vd.Files, filename)
	delete(vd.DirtyFiles, filename)
	vd.Removed[filename] = true
	return nil
}

// List returns all file names in sorted order.
func (vd *VirtualDisk) List() []string {
	vd.Mu.RLock()
	defer vd.Mu.RUnlock()

	keys := make([]string, 0, len(vd.Files))
	for k := range vd.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Create opens a write handle for filename. Nothing becomes visible on the
// disk until the handle is closed without having been discarded.
func (vd *VirtualDisk) Create(filename string) (*Handle, error) {
	if !validFilename.MatchString(filename) {
		return nil, ErrInvalidFilename
	}
	return &Handle{disk: vd, name: filename}, nil
}

// PersistTo writes every file changed since the last call into dir, which is
// created if needed, and deletes the host copy of every removed file. It
// returns the first error; failed files stay pending.
func (vd *VirtualDisk) PersistTo(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	vd.Mu.Lock()
	snapshot := make(map[string][]byte, len(vd.DirtyFiles))
	for name := range vd.DirtyFiles {
		if entry, ok := vd.Files[name]; ok {
			snapshot[name] = entry.Data
		}
		delete(vd.DirtyFiles, name)
	}
	removed := make([]string, 0, len(vd.Removed))
	for name := range vd.Removed {
		removed = append(removed, name)
		delete(vd.Removed, name)
	}
	vd.Mu.Unlock()
	sort.Strings(removed)

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), snapshot[name], 0644); err != nil {
			vd.Mu.Lock()
			vd.DirtyFiles[name] = true
			vd.Mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, name := range removed {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			vd.Mu.Lock()
			vd.Removed[name] = true
			vd.Mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Handle is a scoped output stream for one file.
type Handle struct {
	disk      *VirtualDisk
	name      string
	buf       bytes.Buffer
	discarded bool
	closed    bool
}

// Name returns the file name the handle commits to.
func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) Write(p []byte) (int, error) {
	if h.closed {
		return 0, ErrHandleClosed
	}
	return h.buf.Write(p)
}

// Discard drops everything written so far; a later Close commits nothing.
func (h *Handle) Discard() {
	h.discarded = true
	h.buf.Reset()
}

// Close commits the buffered bytes unless Discard was called. Closing twice
// is a no-op.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.discarded {
		return nil
	}
	return h.disk.Write(h.name, h.buf.Bytes())
}
