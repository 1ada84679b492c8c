// source/memory.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package source

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"
)

type memfile struct {
	data    []byte
	modTime time.Time
}

// Memory implements Directory with all file contents held in RAM. It's
// really only useful for testing of code built on top of Directory,
// where we may want to save the trouble of writing a bunch of files to
// disk first.
type Memory struct {
	files map[string]memfile
}

// Duplicate the provided byte slice.
func dupe(src []byte) []byte {
	d := make([]byte, len(src))
	copy(d, src)
	return d
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string]memfile)}
}

// Add registers a file with the given name, contents, and modification
// time. Adding the same name twice is a caller error.
func (m *Memory) Add(name string, data []byte, modTime time.Time) {
	if _, ok := m.files[name]; ok {
		log.Fatal("%s: file already added", name)
	}
	m.files[name] = memfile{data: dupe(data), modTime: modTime}
}

func (m *Memory) String() string {
	return "memory"
}

func (m *Memory) List() ([]string, error) {
	var names []string
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Open(name string) (File, error) {
	mf, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrFileNotFound)
	}
	return &memoryFile{r: bytes.NewReader(mf.data), name: name,
		size: int64(len(mf.data)), modTime: mf.modTime}, nil
}

type memoryFile struct {
	r       *bytes.Reader
	name    string
	size    int64
	modTime time.Time
}

func (f *memoryFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}
	return f.r.ReadAt(p, off)
}

func (f *memoryFile) Close() error {
	return nil
}

func (f *memoryFile) Name() string {
	return f.name
}

func (f *memoryFile) Size() int64 {
	return f.size
}

func (f *memoryFile) ModTime() time.Time {
	return f.modTime
}
