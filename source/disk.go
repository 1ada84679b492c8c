// source/disk.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package source

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"
)

type disk struct {
	dir string
}

// NewDisk returns a Directory for the source files in the local
// directory at the given path.
func NewDisk(dir string) (Directory, error) {
	stat, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotDirectory)
	}
	return &disk{dir: dir}, nil
}

func (d *disk) String() string {
	return "disk: " + d.dir
}

func (d *disk) List() ([]string, error) {
	// ioutil.ReadDir returns entries sorted by name, which gives us a
	// stable load order across runs.
	fileinfo, err := ioutil.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, fi := range fileinfo {
		if !fi.Mode().IsRegular() {
			log.Debug("%s: ignoring - not a regular file", fi.Name())
			continue
		}
		names = append(names, fi.Name())
	}
	return names, nil
}

func (d *disk) Open(name string) (File, error) {
	path := filepath.Join(d.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrFileNotFound)
		}
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	log.Debug("%s: opened source file, %d bytes", path, stat.Size())
	return &diskFile{f: f, name: name, size: stat.Size(),
		modTime: stat.ModTime()}, nil
}

// diskFile wraps an *os.File; os.File.ReadAt uses pread and so is safe
// for concurrent positioned reads.
type diskFile struct {
	f       *os.File
	name    string
	size    int64
	modTime time.Time
}

func (f *diskFile) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *diskFile) Close() error {
	return f.f.Close()
}

func (f *diskFile) Name() string {
	return f.name
}

func (f *diskFile) Size() int64 {
	return f.size
}

func (f *diskFile) ModTime() time.Time {
	return f.modTime
}
