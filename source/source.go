// source/source.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package source

import (
	"errors"
	"io"
	"time"

	u "github.com/tbinek/xorfs/util"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrNotDirectory = errors.New("not a directory")
)

///////////////////////////////////////////////////////////////////////////
// Logging

var log *u.Logger

func SetLogger(l *u.Logger) {
	log = l
}

///////////////////////////////////////////////////////////////////////////
// Interface to source directories

// Directory describes read-only access to a flat collection of source
// files (disk images and xor deltas). Implementations exist for local
// directories, Google Cloud Storage buckets, and in-memory data for
// testing; wrappers may transform file contents on the way through
// (e.g. at-rest decryption).
type Directory interface {
	// String returns the name of the Directory in the form of a string.
	String() string

	// List returns the names of the regular files in the directory, in
	// a stable sorted order. Names of non-regular entries
	// (subdirectories, devices, ...) are not included.
	List() ([]string, error)

	// Open opens the named file for reading. The returned File stays
	// valid until closed; its Size and ModTime report the file's
	// attributes as of the time it was opened.
	Open(name string) (File, error)
}

// File is an open read-only handle to a single source file. ReadAt is
// positioned and must be safe for concurrent use, so that simultaneous
// requests against the same file never interfere; there is no shared
// cursor.
type File interface {
	io.ReaderAt
	io.Closer

	// Name returns the file's name within its Directory.
	Name() string

	// Size returns the file's size in bytes, as of Open.
	Size() int64

	// ModTime returns the file's modification time, as of Open.
	ModTime() time.Time
}
