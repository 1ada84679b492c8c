// source/source_test.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package source

import (
	"bytes"
	"errors"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	u "github.com/tbinek/xorfs/util"
)

func init() {
	SetLogger(u.NewLogger(false, false))
}

func randTestBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

var testFiles = map[string][]byte{
	"beta.img":  randTestBytes(4096),
	"alpha.img": randTestBytes(1),
	"gamma.img": randTestBytes(64*1024 + 3),
}

// getDirectories returns Disk and Memory directories holding the same
// test files, so that the Directory contract can be checked against
// both implementations with the same code.
func getDirectories(t *testing.T) []Directory {
	tmp, err := ioutil.TempDir("", "xorfs-source-test")
	if err != nil {
		t.Fatalf("%v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmp) })

	mem := NewMemory()
	for name, data := range testFiles {
		if err := ioutil.WriteFile(filepath.Join(tmp, name), data, 0600); err != nil {
			t.Fatalf("%v", err)
		}
		mem.Add(name, data, time.Now())
	}
	// Directories inside the source directory are not files and must
	// not be listed.
	if err := os.Mkdir(filepath.Join(tmp, "subdir"), 0700); err != nil {
		t.Fatalf("%v", err)
	}

	disk, err := NewDisk(tmp)
	if err != nil {
		t.Fatalf("%v", err)
	}
	return []Directory{disk, mem}
}

func TestDirectoryList(t *testing.T) {
	for _, dir := range getDirectories(t) {
		names, err := dir.List()
		if err != nil {
			t.Fatalf("%s: %v", dir, err)
		}

		want := []string{"alpha.img", "beta.img", "gamma.img"}
		if len(names) != len(want) {
			t.Fatalf("%s: listed %v, expected %v", dir, names, want)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("%s: listed %s, expected %s", dir, names[i], want[i])
			}
		}
	}
}

func TestDirectoryOpen(t *testing.T) {
	for _, dir := range getDirectories(t) {
		for name, data := range testFiles {
			f, err := dir.Open(name)
			if err != nil {
				t.Fatalf("%s: %s: %v", dir, name, err)
			}

			if f.Name() != name {
				t.Errorf("%s: opened %s, got name %s", dir, name, f.Name())
			}
			if f.Size() != int64(len(data)) {
				t.Errorf("%s: %s: size %d, expected %d", dir, name, f.Size(),
					len(data))
			}

			// Positioned reads all over the file.
			for i := 0; i < 10; i++ {
				off := rand.Intn(len(data))
				size := 1 + rand.Intn(len(data)-off)
				buf := make([]byte, size)
				n, err := f.ReadAt(buf, int64(off))
				if err != nil {
					t.Fatalf("%s: %s: read [%d,+%d): %v", dir, name, off,
						size, err)
				}
				if n != size || !bytes.Equal(buf, data[off:off+size]) {
					t.Errorf("%s: %s: range [%d,+%d) doesn't match", dir,
						name, off, size)
				}
			}

			if err := f.Close(); err != nil {
				t.Errorf("%s: %s: close: %v", dir, name, err)
			}
		}
	}
}

func TestDirectoryOpenMissing(t *testing.T) {
	for _, dir := range getDirectories(t) {
		if _, err := dir.Open("no-such-file"); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("%s: got error %v, expected %v", dir, err, ErrFileNotFound)
		}
	}
}

func TestNewDiskNotDirectory(t *testing.T) {
	tmp, err := ioutil.TempDir("", "xorfs-source-test")
	if err != nil {
		t.Fatalf("%v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmp) })

	path := filepath.Join(tmp, "file")
	if err := ioutil.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("%v", err)
	}

	if _, err := NewDisk(path); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("got error %v, expected %v", err, ErrNotDirectory)
	}
	if _, err := NewDisk(filepath.Join(tmp, "nonexistent")); err == nil {
		t.Errorf("opening a nonexistent directory succeeded")
	}
}
