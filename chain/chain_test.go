// chain/chain_test.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package chain

import (
	"errors"
	"testing"
	"time"

	"github.com/tbinek/xorfs/source"
	u "github.com/tbinek/xorfs/util"
)

func init() {
	SetLogger(u.NewLogger(false, false))
	source.SetLogger(u.NewLogger(false, false))
}

var testTime = time.Date(2017, time.March, 19, 11, 0, 0, 0, time.UTC)

// testDir returns a Memory directory with the given file names, each
// holding a few distinct bytes.
func testDir(names ...string) *source.Memory {
	m := source.NewMemory()
	for i, name := range names {
		m.Add(name, []byte{byte(i), byte(i + 1), byte(i + 2)}, testTime)
	}
	return m
}

func TestBuild(t *testing.T) {
	dir := testDir("sda-1.xor", "sda-2x1.xor", "sda-3x2.xor", "sdb-1.xor",
		"notes.txt", "sda-2.dat")

	g, err := Build(dir)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer g.Close()

	// Only the .xor files should have been loaded, exposed under their
	// output names.
	want := []string{"sda-1.dat", "sda-2.dat", "sda-3.dat", "sdb-1.dat"}
	names := g.Names()
	if len(names) != len(want) {
		t.Fatalf("got names %v, expected %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("got name %s, expected %s", names[i], want[i])
		}
	}

	b, ok := g.Lookup("sda-3.dat")
	if !ok {
		t.Fatalf("sda-3.dat not found")
	}
	if b.Chain != "sda" || b.Seq != 3 || b.BaseSeq != 2 {
		t.Errorf("sda-3.dat loaded as %s", b)
	}
	if b.Base == nil || b.Base.Seq != 2 || b.Base.Base == nil ||
		!b.Base.Base.IsPlain() {
		t.Errorf("sda-3.dat base links not resolved to the plain image")
	}
	if b.Size != 3 || !b.ModTime.Equal(testTime) {
		t.Errorf("sda-3.dat has size %d mod time %s", b.Size, b.ModTime)
	}

	// Source names are not exposed.
	if _, ok := g.Lookup("sda-3x2.xor"); ok {
		t.Errorf("lookup of a source file name succeeded")
	}
	if _, ok := g.Lookup("sda-4.dat"); ok {
		t.Errorf("lookup of an unknown name succeeded")
	}
}

func TestBuildSeparateChains(t *testing.T) {
	// The same sequence numbers in different chains don't collide.
	dir := testDir("sda-1.xor", "sda-2x1.xor", "sdb-1.xor", "sdb-2x1.xor")

	g, err := Build(dir)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer g.Close()

	for _, name := range []string{"sda-2.dat", "sdb-2.dat"} {
		b, ok := g.Lookup(name)
		if !ok {
			t.Fatalf("%s not found", name)
		}
		if b.Base.Chain != b.Chain {
			t.Errorf("%s resolved its base in chain %s", name, b.Base.Chain)
		}
	}
}

func TestBuildMalformedName(t *testing.T) {
	dir := testDir("sda-1.xor", "sda-x.xor")

	_, err := Build(dir)
	var merr *MalformedNameError
	if !errors.As(err, &merr) {
		t.Fatalf("got error %v, expected a malformed name error", err)
	}
	if merr.Name != "sda-x.xor" {
		t.Errorf("malformed name reported as %s", merr.Name)
	}
	if !errors.Is(err, ErrNoSequenceNumber) {
		t.Errorf("got underlying error %v, expected %v", merr.Err,
			ErrNoSequenceNumber)
	}
}

func TestBuildDuplicate(t *testing.T) {
	// Both names claim backup sda-2; the plain/xored distinction doesn't
	// disambiguate them.
	dir := testDir("sda-1.xor", "sda-2.xor", "sda-2x1.xor")

	_, err := Build(dir)
	var derr *DuplicateError
	if !errors.As(err, &derr) {
		t.Fatalf("got error %v, expected a duplicate entry error", err)
	}
	if derr.Chain != "sda" || derr.Seq != 2 {
		t.Errorf("duplicate reported for %s-%d", derr.Chain, derr.Seq)
	}
}

func TestBuildBrokenChain(t *testing.T) {
	dir := testDir("sda-1.xor", "sda-3x2.xor")

	_, err := Build(dir)
	var berr *BrokenChainError
	if !errors.As(err, &berr) {
		t.Fatalf("got error %v, expected a broken chain error", err)
	}
	if berr.Chain != "sda" || berr.Seq != 3 || berr.MissingBase != 2 {
		t.Errorf("broken chain reported as %s-%d missing %d", berr.Chain,
			berr.Seq, berr.MissingBase)
	}
}

func TestBuildCycle(t *testing.T) {
	tests := [][]string{
		// Self-referential.
		{"sda-1x1.xor"},
		// Mutual.
		{"sda-1x2.xor", "sda-2x1.xor"},
		// A longer loop hanging off an otherwise healthy chain.
		{"sda-1.xor", "sda-2x3.xor", "sda-3x4.xor", "sda-4x2.xor"},
	}

	for _, names := range tests {
		_, err := Build(testDir(names...))
		var cerr *CycleError
		if !errors.As(err, &cerr) {
			t.Errorf("%v: got error %v, expected a cycle error", names, err)
		}
	}
}

// trackingDir wraps a Directory and records every file it hands out so
// that tests can check they were all closed again.
type trackingDir struct {
	source.Directory
	opened []*trackedFile
}

type trackedFile struct {
	source.File
	closed bool
}

func (d *trackingDir) Open(name string) (source.File, error) {
	f, err := d.Directory.Open(name)
	if err != nil {
		return nil, err
	}
	tf := &trackedFile{File: f}
	d.opened = append(d.opened, tf)
	return tf, nil
}

func (f *trackedFile) Close() error {
	f.closed = true
	return f.File.Close()
}

func TestBuildFailureClosesFiles(t *testing.T) {
	tests := [][]string{
		{"sda-1.xor", "sda-x.xor", "sda-2x1.xor"},   // malformed
		{"sda-1.xor", "sda-2.xor", "sda-2x1.xor"},   // duplicate
		{"sda-1.xor", "sda-2x1.xor", "sda-4x3.xor"}, // broken chain
		{"sda-1.xor", "sda-2x3.xor", "sda-3x2.xor"}, // cycle
	}

	for _, names := range tests {
		dir := &trackingDir{Directory: testDir(names...)}
		if _, err := Build(dir); err == nil {
			t.Errorf("%v: build unexpectedly succeeded", names)
			continue
		}
		for _, tf := range dir.opened {
			if !tf.closed {
				t.Errorf("%v: %s left open after failed build", names,
					tf.Name())
			}
		}
	}
}

func TestGraphClose(t *testing.T) {
	dir := &trackingDir{Directory: testDir("sda-1.xor", "sda-2x1.xor")}

	g, err := Build(dir)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	g.Close()

	for _, tf := range dir.opened {
		if !tf.closed {
			t.Errorf("%s left open after Close", tf.Name())
		}
	}
}
