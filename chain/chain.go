// chain/chain.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package chain

import (
	"fmt"
	"strings"
	"time"

	"github.com/tbinek/xorfs/source"
	u "github.com/tbinek/xorfs/util"
)

///////////////////////////////////////////////////////////////////////////
// Logging

var log *u.Logger

func SetLogger(l *u.Logger) {
	log = l
}

///////////////////////////////////////////////////////////////////////////
// Backup

// Backup is one loaded member of a backup chain: either a plain disk
// image, or an image stored xored against an earlier backup of the
// same chain. All fields are fixed once Build returns; concurrent
// readers need no locking.
type Backup struct {
	// Chain is the logical backup-set name shared by all members of
	// one chain.
	Chain string
	// Seq is the backup's position within its chain; (Chain, Seq) is
	// unique across all loaded backups.
	Seq uint
	// BaseSeq is the sequence number this backup is xored against;
	// zero means the stored bytes are the image itself.
	BaseSeq uint
	// Base is the loaded backup for BaseSeq, resolved during Build.
	// It is nil exactly when BaseSeq is zero.
	Base *Backup

	// File is the open handle to the backup's own stored file; it's
	// held until the Graph is closed.
	File source.File
	// Size and ModTime are the stored file's attributes as of load
	// time. Reconstruction changes content, never the apparent size or
	// time, so these are also the attributes of the reconstructed
	// image.
	Size    int64
	ModTime time.Time

	// OutputName is the name under which the reconstructed image is
	// exposed: "<chain>-<seq>.dat".
	OutputName string
}

// IsPlain reports whether the backup's stored bytes are the image
// itself rather than an xor delta.
func (b *Backup) IsPlain() bool {
	return b.BaseSeq == 0
}

func (b *Backup) String() string {
	if b.IsPlain() {
		return fmt.Sprintf("%s-%d", b.Chain, b.Seq)
	}
	return fmt.Sprintf("%s-%dx%d", b.Chain, b.Seq, b.BaseSeq)
}

///////////////////////////////////////////////////////////////////////////
// Load errors

// MalformedNameError reports a source file whose name matched the
// source extension but not the backup name grammar. A malformed name
// means the backup set is ambiguous or corrupt, so the whole load is
// abandoned rather than skipping the file.
type MalformedNameError struct {
	Name string
	Err  error
}

func (e *MalformedNameError) Error() string {
	return fmt.Sprintf("%s: malformed backup file name: %s", e.Name, e.Err)
}

func (e *MalformedNameError) Unwrap() error {
	return e.Err
}

// DuplicateError reports two source files claiming the same (chain,
// sequence number) pair.
type DuplicateError struct {
	Chain          string
	Seq            uint
	Name, Previous string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: duplicate entry for backup %s-%d (already loaded from %s)",
		e.Name, e.Chain, e.Seq, e.Previous)
}

// BrokenChainError reports a backup xored against a sequence number
// for which no source file was loaded.
type BrokenChainError struct {
	Chain       string
	Seq         uint
	MissingBase uint
}

func (e *BrokenChainError) Error() string {
	return fmt.Sprintf("backup %s-%d is xored against backup %d, but that is missing",
		e.Chain, e.Seq, e.MissingBase)
}

// CycleError reports a backup whose base references loop back on
// themselves instead of reaching a plain image.
type CycleError struct {
	Chain string
	Seq   uint
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("backup %s-%d: base references form a cycle", e.Chain, e.Seq)
}

///////////////////////////////////////////////////////////////////////////
// Graph

// Graph holds every backup loaded from one source directory, with all
// base references resolved. It is built once before serving begins and
// is immutable afterwards.
type Graph struct {
	backups  []*Backup // in load order
	byOutput map[string]*Backup
}

type chainKey struct {
	chain string
	seq   uint
}

// Build scans the given source directory and loads every file ending
// in the source extension, resolving and validating the xor base
// references between them. Any failure - an unopenable file, a
// malformed or duplicate name, a missing base, a reference cycle -
// abandons the whole load: all handles opened so far are closed and no
// partially loaded graph is ever returned.
func Build(dir source.Directory) (*Graph, error) {
	names, err := dir.List()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir.String(), err)
	}

	g := &Graph{byOutput: make(map[string]*Backup)}
	bySeq := make(map[chainKey]*Backup)

	loaded := false
	defer func() {
		if !loaded {
			g.Close()
		}
	}()

	for _, name := range names {
		if !strings.HasSuffix(name, SourceExtension) {
			log.Debug("%s: ignoring - name not ending with %s", name,
				SourceExtension)
			continue
		}

		f, err := dir.Open(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		pn, err := parseName(name)
		if err != nil {
			f.Close()
			return nil, &MalformedNameError{Name: name, Err: err}
		}

		key := chainKey{pn.chain, pn.seq}
		if prev, ok := bySeq[key]; ok {
			f.Close()
			return nil, &DuplicateError{Chain: pn.chain, Seq: pn.seq,
				Name: name, Previous: prev.File.Name()}
		}

		b := &Backup{
			Chain:      pn.chain,
			Seq:        pn.seq,
			BaseSeq:    pn.base,
			File:       f,
			Size:       f.Size(),
			ModTime:    f.ModTime(),
			OutputName: pn.output,
		}
		log.Debug("%s: loaded backup %s, %d bytes", name, b, b.Size)

		g.backups = append(g.backups, b)
		g.byOutput[b.OutputName] = b
		bySeq[key] = b
	}

	// Resolve every xored backup's base reference to the loaded backup
	// it names.
	for _, b := range g.backups {
		if b.IsPlain() {
			continue
		}
		base, ok := bySeq[chainKey{b.Chain, b.BaseSeq}]
		if !ok {
			return nil, &BrokenChainError{Chain: b.Chain, Seq: b.Seq,
				MissingBase: b.BaseSeq}
		}
		b.Base = base
	}

	// Every backup must reach a plain image; since each step follows a
	// resolved link into the graph, any walk longer than the number of
	// loaded backups has revisited one and is a cycle.
	for _, b := range g.backups {
		steps := 0
		for cur := b; !cur.IsPlain(); cur = cur.Base {
			steps++
			if steps > len(g.backups) {
				return nil, &CycleError{Chain: b.Chain, Seq: b.Seq}
			}
		}
	}

	loaded = true
	return g, nil
}

// Names returns the output names of all loaded backups, in load order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.backups))
	for _, b := range g.backups {
		names = append(names, b.OutputName)
	}
	return names
}

// Lookup returns the backup exposed under the given output name.
func (g *Graph) Lookup(outputName string) (*Backup, bool) {
	b, ok := g.byOutput[outputName]
	return b, ok
}

// Backups returns the loaded backups in load order.
func (g *Graph) Backups() []*Backup {
	return g.backups
}

// Close releases every source file handle held by the graph. The graph
// must not be used afterwards.
func (g *Graph) Close() {
	for _, b := range g.backups {
		if err := b.File.Close(); err != nil {
			log.Warning("%s: close: %s", b.File.Name(), err)
		}
	}
	g.backups = nil
	g.byOutput = nil
}
