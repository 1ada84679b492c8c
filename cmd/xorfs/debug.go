// cmd/xorfs/debug.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package main

import (
	"bytes"
	"fmt"
	"time"

	"bazil.org/fuse"
	"golang.org/x/net/context"

	"github.com/tbinek/xorfs/chain"
	u "github.com/tbinek/xorfs/util"
)

// debugFileName is a synthetic read-only file in the filesystem root
// that dumps the loaded backup metadata for operator inspection.
const debugFileName = "debug.info"

// debugFile is a pure projection of the finished graph, rendered once
// at mount time; it never writes back into the graph.
type debugFile struct {
	contents []byte
	created  time.Time
}

func newDebugFile(graph *chain.Graph) *debugFile {
	var b bytes.Buffer

	fmt.Fprintf(&b, "XORFS\n")
	fmt.Fprintf(&b, "version: %d.%d\n", versionMajor, versionMinor)
	fmt.Fprintf(&b, "----------------------------------------\n\n")

	backups := graph.Backups()
	fmt.Fprintf(&b, "Source files:\n")
	fmt.Fprintf(&b, "total %d\n\n", len(backups))

	for i, bk := range backups {
		fmt.Fprintf(&b, "Source file #%d\n", i)
		fmt.Fprintf(&b, " - File name: %s\n", bk.File.Name())
		fmt.Fprintf(&b, " - Output name: %s\n", bk.OutputName)
		fmt.Fprintf(&b, " - Size: %s\n", u.FmtBytes(bk.Size))
		fmt.Fprintf(&b, " - Backup:\n")
		fmt.Fprintf(&b, "   - Chain: %s\n", bk.Chain)
		fmt.Fprintf(&b, "   - Number: %d\n", bk.Seq)
		if bk.IsPlain() {
			fmt.Fprintf(&b, "   - Plain image\n")
		} else {
			fmt.Fprintf(&b, "   - Xored against: %s (%s)\n", bk.Base,
				bk.Base.File.Name())
		}
	}

	return &debugFile{contents: b.Bytes(), created: time.Now()}
}

func (d *debugFile) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = filePermissions
	a.Size = uint64(len(d.contents))
	a.Mtime = d.created
	return nil
}

// Implements fuse.fs.HandleReadAller; the dump is small.
func (d *debugFile) ReadAll(ctx context.Context) ([]byte, error) {
	return d.contents, nil
}
