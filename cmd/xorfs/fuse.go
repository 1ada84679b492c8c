// cmd/xorfs/fuse.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package main

// Infrastructure to expose the reconstructed backups via FUSE.

import (
	"os"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	_ "bazil.org/fuse/fs/fstestutil"
	"golang.org/x/net/context"

	"github.com/tbinek/xorfs/chain"
)

const rootPermissions = 0755
const filePermissions = 0644

// mountFUSE exports the given chain graph as a read-only FUSE
// filesystem with a flat root directory: one file per reconstructed
// backup, plus the debug.info pseudo-file.
func mountFUSE(mountpoint string, graph *chain.Graph) {
	conn, err := fuse.Mount(
		mountpoint,
		fuse.FSName("xorfs"),
		fuse.Subtype("xorfs"),
		fuse.VolumeName("backups"),
		fuse.ReadOnly(),
	)
	log.CheckError(err)
	defer conn.Close()

	root := &rootDir{graph: graph, debug: newDebugFile(graph)}
	err = fs.Serve(conn, root)
	log.CheckError(err)

	<-conn.Ready
	if err := conn.MountError; err != nil {
		log.CheckError(err)
	}
}

// rootDir is the filesystem's single directory.
type rootDir struct {
	graph *chain.Graph
	debug *debugFile
}

// Root() should only be called with the root node passed to fs.Serve;
// since rootDir also implements the Node and Handle interfaces for a
// directory entry, we can just return it directly.
func (d *rootDir) Root() (fs.Node, error) {
	return d, nil
}

func (d *rootDir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | rootPermissions
	return nil
}

// Implements fuse.fs.NodeStringLookuper
func (d *rootDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	if name == debugFileName {
		return d.debug, nil
	}
	if b, ok := d.graph.Lookup(name); ok {
		return &backupFile{b: b}, nil
	}
	// Not an error; plenty of lookups for names we don't have are
	// expected (shell completion, editors, ...).
	return nil, fuse.ENOENT
}

// Implements fuse.fs.HandleReadDirAller
func (d *rootDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	var de []fuse.Dirent
	for _, name := range d.graph.Names() {
		de = append(de, fuse.Dirent{Name: name, Type: fuse.DT_File})
	}
	de = append(de, fuse.Dirent{Name: debugFileName, Type: fuse.DT_File})
	return de, nil
}

// backupFile exposes one reconstructed backup as a regular file.
type backupFile struct {
	b *chain.Backup
}

// The advertised attributes are always those of the backup's own
// stored file; xoring changes content, never size or times.
func (f *backupFile) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = filePermissions
	a.Size = uint64(f.b.Size)
	a.Mtime = f.b.ModTime
	a.Ctime = f.b.ModTime
	return nil
}

// Implements fuse.fs.HandleReader. Disk images don't fit in memory, so
// unlike ReadAll-style handlers each request reconstructs just its own
// byte range.
func (f *backupFile) Read(ctx context.Context, req *fuse.ReadRequest,
	resp *fuse.ReadResponse) error {
	data, err := f.b.Read(req.Offset, req.Size)
	if err != nil {
		log.Error("%s: %s", f.b.OutputName, err)
		return fuse.EIO
	}
	resp.Data = data
	return nil
}
