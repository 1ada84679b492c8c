// source/gcs.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package source

import (
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/net/context"
	"google.golang.org/api/iterator"
)

// Implements the Directory interface for source files stored in a
// Google Cloud Storage bucket.
type gcsDirectory struct {
	ctx    context.Context
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
	prefix string
}

type GCSOptions struct {
	BucketName string
	// Optional path prefix within the bucket ("backups/sda/").
	Prefix string

	// zero -> unlimited
	MaxDownloadBytesPerSecond int
}

// NewGCS returns a Directory for the source files under the given
// bucket and prefix. Credentials come from the environment, as with
// the other GCS tooling.
func NewGCS(options GCSOptions) (Directory, error) {
	g := &gcsDirectory{ctx: context.Background(), name: options.BucketName,
		prefix: options.Prefix}
	if g.prefix != "" && !strings.HasSuffix(g.prefix, "/") {
		g.prefix += "/"
	}

	var err error
	g.client, err = gcs.NewClient(g.ctx)
	if err != nil {
		return nil, err
	}

	g.bucket = g.client.Bucket(options.BucketName)
	if _, err := g.bucket.Attrs(g.ctx); err != nil {
		return nil, fmt.Errorf("gs://%s: %v", options.BucketName, err)
	}

	if options.MaxDownloadBytesPerSecond > 0 {
		InitBandwidthLimit(options.MaxDownloadBytesPerSecond)
	}

	return g, nil
}

// ParseGCSPath splits a "gs://bucket/prefix" path into its bucket and
// prefix components.
func ParseGCSPath(path string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(path, "gs://") {
		return "", "", fmt.Errorf("%s: not a gs:// path", path)
	}
	rest := strings.TrimPrefix(path, "gs://")
	if rest == "" {
		return "", "", fmt.Errorf("%s: missing bucket name", path)
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i], rest[i+1:], nil
	}
	return rest, "", nil
}

func (g *gcsDirectory) String() string {
	return "gs://" + g.name + "/" + g.prefix
}

func (g *gcsDirectory) List() ([]string, error) {
	var names []string
	it := g.bucket.Objects(g.ctx, &gcs.Query{Prefix: g.prefix})
	for {
		obj, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		name := strings.TrimPrefix(obj.Name, g.prefix)
		if strings.ContainsRune(name, '/') {
			// An object in a nested "directory"; the source layout is
			// flat, so skip it like a non-regular directory entry.
			log.Debug("%s: ignoring - not directly in %s", obj.Name, g.String())
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (g *gcsDirectory) Open(name string) (File, error) {
	obj := g.bucket.Object(g.prefix + name)
	attrs, err := obj.Attrs(g.ctx)
	if err != nil {
		if err == gcs.ErrObjectNotExist {
			return nil, fmt.Errorf("%s: %w", name, ErrFileNotFound)
		}
		return nil, err
	}

	return &gcsFile{ctx: g.ctx, obj: obj, name: name, size: attrs.Size,
		modTime: attrs.Updated}, nil
}

// gcsFile reads object contents with per-call range requests, so
// concurrent ReadAts don't share any state.
type gcsFile struct {
	ctx     context.Context
	obj     *gcs.ObjectHandle
	name    string
	size    int64
	modTime time.Time
}

func (f *gcsFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}

	length := int64(len(p))
	if off+length > f.size {
		length = f.size - off
	}

	log.Debug("%s: starting gcs download, offset %d, length %d", f.name,
		off, length)

	var b []byte
	err := retry(f.name, func() error {
		r, err := f.obj.NewRangeReader(f.ctx, off, length)
		if err != nil {
			return err
		}

		b, err = ioutil.ReadAll(NewLimitedDownloadReader(r))
		r.Close()
		return err
	})
	if err != nil {
		return 0, err
	}

	n := copy(p, b)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func retry(n string, f func() error) error {
	const maxTries = 5
	for tries := 0; ; tries++ {
		err := f()

		if err == nil || tries == maxTries {
			return err
		}

		// Possibly temporary error; sleep and retry.
		log.Warning("%s: sleeping due to error %s", n, err.Error())
		time.Sleep(time.Duration(100*(tries+1)) * time.Millisecond)
	}
}

func (f *gcsFile) Close() error {
	return nil
}

func (f *gcsFile) Name() string {
	return f.name
}

func (f *gcsFile) Size() int64 {
	return f.size
}

func (f *gcsFile) ModTime() time.Time {
	return f.modTime
}
