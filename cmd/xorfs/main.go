// cmd/xorfs/main.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

// xorfs mounts a directory of xor-chained backup images as a read-only
// filesystem of fully reconstructed disk image files. Reconstruction
// from the delta chain happens transparently as the images are read.

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tbinek/xorfs/chain"
	"github.com/tbinek/xorfs/source"
	u "github.com/tbinek/xorfs/util"
)

const versionMajor = 0
const versionMinor = 1

var log *u.Logger

func usage() {
	fmt.Printf("usage: xorfs [options] <source-dir> <mountpoint>\n\n")
	fmt.Printf("The source may be a local directory or a gs://bucket/prefix path.\n\n")
	flag.PrintDefaults()
	os.Exit(1)
}

func main() {
	verbose := flag.Bool("verbose", false, "print verbose output")
	debug := flag.Bool("debug", false, "print debugging output")
	encrypted := flag.Bool("encrypted", false,
		"source files are encrypted at rest; passphrase is taken from "+
			"the XORFS_PASSPHRASE environment variable")
	downloadRate := flag.Int("download-rate", 0,
		"maximum download bytes per second for gs:// sources (0 = unlimited)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
	}
	srcPath, mountpoint := flag.Arg(0), flag.Arg(1)

	log = u.NewLogger(*verbose, *debug)
	chain.SetLogger(log)
	source.SetLogger(log)

	var dir source.Directory
	var err error
	if strings.HasPrefix(srcPath, "gs://") {
		bucket, prefix, perr := source.ParseGCSPath(srcPath)
		log.CheckError(perr)
		dir, err = source.NewGCS(source.GCSOptions{
			BucketName:                bucket,
			Prefix:                    prefix,
			MaxDownloadBytesPerSecond: *downloadRate,
		})
		log.CheckError(err)
	} else {
		dir, err = source.NewDisk(srcPath)
		log.CheckError(err)
	}

	if *encrypted {
		passphrase := os.Getenv("XORFS_PASSPHRASE")
		if passphrase == "" {
			log.Fatal("--encrypted requires the XORFS_PASSPHRASE environment variable")
		}
		dir, err = source.NewEncrypted(dir, passphrase)
		log.CheckError(err)
	}

	// The whole graph is built once, before anything is served; a
	// broken backup set fails the mount entirely rather than serving a
	// partial directory.
	graph, err := chain.Build(dir)
	if err != nil {
		log.Fatal("%s: %s", dir, err)
	}
	log.Verbose("%s: loaded %d backups", dir, len(graph.Backups()))

	mountFUSE(mountpoint, graph)

	graph.Close()
}
