// cmd/xorcrypt/main.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

// Simple tool to manage at-rest encrypted backup source directories
// for xorfs. Provides facilities to create a key file and to encrypt
// or decrypt the backup image files themselves.

package main

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/tbinek/xorfs/source"
	u "github.com/tbinek/xorfs/util"
)

func usage() {
	fmt.Printf("usage: xorcrypt init <dir>\n")
	fmt.Printf("usage: xorcrypt <encrypt,decrypt> <src-dir> <dst-dir>\n\n")
	fmt.Printf("The passphrase is taken from the XORFS_PASSPHRASE environment variable.\n")
	fmt.Printf("init creates a key file in <dir>; encrypt reads the key file in <dst-dir>\n")
	fmt.Printf("and decrypt the one in <src-dir>.\n")
	os.Exit(1)
}

var log *u.Logger

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	log = u.NewLogger(true /*verbose*/, false /*debug*/)
	source.SetLogger(log)

	passphrase := os.Getenv("XORFS_PASSPHRASE")
	if passphrase == "" {
		log.Fatal("XORFS_PASSPHRASE environment variable must be set")
	}

	switch os.Args[1] {
	case "init":
		if len(os.Args) != 3 {
			usage()
		}
		_, err := source.CreateKeyFile(os.Args[2], passphrase)
		log.CheckError(err)
		log.Verbose("%s: created %s", os.Args[2], source.KeyFileName)
	case "encrypt":
		if len(os.Args) != 4 {
			usage()
		}
		key, err := source.LoadKeyFile(os.Args[3], passphrase)
		log.CheckError(err)
		transformDir(os.Args[2], os.Args[3], key, source.EncryptTo)
	case "decrypt":
		if len(os.Args) != 4 {
			usage()
		}
		key, err := source.LoadKeyFile(os.Args[2], passphrase)
		log.CheckError(err)
		transformDir(os.Args[2], os.Args[3], key, source.DecryptTo)
	default:
		usage()
	}
}

// transformDir runs every regular file in srcDir through the given
// transform (encryption or decryption), writing the results under the
// same names in dstDir. The key file itself is skipped.
func transformDir(srcDir, dstDir string, key []byte,
	transform func(key []byte, w io.Writer, r io.Reader) error) {
	fileinfo, err := ioutil.ReadDir(srcDir)
	log.CheckError(err)

	for _, fi := range fileinfo {
		if !fi.Mode().IsRegular() || fi.Name() == source.KeyFileName {
			continue
		}

		src, err := os.Open(filepath.Join(srcDir, fi.Name()))
		log.CheckError(err)

		dstPath := filepath.Join(dstDir, fi.Name())
		if _, err := os.Stat(dstPath); err == nil {
			log.Fatal("%s: already exists", dstPath)
		}
		dst, err := os.Create(dstPath)
		log.CheckError(err)

		// Image files can be large; report progress as we go.
		r := &u.ReportingReader{R: src, Msg: fi.Name()}
		log.CheckError(transform(key, dst, r))

		log.CheckError(r.Close())
		log.CheckError(dst.Close())
	}
}
