// cmd/xorfs_e2etest/main.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

// End-to-end test for xorfs: generates random backup chains on disk
// (including branching chains and an encrypted copy), then verifies
// that every backup reconstructs to its expected image through the
// chain package, byte for byte.

package main

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/tbinek/xorfs/chain"
	"github.com/tbinek/xorfs/source"
	u "github.com/tbinek/xorfs/util"
)

const workDir = "/tmp/xorfs_e2e"

// image is one generated backup: its true contents and the sequence
// number of the backup its source file is xored against (0 for plain).
type image struct {
	seq     uint
	base    uint
	data    []byte
	srcName string
}

func main() {
	seed := os.Getpid()
	log.Printf("Seed %d", seed)
	rand.Seed(int64(seed))

	chain.SetLogger(u.NewLogger(false, false))
	source.SetLogger(u.NewLogger(false, false))

	_ = os.RemoveAll(workDir)
	plainDir := filepath.Join(workDir, "plain")
	encDir := filepath.Join(workDir, "encrypted")
	for _, d := range []string{workDir, plainDir, encDir} {
		if err := os.Mkdir(d, 0700); err != nil {
			log.Fatal(err)
		}
	}

	images := generateChains(plainDir)

	// Files that don't end in .xor must be ignored by the loader.
	junk := []byte("not a backup")
	if err := ioutil.WriteFile(filepath.Join(plainDir, "notes.txt"), junk, 0600); err != nil {
		log.Fatal(err)
	}

	dir, err := source.NewDisk(plainDir)
	if err != nil {
		log.Fatal(err)
	}
	verify("plain", dir, images)

	// Same backups again, encrypted at rest.
	passphrase := "e2e passphrase"
	key, err := source.CreateKeyFile(encDir, passphrase)
	if err != nil {
		log.Fatal(err)
	}
	encryptDir(plainDir, encDir, key)

	encSource, err := source.NewDisk(encDir)
	if err != nil {
		log.Fatal(err)
	}
	decrypted, err := source.NewEncrypted(encSource, passphrase)
	if err != nil {
		log.Fatal(err)
	}
	verify("encrypted", decrypted, images)

	log.Printf("OK")
}

// generateChains writes a handful of randomly-structured chains into
// dir and returns the expected true contents of every backup.
func generateChains(dir string) []image {
	var images []image

	for c := 0; c < 3; c++ {
		chainName := fmt.Sprintf("disk%c", 'a'+c)
		count := 2 + rand.Intn(5)

		var members []image
		for i := 0; i < count; i++ {
			seq := uint(i + 1)
			img := image{seq: seq}

			if i == 0 {
				img.data = randBytes(1 + rand.Intn(64*1024))
				img.srcName = fmt.Sprintf("%s-%d.xor", chainName, seq)
				writeFile(dir, img.srcName, img.data)
			} else {
				// Xor against a random earlier backup; branching
				// (several deltas off one base) is expected to work.
				base := members[rand.Intn(len(members))]
				img.base = base.seq

				// A delta can't claim more overlap with its base than
				// the base has bytes.
				img.data = randBytes(1 + rand.Intn(len(base.data)))
				stored := make([]byte, len(img.data))
				for j := range stored {
					stored[j] = img.data[j] ^ base.data[j]
				}

				img.srcName = fmt.Sprintf("%s-%dx%d.xor", chainName, seq, base.seq)
				writeFile(dir, img.srcName, stored)
			}

			members = append(members, img)
		}
		images = append(images, members...)
	}

	return images
}

func verify(label string, dir source.Directory, images []image) {
	graph, err := chain.Build(dir)
	if err != nil {
		log.Fatalf("%s: build: %v", label, err)
	}
	defer graph.Close()

	if len(graph.Names()) != len(images) {
		log.Fatalf("%s: loaded %d backups, expected %d", label,
			len(graph.Names()), len(images))
	}

	for _, img := range images {
		outputName := fmt.Sprintf("%s.dat",
			img.srcName[:len(img.srcName)-len(filepath.Ext(img.srcName))])
		// Strip any x<base> tail from the output name.
		b, ok := graph.Lookup(outputNameFor(img))
		if !ok {
			log.Fatalf("%s: %s: not found (tried %s)", label, img.srcName, outputName)
		}

		if b.Size != int64(len(img.data)) {
			log.Fatalf("%s: %s: size %d, expected %d", label, img.srcName,
				b.Size, len(img.data))
		}

		// Full contents.
		got, err := b.Read(0, len(img.data))
		if err != nil {
			log.Fatalf("%s: %s: read: %v", label, img.srcName, err)
		}
		if !bytes.Equal(got, img.data) {
			log.Fatalf("%s: %s: reconstructed bytes don't match", label, img.srcName)
		}

		// Random ranges.
		for i := 0; i < 20; i++ {
			off := rand.Intn(len(img.data))
			n := 1 + rand.Intn(len(img.data)-off)
			got, err := b.Read(int64(off), n)
			if err != nil {
				log.Fatalf("%s: %s: read [%d,+%d): %v", label, img.srcName,
					off, n, err)
			}
			if !bytes.Equal(got, img.data[off:off+n]) {
				log.Fatalf("%s: %s: range [%d,+%d) doesn't match", label,
					img.srcName, off, n)
			}
		}

		// Reading past the end returns the remainder, not an error.
		off := len(img.data) / 2
		got, err = b.Read(int64(off), len(img.data))
		if err != nil {
			log.Fatalf("%s: %s: past-end read: %v", label, img.srcName, err)
		}
		if !bytes.Equal(got, img.data[off:]) {
			log.Fatalf("%s: %s: past-end read doesn't match", label, img.srcName)
		}
	}
}

func outputNameFor(img image) string {
	return fmt.Sprintf("%s-%d.dat", chainNameOf(img.srcName), img.seq)
}

// chainNameOf recovers the chain name from a generated source name
// ("diska-3x1.xor" -> "diska").
func chainNameOf(srcName string) string {
	for i := 0; i < len(srcName); i++ {
		if srcName[i] >= '0' && srcName[i] <= '9' {
			return srcName[:i-1]
		}
	}
	log.Fatalf("%s: no digit in generated name", srcName)
	return ""
}

func encryptDir(srcDir, dstDir string, key []byte) {
	fileinfo, err := ioutil.ReadDir(srcDir)
	if err != nil {
		log.Fatal(err)
	}

	for _, fi := range fileinfo {
		if !fi.Mode().IsRegular() {
			continue
		}

		src, err := os.Open(filepath.Join(srcDir, fi.Name()))
		if err != nil {
			log.Fatal(err)
		}
		dst, err := os.Create(filepath.Join(dstDir, fi.Name()))
		if err != nil {
			log.Fatal(err)
		}

		if err := source.EncryptTo(key, dst, src); err != nil {
			log.Fatal(err)
		}
		src.Close()
		if err := dst.Close(); err != nil {
			log.Fatal(err)
		}
	}
}

func randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func writeFile(dir, name string, data []byte) {
	if err := ioutil.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		log.Fatal(err)
	}
}
