// chain/read.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package chain

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MismatchError reports an inconsistent chain discovered during
// reconstruction: a delta obtained more bytes from its own file than
// its base image could supply for the same range.
type MismatchError struct {
	Name, BaseName string
	Want, Got      int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("read mismatch: %d bytes were read from %s, but only %d from %s",
		e.Want, e.Name, e.Got, e.BaseName)
}

// Read reconstructs up to size bytes of the backup's image starting at
// the given offset. Fewer bytes than requested are returned when the
// range extends past the end of the image; that isn't an error. The
// read is positioned and allocates its own buffers, so any number of
// Reads may run concurrently against the same graph.
func (b *Backup) Read(offset int64, size int) ([]byte, error) {
	log.Debug("read backup %s, offset %d, size %d", b, offset, size)

	// Walk from the requested backup back toward its plain image,
	// collecting each level's own stored bytes for the range. A delta
	// only overlaps its base for the bytes it actually stores, so each
	// level's request is bounded by what the level above obtained.
	var bufs [][]byte
	want := size
	for cur := b; ; {
		buf := make([]byte, want)
		n, err := cur.File.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("%s: %w", cur.File.Name(), err)
		}

		if len(bufs) > 0 && n < want {
			// The delta above claims more overlap with this image than
			// it can supply.
			return nil, &MismatchError{Name: b.walkName(len(bufs) - 1),
				BaseName: cur.File.Name(), Want: want, Got: n}
		}

		bufs = append(bufs, buf[:n])
		want = n

		if cur.IsPlain() || want == 0 {
			break
		}

		// Build validates that every base link is resolved; a nil link
		// here is a programming error, not an I/O condition.
		log.Check(cur.Base != nil, "%s: unresolved base link", cur)
		cur = cur.Base
	}

	// Fold the levels together from the plain image outward; each xor
	// peels one delta off, leaving the target's true bytes in bufs[0].
	for i := len(bufs) - 2; i >= 0; i-- {
		xorBytes(bufs[i], bufs[i+1])
	}
	return bufs[0], nil
}

// walkName returns the source file name of the backup the given number
// of base links below b.
func (b *Backup) walkName(steps int) string {
	cur := b
	for i := 0; i < steps; i++ {
		cur = cur.Base
	}
	return cur.File.Name()
}

// xorBytes combines src into dst position-wise; the slices must have
// equal length. Lengths that divide evenly into 8-byte words are
// combined a word at a time; the result is identical either way.
func xorBytes(dst, src []byte) {
	log.Check(len(dst) == len(src))

	if len(dst)%8 == 0 {
		for i := 0; i < len(dst); i += 8 {
			v := binary.LittleEndian.Uint64(dst[i:]) ^
				binary.LittleEndian.Uint64(src[i:])
			binary.LittleEndian.PutUint64(dst[i:], v)
		}
		return
	}

	for i := range dst {
		dst[i] ^= src[i]
	}
}
