// chain/parse.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package chain

import (
	"errors"
	"strconv"
	"strings"
)

// SourceExtension is the file name suffix that marks a file in the
// source directory as a backup image (plain or xored).
const SourceExtension = ".xor"

// OutputExtension is the suffix under which reconstructed backups are
// exposed.
const OutputExtension = ".dat"

var (
	ErrNoSequenceNumber = errors.New("no sequence number in file name")
	ErrNoBaseNumber     = errors.New("no base number after 'x'")
	ErrBadSeparator     = errors.New("expected 'x' or '.' after sequence number")
	ErrBadSuffix        = errors.New("expected " + SourceExtension + " suffix")
)

// parsedName holds the backup metadata encoded in a source file name.
//
// The accepted grammar is
//
//	<chain>-<seq>.xor       a plain image
//	<chain>-<seq>x<base>.xor   an image xored against <chain>-<base>
//
// where <seq> and <base> are runs of decimal digits. The exposed output
// name replaces everything from the end of the sequence digits with
// ".dat", so both forms of the name for backup 12 of chain "sda" are
// exposed as "sda-12.dat".
type parsedName struct {
	chain  string
	seq    uint
	base   uint // 0 for plain images
	output string
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// digitRun returns the index just past the run of decimal digits
// starting at i.
func digitRun(name string, i int) int {
	for i < len(name) && isDigit(name[i]) {
		i++
	}
	return i
}

// parseName parses a source file name per the grammar above. It does
// no I/O; callers have already filtered names to the source extension.
func parseName(name string) (parsedName, error) {
	var pn parsedName

	// Everything up to the first digit is the chain name plus its
	// trailing separator character.
	digit := strings.IndexFunc(name, func(r rune) bool {
		return r >= '0' && r <= '9'
	})
	if digit == -1 {
		return pn, ErrNoSequenceNumber
	}
	if digit > 0 {
		pn.chain = name[:digit-1]
	}

	// The sequence number is the maximal digit run that follows.
	end := digitRun(name, digit)
	seq, err := strconv.ParseUint(name[digit:end], 10, 32)
	if err != nil {
		return pn, ErrNoSequenceNumber
	}
	pn.seq = uint(seq)

	// Then either 'x' and the base backup's number, or '.' for a plain
	// image.
	rest := end
	switch {
	case rest < len(name) && name[rest] == 'x':
		baseEnd := digitRun(name, rest+1)
		if baseEnd == rest+1 {
			return pn, ErrNoBaseNumber
		}
		base, err := strconv.ParseUint(name[rest+1:baseEnd], 10, 32)
		if err != nil {
			return pn, ErrNoBaseNumber
		}
		pn.base = uint(base)
		rest = baseEnd
	case rest < len(name) && name[rest] == '.':
		pn.base = 0
	default:
		return pn, ErrBadSeparator
	}

	// Whatever is left must be exactly the source extension.
	if name[rest:] != SourceExtension {
		return pn, ErrBadSuffix
	}

	pn.output = name[:end] + OutputExtension
	return pn, nil
}
