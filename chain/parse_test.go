// chain/parse_test.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package chain

import (
	"errors"
	"testing"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		name string
		want parsedName
	}{
		{"sda-1.xor",
			parsedName{chain: "sda", seq: 1, base: 0, output: "sda-1.dat"}},
		{"sda-12x3.xor",
			parsedName{chain: "sda", seq: 12, base: 3, output: "sda-12.dat"}},
		// Leading zeros in the sequence digits are preserved in the
		// output name.
		{"disk_c-07.xor",
			parsedName{chain: "disk_c", seq: 7, base: 0, output: "disk_c-07.dat"}},
		{"disk_c-08x07.xor",
			parsedName{chain: "disk_c", seq: 8, base: 7, output: "disk_c-08.dat"}},
		// An explicit x0 means the same thing as no base at all.
		{"sda-2x0.xor",
			parsedName{chain: "sda", seq: 2, base: 0, output: "sda-2.dat"}},
		// A name starting with a digit has an empty chain name.
		{"3.xor",
			parsedName{chain: "", seq: 3, base: 0, output: "3.dat"}},
		// Any single separator character before the digits is accepted.
		{"sda.1.xor",
			parsedName{chain: "sda", seq: 1, base: 0, output: "sda.1.dat"}},
	}

	for _, tc := range tests {
		pn, err := parseName(tc.name)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if pn != tc.want {
			t.Errorf("%s: parsed %+v, expected %+v", tc.name, pn, tc.want)
		}
	}
}

func TestParseNameErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"nodigits.xor", ErrNoSequenceNumber},
		{".xor", ErrNoSequenceNumber},
		// Too large to be a 32-bit sequence number.
		{"sda-99999999999.xor", ErrNoSequenceNumber},
		{"sda-1x.xor", ErrNoBaseNumber},
		{"sda-1xq.xor", ErrNoBaseNumber},
		{"sda-1x99999999999.xor", ErrNoBaseNumber},
		{"sda-1y2.xor", ErrBadSeparator},
		{"sda-1", ErrBadSeparator},
		{"sda-1.bak", ErrBadSuffix},
		{"sda-1.xorx", ErrBadSuffix},
		{"sda-1x2.xor.gz", ErrBadSuffix},
	}

	for _, tc := range tests {
		if _, err := parseName(tc.name); !errors.Is(err, tc.err) {
			t.Errorf("%s: got error %v, expected %v", tc.name, err, tc.err)
		}
	}
}
