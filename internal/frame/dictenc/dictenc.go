// Package dictenc is a small, from-scratch LZ4 block encoder that accepts
// a preset dictionary window.
//
// github.com/pierrec/lz4/v4 exposes dictionary-aware decompression
// (UncompressBlockWithDict) but no dictionary-aware compression entry
// point in its block API, which is the one gap this package plugs. Its
// output is standard LZ4 block format — literal run, token, optional
// match — so it decodes with plain pierrec/lz4/v4.UncompressBlockWithDict;
// only the encoder is hand-written, grounded algorithmically on
// harriteja-GoZ4X's pure-Go matcher (matcher/matcher_lz4x.go,
// compress/block.go): a hash-chain match finder over a combined
// dict+source buffer, greedy single-match-per-position selection.
package dictenc

import (
	"encoding/binary"
)

const (
	minMatch   = 4
	maxOffset  = 65535
	hashLog    = 16
	hashMul    = 2654435761
	escapeByte = 255
)

// Bound returns the worst-case compressed size for an input of n bytes,
// matching LZ4_COMPRESSBOUND so callers can size a destination buffer the
// same way they would for lz4.CompressBlockBound.
func Bound(n int) int {
	if n <= 0 {
		return 16
	}
	return n + n/255 + 16
}

// CompressBlock compresses src against the preset dictionary dict (which
// may be nil/empty) and returns the LZ4 block payload. Matches may
// reference bytes in dict as well as already-emitted bytes of src, with
// the usual LZ4 16-bit offset limit measured across the combined window.
func CompressBlock(dict, src []byte) []byte {
	if len(src) == 0 {
		return nil
	}

	d := len(dict)
	combined := make([]byte, d+len(src))
	copy(combined, dict)
	copy(combined[d:], src)
	end := len(combined)

	hashSize := 1 << hashLog
	hashMask := uint32(hashSize - 1)
	table := make([]int32, hashSize)
	for i := range table {
		table[i] = -1
	}

	hash4 := func(pos int) uint32 {
		v := binary.LittleEndian.Uint32(combined[pos : pos+4])
		return (v * hashMul) >> (32 - hashLog)
	}
	matchLenAt := func(a, b int) int {
		n := 0
		for b+n < end && combined[a+n] == combined[b+n] {
			n++
		}
		return n
	}

	// Seed the table with every dictionary position so the first bytes
	// of src can match straight into it.
	for i := 0; i+minMatch <= d; i++ {
		table[hash4(i)&hashMask] = int32(i)
	}

	dst := make([]byte, 0, Bound(len(src)))
	anchor := d
	pos := d

	for pos+minMatch <= end {
		h := hash4(pos) & hashMask
		cand := table[h]
		table[h] = int32(pos)

		if cand < 0 || pos-int(cand) > maxOffset {
			pos++
			continue
		}
		matchLen := matchLenAt(int(cand), pos)
		if matchLen < minMatch {
			pos++
			continue
		}

		dst = appendSequence(dst, combined[anchor:pos], pos-int(cand), matchLen)

		next := pos + matchLen
		// Insert every position covered by the match so later matches can
		// still find it as a candidate.
		for p := pos + 1; p < next && p+minMatch <= end; p++ {
			table[hash4(p)&hashMask] = int32(p)
		}
		pos = next
		anchor = pos
	}

	dst = appendLastLiterals(dst, combined[anchor:end])
	return dst
}

// appendSequence writes one LZ4 sequence: a literal run followed by a
// match (offset, length).
func appendSequence(dst, literals []byte, offset, matchLen int) []byte {
	litLen := len(literals)
	mlCode := matchLen - minMatch

	litCode := litLen
	if litCode > 15 {
		litCode = 15
	}
	mlTokenCode := mlCode
	if mlTokenCode > 15 {
		mlTokenCode = 15
	}
	dst = append(dst, byte(litCode<<4|mlTokenCode))
	dst = appendExtraLen(dst, litLen, 15)
	dst = append(dst, literals...)
	dst = append(dst, byte(offset), byte(offset>>8))
	dst = appendExtraLen(dst, mlCode, 15)
	return dst
}

// appendLastLiterals writes the trailing literal-only sequence every LZ4
// block ends with: a token whose match-length nibble is 0 and no
// offset/match-length fields at all.
func appendLastLiterals(dst, literals []byte) []byte {
	litLen := len(literals)
	litCode := litLen
	if litCode > 15 {
		litCode = 15
	}
	dst = append(dst, byte(litCode<<4))
	dst = appendExtraLen(dst, litLen, 15)
	dst = append(dst, literals...)
	return dst
}

// appendExtraLen writes the 255-escaped extra-length bytes for a value
// whose 4-bit nibble code has already saturated at code.
func appendExtraLen(dst []byte, n, code int) []byte {
	if n < code {
		return dst
	}
	rem := n - code
	for rem >= escapeByte {
		dst = append(dst, escapeByte)
		rem -= escapeByte
	}
	return append(dst, byte(rem))
}
