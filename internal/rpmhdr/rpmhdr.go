// Package rpmhdr holds the pure, stateless framing rules for a single RPM
// header blob: its magic, and the size of its (il,dl) payload.
package rpmhdr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MagicSize is the length of an RPM header's leading magic.
const MagicSize = 8

// LeadSize is MagicSize plus the 8-byte big-endian (il,dl) pair that
// follows it — the minimum prefix needed to compute a blob's total size.
const LeadSize = MagicSize + 8

// Magic is the 8-byte RPM header magic.
var Magic = [MagicSize]byte{0x8E, 0xAD, 0xE8, 0x01, 0x00, 0x00, 0x00, 0x00}

const (
	// MaxIndexEntries is the upper bound on il (index entry count).
	MaxIndexEntries = 65535
	// MaxDataSize is the upper bound on dl (data segment size): 16 MiB - 1.
	MaxDataSize = 16*1024*1024 - 1
)

var errRPMHdr = errors.New("rpmhdr")

// ErrBadMagic is returned when a blob's leading 8 bytes don't match Magic.
var ErrBadMagic = fmt.Errorf("%w: bad magic", errRPMHdr)

// ErrBadSize is returned when (il,dl) violate their bounds.
var ErrBadSize = fmt.Errorf("%w: bad size", errRPMHdr)

// CheckMagic reports whether the first MagicSize bytes of b equal Magic.
func CheckMagic(b []byte) bool {
	if len(b) < MagicSize {
		return false
	}
	return [MagicSize]byte(b[:MagicSize]) == Magic
}

// DataSize decodes the big-endian (il,dl) pair from ildl and returns the
// size of the blob's payload that follows the 16-byte magic+(il,dl)
// prefix: 16*il + dl.
//
// lead must point at the (il,dl) pair itself, i.e. 8 bytes, not 16: callers
// that have a full magic-prefixed lead should slice past the magic first.
func DataSize(ildl []byte) (int, error) {
	if len(ildl) < 8 {
		return 0, fmt.Errorf("%w: short lead", ErrBadSize)
	}
	il := binary.BigEndian.Uint32(ildl[0:4])
	dl := binary.BigEndian.Uint32(ildl[4:8])
	if il == 0 || il > MaxIndexEntries {
		return 0, fmt.Errorf("%w: il=%d out of range", ErrBadSize, il)
	}
	if dl == 0 || dl > MaxDataSize {
		return 0, fmt.Errorf("%w: dl=%d out of range", ErrBadSize, dl)
	}
	return 16*int(il) + int(dl), nil
}

// BodySize is DataSize plus the 8 bytes of (il,dl) itself: the size of a
// blob body (magic excluded).
func BodySize(ildl []byte) (int, error) {
	n, err := DataSize(ildl)
	if err != nil {
		return 0, err
	}
	return 8 + n, nil
}
