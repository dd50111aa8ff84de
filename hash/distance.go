package hash

import (
	"encoding/hex"
	"math/bits"
)

// MaxDistance is the distance reported when two visual hashes cannot be
// compared at all. It equals the frame digest width, the largest possible
// single-frame Hamming distance.
const MaxDistance = DigestBits

// HammingHex returns the bitwise Hamming distance between two hex frame
// digests of equal length, or MaxDistance when they are not comparable
// (length mismatch, invalid hex).
func HammingHex(a, b string) int {
	if len(a) != len(b) || len(a) == 0 {
		return MaxDistance
	}
	ab, err := hex.DecodeString(a)
	if err != nil {
		return MaxDistance
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return MaxDistance
	}
	d := 0
	for i := range ab {
		d += bits.OnesCount8(ab[i] ^ bb[i])
	}
	return d
}

// Distance returns the symmetric perceptual distance between two visual
// hashes, each of which may carry multiple frames.
//
// Rule (applied identically on the bucket path and the full-scan path):
// frames are compared index-aligned over the shorter frame count, and the
// per-position Hamming distances are averaged over the positions actually
// compared. Averaging keeps the result on the single-frame scale, so one
// similarity threshold applies uniformly to static and animated content.
// Positions where either frame is degenerate are skipped; if no position
// is comparable, the hashes are considered maximally distant.
func Distance(a, b string) int {
	fa := Frames(a)
	fb := Frames(b)
	n := len(fa)
	if len(fb) < n {
		n = len(fb)
	}

	sum, compared := 0, 0
	for i := 0; i < n; i++ {
		if IsDegenerate(fa[i]) || IsDegenerate(fb[i]) {
			continue
		}
		sum += HammingHex(fa[i], fb[i])
		compared++
	}
	if compared == 0 {
		return MaxDistance
	}
	return sum / compared
}
