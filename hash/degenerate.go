package hash

import "strings"

// IsDegenerate reports whether a single frame digest has pathologically
// low information content. Degenerate digests (uniform color fields,
// failed decodes, solid frames) sit near everything in Hamming space and
// would spuriously match unrelated content under a distance threshold,
// so they are excluded from candidate comparisons on both sides.
//
// A digest is degenerate when it is empty, not valid lowercase hex of the
// expected frame length, all zeros or all ones, more than 90% zeros or
// ones, built from too few distinct nibbles, or a single chunk repeated
// across its whole length.
func IsDegenerate(frame string) bool {
	if len(frame) != DigestHexLen {
		return true
	}

	var zeros, ones int
	seen := [16]bool{}
	distinct := 0
	for i := 0; i < len(frame); i++ {
		c := frame[i]
		var v int
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c >= 'a' && c <= 'f':
			v = int(c-'a') + 10
		default:
			return true
		}
		if v == 0 {
			zeros++
		}
		if v == 15 {
			ones++
		}
		if !seen[v] {
			seen[v] = true
			distinct++
		}
	}

	if zeros == len(frame) || ones == len(frame) {
		return true
	}
	if zeros*10 > len(frame)*9 || ones*10 > len(frame)*9 {
		return true
	}
	if distinct <= 4 {
		return true
	}
	return isRepeatedChunk(frame, 32)
}

// isRepeatedChunk reports whether s is the same size-n chunk repeated.
func isRepeatedChunk(s string, n int) bool {
	if len(s) <= n || len(s)%n != 0 {
		return false
	}
	head := s[:n]
	for i := n; i < len(s); i += n {
		if s[i:i+n] != head {
			return false
		}
	}
	return true
}

// FullyDegenerate reports whether every frame of a visual hash is
// degenerate (or the hash is empty). Such a hash must be skipped for
// perceptual matching entirely.
func FullyDegenerate(visual string) bool {
	if strings.TrimSpace(visual) == "" {
		return true
	}
	for _, frame := range Frames(visual) {
		if !IsDegenerate(frame) {
			return false
		}
	}
	return true
}
