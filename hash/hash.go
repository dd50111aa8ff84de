// Package hash computes content signatures for media items.
//
// Every item gets an exact hash (BLAKE3-256 of the raw bytes) used as the
// exact-duplicate key and, for decodable visual content, a perceptual
// hash (1024-bit dHash) whose Hamming distance to other perceptual hashes
// approximates visual similarity. Animated content is sampled at up to
// MaxFrames frames, one dHash per frame.
package hash

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/zeebo/blake3"
)

const (
	// FrameDelimiter joins per-frame digests of animated content into a
	// single visual hash string. It must not be a valid hex character:
	// writers and readers split on this one shared constant, so a
	// delimiter that could appear inside a digest would corrupt distance
	// comparisons. Never use a literal at a call site.
	FrameDelimiter = ":"

	// DigestBits is the size of a single perceptual frame digest.
	DigestBits = 1024

	// DigestHexLen is the hex-encoded length of a single frame digest.
	DigestHexLen = DigestBits / 4

	// dHash grid. Each row compares horizontally adjacent cells, so the
	// sampled grid is one column wider than the bit grid.
	gridWidth  = 32
	gridHeight = 32
)

// ErrUndecodable is returned when media bytes cannot be decoded for
// perceptual hashing. It is terminal for the item: retrying will not fix
// corrupt bytes. Callers must never treat it as "no perceptual signature".
var ErrUndecodable = errors.New("undecodable media bytes")

// Kind distinguishes how media bytes are sampled for perceptual hashing.
type Kind int

const (
	// KindStatic is a single-frame image.
	KindStatic Kind = iota

	// KindAnimated is multi-frame image content (animated GIF/WebP).
	KindAnimated

	// KindClip is short video content. Clips carry no perceptual
	// signature: frame extraction from video is a transcoding concern
	// and lives outside this module.
	KindClip
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindAnimated:
		return "animated"
	case KindClip:
		return "clip"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Digest is the signature of a single media item.
type Digest struct {
	// Exact is the BLAKE3-256 hex digest of the raw bytes.
	Exact string

	// Visual is zero or more frame digests joined by FrameDelimiter.
	// Empty means no perceptual signature is available (clips,
	// non-visual content).
	Visual string
}

// Usable reports whether the visual hash can participate in similarity
// comparisons: at least one constituent frame digest must be
// non-degenerate. A degenerate-only hash matches almost anything under a
// distance threshold and must be excluded from candidate comparisons.
func (d Digest) Usable() bool {
	if d.Visual == "" {
		return false
	}
	for _, frame := range Frames(d.Visual) {
		if !IsDegenerate(frame) {
			return true
		}
	}
	return false
}

// Frames splits a visual hash into its per-frame digests.
func Frames(visual string) []string {
	if visual == "" {
		return nil
	}
	return strings.Split(visual, FrameDelimiter)
}

// FirstFrame returns the first frame digest of a visual hash, or "" if
// the hash is empty.
func FirstFrame(visual string) string {
	if visual == "" {
		return ""
	}
	if i := strings.Index(visual, FrameDelimiter); i >= 0 {
		return visual[:i]
	}
	return visual
}

// Options configures a Hasher.
type Options struct {
	// MaxFrames is the maximum number of frames sampled from animated
	// content, taken at even intervals across the frame count.
	MaxFrames int
}

// DefaultOptions are sensible defaults for a Hasher.
var DefaultOptions = Options{
	MaxFrames: 5,
}

// Hasher computes Digests from raw media bytes. It is stateless and safe
// for concurrent use.
type Hasher struct {
	opts Options
}

// New creates a Hasher.
func New(optFns ...func(o *Options)) *Hasher {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = DefaultOptions.MaxFrames
	}
	return &Hasher{opts: opts}
}

// Hash computes the exact and perceptual signature of data.
//
// The exact hash is always present. The visual hash is empty for
// KindClip. For visual kinds, an undecodable payload is an error
// (wrapping ErrUndecodable), never a silent empty hash: a caller that
// mistook a hashing failure for "no match" would duplicate storage.
func (h *Hasher) Hash(data []byte, kind Kind) (Digest, error) {
	if len(data) == 0 {
		return Digest{}, fmt.Errorf("hash: empty payload: %w", ErrUndecodable)
	}

	sum := blake3.Sum256(data)
	d := Digest{Exact: hex.EncodeToString(sum[:])}

	switch kind {
	case KindClip:
		return d, nil
	case KindAnimated:
		frames, err := h.animatedFrames(data)
		if err != nil {
			return Digest{}, err
		}
		d.Visual = strings.Join(frames, FrameDelimiter)
		return d, nil
	case KindStatic:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Digest{}, fmt.Errorf("hash: decode static image: %w: %w", ErrUndecodable, err)
		}
		d.Visual = dhash(img)
		return d, nil
	default:
		return Digest{}, fmt.Errorf("hash: unknown media kind %d", int(kind))
	}
}

// animatedFrames decodes multi-frame content and returns one dHash per
// sampled frame. GIF is decoded natively; anything else falls back to a
// single-frame decode of the first frame.
func (h *Hasher) animatedFrames(data []byte) ([]string, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err == nil && len(g.Image) > 0 {
		idxs := sampleIndexes(len(g.Image), h.opts.MaxFrames)
		frames := make([]string, 0, len(idxs))
		for _, i := range idxs {
			frames = append(frames, dhash(g.Image[i]))
		}
		return frames, nil
	}

	// Not a GIF (or broken GIF container): hash the first decodable frame.
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("hash: decode animated image: %w: %w", ErrUndecodable, err)
	}
	return []string{dhash(img)}, nil
}

// sampleIndexes picks up to max frame indexes at even intervals across n
// frames, always including the first frame.
func sampleIndexes(n, max int) []int {
	if n <= max {
		idxs := make([]int, n)
		for i := range idxs {
			idxs[i] = i
		}
		return idxs
	}
	idxs := make([]int, max)
	for i := range idxs {
		idxs[i] = i * n / max
	}
	return idxs
}
