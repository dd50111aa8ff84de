package hash

import (
	"encoding/hex"
	"image"
)

// dhash computes a 1024-bit difference hash of img.
//
// The image is reduced to a 33x32 luminance grid (nearest-neighbor; one
// extra column so each of the 32 row cells has a right-hand neighbor).
// Each bit is 1 when a cell is brighter than the cell to its right,
// scanned row-major. The result is hex, DigestHexLen characters.
func dhash(img image.Image) string {
	const cols = gridWidth + 1

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		// Zero-area images produce the all-zero digest, which the
		// degeneracy filter excludes from comparisons downstream.
		return allZeroDigest()
	}

	var grid [gridHeight][cols]uint16
	for row := 0; row < gridHeight; row++ {
		// Sample the pixel at the center of each grid cell.
		sy := bounds.Min.Y + (2*row+1)*h/(2*gridHeight)
		for col := 0; col < cols; col++ {
			sx := bounds.Min.X + (2*col+1)*w/(2*cols)
			grid[row][col] = luminance(img, sx, sy)
		}
	}

	out := make([]byte, DigestBits/8)
	bit := 0
	for row := 0; row < gridHeight; row++ {
		for col := 0; col < gridWidth; col++ {
			if grid[row][col] > grid[row][col+1] {
				out[bit/8] |= 1 << (7 - bit%8)
			}
			bit++
		}
	}
	return hex.EncodeToString(out)
}

// luminance returns the Rec.601 luma of the pixel at (x, y), in the
// 16-bit range reported by color.Color.RGBA.
func luminance(img image.Image, x, y int) uint16 {
	r, g, b, _ := img.At(x, y).RGBA()
	return uint16((299*r + 587*g + 114*b) / 1000)
}

func allZeroDigest() string {
	out := make([]byte, DigestBits/8)
	return hex.EncodeToString(out)
}
