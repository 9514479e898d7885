package assets

import (
	"image"
	"math/bits"
)

// AverageHash computes a 64-bit perceptual hash: the image is sampled onto
// an 8x8 grayscale grid and each bit records whether its cell is brighter
// than the grid mean. Similar images produce hashes a few bits apart.
func AverageHash(img image.Image) uint64 {
	const grid = 8
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var cells [grid * grid]uint64
	var total uint64
	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			x := bounds.Min.X + gx*w/grid + w/(grid*2)
			y := bounds.Min.Y + gy*h/grid + h/(grid*2)
			if x >= bounds.Max.X {
				x = bounds.Max.X - 1
			}
			if y >= bounds.Max.Y {
				y = bounds.Max.Y - 1
			}
			r, g, b, _ := img.At(x, y).RGBA()
			// Integer luma approximation on 16-bit channels.
			luma := (299*uint64(r) + 587*uint64(g) + 114*uint64(b)) / 1000
			cells[gy*grid+gx] = luma
			total += luma
		}
	}

	mean := total / (grid * grid)
	var hash uint64
	for i, luma := range cells {
		if luma > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

// HashDistance returns the Hamming distance between two perceptual hashes.
func HashDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
