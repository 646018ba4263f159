package motion

import "vigil/internal/frame"

// mask is a single-channel working image used between the detection and
// region-extraction stages
type mask struct {
	w, h int
	pix  []uint8
}

func newMask(w, h int) *mask {
	return &mask{w: w, h: h, pix: make([]uint8, w*h)}
}

// threshold binarizes in place: values above cutoff become 255, the rest 0
func (m *mask) threshold(cutoff uint8) {
	for i, v := range m.pix {
		if v > cutoff {
			m.pix[i] = 255
		} else {
			m.pix[i] = 0
		}
	}
}

// gaussian5 kernel weights, separable [1 4 6 4 1]/16
var gauss5 = [5]int{1, 4, 6, 4, 1}

// blur applies a 5x5 Gaussian smoothing pass
func (m *mask) blur() {
	tmp := make([]uint8, len(m.pix))
	// horizontal pass
	for y := 0; y < m.h; y++ {
		row := y * m.w
		for x := 0; x < m.w; x++ {
			sum, wsum := 0, 0
			for k := -2; k <= 2; k++ {
				xx := x + k
				if xx < 0 || xx >= m.w {
					continue
				}
				w := gauss5[k+2]
				sum += w * int(m.pix[row+xx])
				wsum += w
			}
			tmp[row+x] = uint8(sum / wsum)
		}
	}
	// vertical pass
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			sum, wsum := 0, 0
			for k := -2; k <= 2; k++ {
				yy := y + k
				if yy < 0 || yy >= m.h {
					continue
				}
				w := gauss5[k+2]
				sum += w * int(tmp[yy*m.w+x])
				wsum += w
			}
			m.pix[y*m.w+x] = uint8(sum / wsum)
		}
	}
}

// ellipse5 is the 5x5 elliptical structuring element used by the
// morphological passes
var ellipse5 = [][2]int{
	{0, -2},
	{-2, -1}, {-1, -1}, {0, -1}, {1, -1}, {2, -1},
	{-2, 0}, {-1, 0}, {0, 0}, {1, 0}, {2, 0},
	{-2, 1}, {-1, 1}, {0, 1}, {1, 1}, {2, 1},
	{0, 2},
}

// dilate replaces each pixel with the neighborhood maximum
func (m *mask) dilate() {
	m.morph(func(best, v uint8) bool { return v > best }, 0)
}

// erode replaces each pixel with the neighborhood minimum
func (m *mask) erode() {
	m.morph(func(best, v uint8) bool { return v < best }, 255)
}

func (m *mask) morph(better func(best, v uint8) bool, init uint8) {
	out := make([]uint8, len(m.pix))
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			best := init
			for _, off := range ellipse5 {
				xx, yy := x+off[0], y+off[1]
				if xx < 0 || yy < 0 || xx >= m.w || yy >= m.h {
					continue
				}
				if v := m.pix[yy*m.w+xx]; better(best, v) {
					best = v
				}
			}
			out[y*m.w+x] = best
		}
	}
	m.pix = out
}

// denoise smooths the mask and removes speckle: Gaussian blur, then a
// morphological close (fill small gaps) followed by an open (drop
// isolated specks)
func (m *mask) denoise() {
	m.blur()
	m.dilate()
	m.erode()
	m.erode()
	m.dilate()
}

// findRegions extracts the bounding box of every connected nonzero
// component whose pixel count is at least minArea. The component pixel
// area is compared, not the bounding box area. Components are visited in
// scan order; no ordering beyond that is guaranteed.
func (m *mask) findRegions(minArea int) []frame.Region {
	var regions []frame.Region
	visited := make([]bool, len(m.pix))
	stack := make([]int, 0, 256)

	for start := range m.pix {
		if m.pix[start] == 0 || visited[start] {
			continue
		}
		// flood fill over 8-connected neighbors
		area := 0
		minX, minY := m.w, m.h
		maxX, maxY := 0, 0
		visited[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%m.w, i/m.w
			area++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					xx, yy := x+dx, y+dy
					if xx < 0 || yy < 0 || xx >= m.w || yy >= m.h {
						continue
					}
					j := yy*m.w + xx
					if m.pix[j] != 0 && !visited[j] {
						visited[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		if area >= minArea {
			regions = append(regions, frame.Region{
				X: minX, Y: minY,
				Width:  maxX - minX + 1,
				Height: maxY - minY + 1,
			})
		}
	}
	return regions
}
