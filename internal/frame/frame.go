package frame

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ColorMode identifies the pixel layout of a Frame
type ColorMode int

const (
	// Gray is a single-channel 8-bit frame
	Gray ColorMode = iota
	// RGB is a three-channel 8-bit interleaved frame
	RGB
)

func (m ColorMode) String() string {
	if m == Gray {
		return "gray"
	}
	return "rgb"
}

// Frame is an owned copy of a captured video frame.
// The capture source reuses its read buffer, so every consumer that
// retains a frame works on its own copy.
type Frame struct {
	Width     int
	Height    int
	Mode      ColorMode
	Pix       []uint8 // W*H bytes for Gray, 3*W*H interleaved for RGB
	Timestamp time.Time
}

// Region is an axis-aligned bounding box in frame-pixel coordinates
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Translate shifts the region by (dx, dy)
func (r Region) Translate(dx, dy int) Region {
	return Region{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Clamp restricts the region to a w x h frame, preserving as much of the
// box as fits. Returns false if nothing remains.
func (r Region) Clamp(w, h int) (Region, bool) {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.Width, w), min(r.Y+r.Height, h)
	if x1-x0 < 1 || y1-y0 < 1 {
		return Region{}, false
	}
	return Region{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}

// NewGray allocates a zeroed grayscale frame
func NewGray(w, h int, ts time.Time) *Frame {
	return &Frame{Width: w, Height: h, Mode: Gray, Pix: make([]uint8, w*h), Timestamp: ts}
}

// NewRGB allocates a zeroed color frame
func NewRGB(w, h int, ts time.Time) *Frame {
	return &Frame{Width: w, Height: h, Mode: RGB, Pix: make([]uint8, 3*w*h), Timestamp: ts}
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Mode: f.Mode, Pix: pix, Timestamp: f.Timestamp}
}

// GrayAt returns the intensity at (x, y). For RGB frames the channel
// average is used.
func (f *Frame) GrayAt(x, y int) uint8 {
	if f.Mode == Gray {
		return f.Pix[y*f.Width+x]
	}
	i := 3 * (y*f.Width + x)
	return uint8((int(f.Pix[i]) + int(f.Pix[i+1]) + int(f.Pix[i+2])) / 3)
}

// Luma returns a single-channel intensity plane for the frame. Gray
// frames return their pixel data directly; callers must not mutate it.
func (f *Frame) Luma() []uint8 {
	if f.Mode == Gray {
		return f.Pix
	}
	out := make([]uint8, f.Width*f.Height)
	for i := 0; i < f.Width*f.Height; i++ {
		out[i] = uint8((int(f.Pix[3*i]) + int(f.Pix[3*i+1]) + int(f.Pix[3*i+2])) / 3)
	}
	return out
}

// ToRGB returns a three-channel copy. Gray frames are expanded by
// replicating the intensity into each channel; RGB frames are cloned.
func (f *Frame) ToRGB() *Frame {
	if f.Mode == RGB {
		return f.Clone()
	}
	out := NewRGB(f.Width, f.Height, f.Timestamp)
	for i, v := range f.Pix {
		out.Pix[3*i] = v
		out.Pix[3*i+1] = v
		out.Pix[3*i+2] = v
	}
	return out
}

// Crop returns an owned copy of the sub-rectangle r. The region must lie
// inside the frame.
func (f *Frame) Crop(r Region) *Frame {
	if f.Mode == Gray {
		out := NewGray(r.Width, r.Height, f.Timestamp)
		for y := 0; y < r.Height; y++ {
			src := (r.Y+y)*f.Width + r.X
			copy(out.Pix[y*r.Width:(y+1)*r.Width], f.Pix[src:src+r.Width])
		}
		return out
	}
	out := NewRGB(r.Width, r.Height, f.Timestamp)
	for y := 0; y < r.Height; y++ {
		src := 3 * ((r.Y+y)*f.Width + r.X)
		copy(out.Pix[3*y*r.Width:3*(y+1)*r.Width], f.Pix[src:src+3*r.Width])
	}
	return out
}

// FromImage converts a decoded image into an owned Frame
func FromImage(img image.Image, mode ColorMode, ts time.Time) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if mode == Gray {
		out := NewGray(w, h, ts)
		if g, ok := img.(*image.Gray); ok && b.Min.X == 0 && b.Min.Y == 0 && g.Stride == w {
			copy(out.Pix, g.Pix)
			return out
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				out.Pix[y*w+x] = c.Y
			}
		}
		return out
	}
	out := NewRGB(w, h, ts)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := 3 * (y*w + x)
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(bl >> 8)
		}
	}
	return out
}

// ToImage converts the frame into a standard library image for encoding
func (f *Frame) ToImage() image.Image {
	if f.Mode == Gray {
		img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
		copy(img.Pix, f.Pix)
		return img
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i < f.Width*f.Height; i++ {
		img.Pix[4*i] = f.Pix[3*i]
		img.Pix[4*i+1] = f.Pix[3*i+1]
		img.Pix[4*i+2] = f.Pix[3*i+2]
		img.Pix[4*i+3] = 0xFF
	}
	return img
}

// DrawRegions returns an annotated RGB copy of the frame with each region
// outlined and labeled. Used for the diagnostic image attached to
// detection events.
func DrawRegions(f *Frame, regions []Region, label string) *Frame {
	out := f.ToRGB()
	for i, r := range regions {
		clamped, ok := r.Clamp(out.Width, out.Height)
		if !ok {
			continue
		}
		drawRect(out, clamped)
		if label != "" {
			drawLabel(out, fmt.Sprintf("%s %d", label, i+1), clamped.X, clamped.Y-4)
		}
	}
	return out
}

var boxGreen = [3]uint8{0, 255, 0}

func drawRect(f *Frame, r Region) {
	for x := r.X; x < r.X+r.Width; x++ {
		setRGB(f, x, r.Y)
		setRGB(f, x, r.Y+r.Height-1)
	}
	for y := r.Y; y < r.Y+r.Height; y++ {
		setRGB(f, r.X, y)
		setRGB(f, r.X+r.Width-1, y)
	}
}

func setRGB(f *Frame, x, y int) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	i := 3 * (y*f.Width + x)
	f.Pix[i] = boxGreen[0]
	f.Pix[i+1] = boxGreen[1]
	f.Pix[i+2] = boxGreen[2]
}

// drawLabel renders text with the fixed 7x13 basicfont above a region
func drawLabel(f *Frame, text string, x, y int) {
	if y < basicfont.Face7x13.Ascent {
		y = basicfont.Face7x13.Ascent
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{0, 255, 0, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
	// Copy only the rendered glyph pixels back into the frame
	b := img.Bounds()
	for yy := b.Min.Y; yy < b.Max.Y; yy++ {
		for xx := b.Min.X; xx < b.Max.X; xx++ {
			if _, _, _, a := img.At(xx, yy).RGBA(); a > 0 {
				setRGB(f, xx, yy)
			}
		}
	}
}
