package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	f := NewGray(4, 4, time.Now())
	f.Pix[0] = 100

	c := f.Clone()
	c.Pix[0] = 200

	assert.EqualValues(t, 100, f.Pix[0])
	assert.EqualValues(t, 200, c.Pix[0])
	assert.Equal(t, f.Timestamp, c.Timestamp)
}

func TestToRGBExpandsGray(t *testing.T) {
	t.Parallel()

	f := NewGray(2, 1, time.Now())
	f.Pix[0] = 10
	f.Pix[1] = 20

	rgb := f.ToRGB()
	require.Equal(t, RGB, rgb.Mode)
	require.Len(t, rgb.Pix, 6)
	assert.Equal(t, []uint8{10, 10, 10, 20, 20, 20}, rgb.Pix)

	// RGB input is cloned, not aliased
	rgb2 := rgb.ToRGB()
	rgb2.Pix[0] = 99
	assert.EqualValues(t, 10, rgb.Pix[0])
}

func TestLuma(t *testing.T) {
	t.Parallel()

	f := NewRGB(1, 1, time.Now())
	f.Pix[0], f.Pix[1], f.Pix[2] = 30, 60, 90

	luma := f.Luma()
	require.Len(t, luma, 1)
	assert.EqualValues(t, 60, luma[0])
}

func TestRegionClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		region Region
		want   Region
		wantOK bool
	}{
		{
			name:   "fully inside",
			region: Region{X: 1, Y: 1, Width: 2, Height: 2},
			want:   Region{X: 1, Y: 1, Width: 2, Height: 2},
			wantOK: true,
		},
		{
			name:   "overhangs right edge",
			region: Region{X: 8, Y: 0, Width: 5, Height: 5},
			want:   Region{X: 8, Y: 0, Width: 2, Height: 5},
			wantOK: true,
		},
		{
			name:   "negative origin",
			region: Region{X: -2, Y: -2, Width: 4, Height: 4},
			want:   Region{X: 0, Y: 0, Width: 2, Height: 2},
			wantOK: true,
		},
		{
			name:   "entirely outside",
			region: Region{X: 20, Y: 20, Width: 3, Height: 3},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.region.Clamp(10, 10)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRegionTranslate(t *testing.T) {
	t.Parallel()

	r := Region{X: 2, Y: 3, Width: 4, Height: 5}
	got := r.Translate(10, 20)
	assert.Equal(t, Region{X: 12, Y: 23, Width: 4, Height: 5}, got)
}

func TestCrop(t *testing.T) {
	t.Parallel()

	f := NewGray(4, 4, time.Now())
	for i := range f.Pix {
		f.Pix[i] = uint8(i)
	}

	c := f.Crop(Region{X: 1, Y: 1, Width: 2, Height: 2})
	require.Equal(t, 2, c.Width)
	require.Equal(t, 2, c.Height)
	assert.Equal(t, []uint8{5, 6, 9, 10}, c.Pix)
}

func TestFromImageToImageRoundTrip(t *testing.T) {
	t.Parallel()

	f := NewRGB(3, 2, time.Now())
	for i := range f.Pix {
		f.Pix[i] = uint8(i * 7)
	}

	got := FromImage(f.ToImage(), RGB, f.Timestamp)
	assert.Equal(t, f.Pix, got.Pix)
	assert.Equal(t, f.Width, got.Width)
	assert.Equal(t, f.Height, got.Height)
}

func TestDrawRegions(t *testing.T) {
	t.Parallel()

	f := NewGray(40, 40, time.Now())
	out := DrawRegions(f, []Region{{X: 10, Y: 20, Width: 5, Height: 5}}, "motion")

	require.Equal(t, RGB, out.Mode)
	assert.Equal(t, f.Width, out.Width)
	assert.Equal(t, f.Height, out.Height)

	// Top-left corner of the box is painted green
	i := 3 * (20*out.Width + 10)
	assert.Equal(t, []uint8{0, 255, 0}, out.Pix[i:i+3])

	// The input frame is untouched
	assert.EqualValues(t, 0, f.Pix[20*f.Width+10])
}
