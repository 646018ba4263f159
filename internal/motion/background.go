package motion

// Adaptive background model: a per-pixel running mean and variance,
// exponentially weighted over a fixed history window. Pixels whose
// squared deviation from the mean exceeds varThreshold times the pixel
// variance are foreground; darker pixels that still track the background
// within a ratio band are tagged as shadows and excluded from the binary
// mask by the later threshold step.

const (
	defaultHistory      = 500
	defaultVarThreshold = 50.0
	initialVariance     = 225.0 // matches a 15-intensity initial sigma
	minVariance         = 4.0

	maskForeground = 255
	maskShadow     = 127

	shadowRatioLow  = 0.5
	shadowRatioHigh = 0.95
)

type backgroundModel struct {
	w, h         int
	mean         []float32
	variance     []float32
	samples      int
	history      int
	varThreshold float32
}

func newBackgroundModel() *backgroundModel {
	return &backgroundModel{
		history:      defaultHistory,
		varThreshold: defaultVarThreshold,
	}
}

// apply classifies every pixel against the model and updates the model
// with the new sample. Returns a raw mask: 255 foreground, 127 shadow,
// 0 background.
func (b *backgroundModel) apply(gray []uint8, w, h int) *mask {
	if b.mean == nil || b.w != w || b.h != h {
		b.reset(gray, w, h)
		return newMask(w, h)
	}

	b.samples++
	// Learning rate ramps up over the first history samples, then holds
	alpha := float32(1.0) / float32(min(b.samples, b.history))

	out := newMask(w, h)
	for i, v := range gray {
		x := float32(v)
		d := x - b.mean[i]
		d2 := d * d

		if d2 > b.varThreshold*b.variance[i] {
			if d < 0 && b.mean[i] > 0 {
				ratio := x / b.mean[i]
				if ratio >= shadowRatioLow && ratio <= shadowRatioHigh {
					out.pix[i] = maskShadow
				} else {
					out.pix[i] = maskForeground
				}
			} else {
				out.pix[i] = maskForeground
			}
		}

		b.mean[i] += alpha * d
		b.variance[i] += alpha * (d2 - b.variance[i])
		if b.variance[i] < minVariance {
			b.variance[i] = minVariance
		}
	}
	return out
}

// reset seeds the model from a single frame
func (b *backgroundModel) reset(gray []uint8, w, h int) {
	b.w, b.h = w, h
	b.samples = 1
	b.mean = make([]float32, w*h)
	b.variance = make([]float32, w*h)
	for i, v := range gray {
		b.mean[i] = float32(v)
		b.variance[i] = initialVariance
	}
}
