// Package degrade produces LR frames from HR frames. A policy is a pure
// function of its parameters: the same HR input always yields
// byte-identical LR output, so on-the-fly LR generation stays
// reproducible across runs and workers.
package degrade

import (
	"image"
	"math"

	"github.com/mdobak/go-xerrors"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/tvsr-go/model"
)

type Policy interface {
	Type() model.DegradationType
	Scale() int
	Apply(hr model.Frame) (model.Frame, error)
}

// NewPolicy builds the tagged variant selected once at configuration
// time.
func NewPolicy(t model.DegradationType, scale int, sigma float64, kernel int) (Policy, error) {
	switch t {
	case model.DegradationBD:
		if kernel%2 == 0 {
			return nil, xerrors.New("blur kernel size must be odd")
		}
		return &bdPolicy{scale: scale, sigma: sigma, kernel: kernel}, nil
	case model.DegradationBI:
		return &biPolicy{scale: scale}, nil
	default:
		return nil, xerrors.New("unknown degradation type: " + string(t))
	}
}

// bdPolicy: gaussian blur then stride subsample. The separable blur is
// computed directly so the output is bit-stable regardless of the
// OpenCV build underneath.
type bdPolicy struct {
	scale  int
	sigma  float64
	kernel int
}

func (p *bdPolicy) Type() model.DegradationType { return model.DegradationBD }
func (p *bdPolicy) Scale() int                  { return p.scale }

func (p *bdPolicy) Apply(hr model.Frame) (model.Frame, error) {
	if hr.Height%p.scale != 0 || hr.Width%p.scale != 0 {
		return model.Frame{}, xerrors.New(model.ErrDataUnavailable, "frame size not divisible by scale")
	}

	k := gaussianKernel(p.kernel, p.sigma)
	h, w := hr.Height, hr.Width
	c := model.FrameChannels

	// Horizontal then vertical pass, float accumulation, edge clamp.
	tmp := make([]float64, h*w*c)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				sum := 0.0
				for i, kv := range k {
					sx := x + i - p.kernel/2
					if sx < 0 {
						sx = 0
					}
					if sx > w-1 {
						sx = w - 1
					}
					sum += kv * float64(hr.Pix[(y*w+sx)*c+ch])
				}
				tmp[(y*w+x)*c+ch] = sum
			}
		}
	}
	blurred := make([]float64, h*w*c)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				sum := 0.0
				for i, kv := range k {
					sy := y + i - p.kernel/2
					if sy < 0 {
						sy = 0
					}
					if sy > h-1 {
						sy = h - 1
					}
					sum += kv * tmp[(sy*w+x)*c+ch]
				}
				blurred[(y*w+x)*c+ch] = sum
			}
		}
	}

	lh, lw := h/p.scale, w/p.scale
	lr := model.Frame{
		Video:  hr.Video,
		Index:  hr.Index,
		Height: lh,
		Width:  lw,
		Pix:    make([]byte, lh*lw*c),
	}
	for y := 0; y < lh; y++ {
		for x := 0; x < lw; x++ {
			for ch := 0; ch < c; ch++ {
				v := math.Round(blurred[((y*p.scale)*w+x*p.scale)*c+ch])
				if v < 0 {
					v = 0
				}
				if v > 255 {
					v = 255
				}
				lr.Pix[(y*lw+x)*c+ch] = byte(v)
			}
		}
	}
	return lr, nil
}

func gaussianKernel(size int, sigma float64) []float64 {
	k := make([]float64, size)
	sum := 0.0
	for i := range k {
		d := float64(i - size/2)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// biPolicy: direct bicubic downsample via OpenCV.
type biPolicy struct {
	scale int
}

func (p *biPolicy) Type() model.DegradationType { return model.DegradationBI }
func (p *biPolicy) Scale() int                  { return p.scale }

func (p *biPolicy) Apply(hr model.Frame) (model.Frame, error) {
	if hr.Height%p.scale != 0 || hr.Width%p.scale != 0 {
		return model.Frame{}, xerrors.New(model.ErrDataUnavailable, "frame size not divisible by scale")
	}

	src, err := gocv.NewMatFromBytes(hr.Height, hr.Width, gocv.MatTypeCV8UC3, hr.Pix)
	if err != nil {
		return model.Frame{}, xerrors.New(model.ErrDataUnavailable, err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(hr.Width/p.scale, hr.Height/p.scale), 0, 0, gocv.InterpolationCubic)

	pix := dst.ToBytes()
	lr := model.Frame{
		Video:  hr.Video,
		Index:  hr.Index,
		Height: hr.Height / p.scale,
		Width:  hr.Width / p.scale,
		Pix:    make([]byte, len(pix)),
	}
	copy(lr.Pix, pix)
	return lr, nil
}
