package pipeline

import (
	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/nn"
)

// Sample is one training example: a fixed-length temporal window of
// paired LR/HR frames from a single video, already augmented and
// converted to tensors.
type Sample struct {
	Key model.SequenceKey
	LR  []*nn.Tensor
	HR  []*nn.Tensor
}

// Phase of the per-sequence generator state machine.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseRecurring
	PhaseDone
)

// RecurrentState is owned by exactly one in-flight sequence. It is an
// explicit value threaded through the per-frame calls; the networks
// never hold it. At sequence end the caller discards it.
type RecurrentState struct {
	phase  Phase
	PrevLR *nn.Tensor
	PrevSR *nn.Tensor
}

func NewRecurrentState() *RecurrentState {
	return &RecurrentState{phase: PhaseInit}
}

func (s *RecurrentState) Phase() Phase {
	return s.phase
}

func (s *RecurrentState) advance(lr, sr *nn.Tensor) {
	s.phase = PhaseRecurring
	s.PrevLR = lr
	s.PrevSR = sr
}

// Finish marks the sequence complete and drops the held frames so a
// leaked reference cannot bleed into another sequence.
func (s *RecurrentState) Finish() {
	s.phase = PhaseDone
	s.PrevLR = nil
	s.PrevSR = nil
}

// FrameToTensor converts HWC/RGB uint8 pixels to a CHW tensor in [0,1].
func FrameToTensor(f model.Frame) *nn.Tensor {
	t := nn.NewTensor(model.FrameChannels, f.Height, f.Width)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			for c := 0; c < model.FrameChannels; c++ {
				t.Set(c, y, x, float64(f.Pix[(y*f.Width+x)*model.FrameChannels+c])/255.0)
			}
		}
	}
	return t
}

// TensorToFrame clamps a CHW tensor back to HWC/RGB uint8 pixels.
func TensorToFrame(t *nn.Tensor, video string, index int) model.Frame {
	h, w := t.Shape[1], t.Shape[2]
	f := model.Frame{
		Video:  video,
		Index:  index,
		Height: h,
		Width:  w,
		Pix:    make([]byte, h*w*model.FrameChannels),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < model.FrameChannels; c++ {
				v := t.At(c, y, x) * 255.0
				if v < 0 {
					v = 0
				}
				if v > 255 {
					v = 255
				}
				f.Pix[(y*w+x)*model.FrameChannels+c] = byte(v + 0.5)
			}
		}
	}
	return f
}
