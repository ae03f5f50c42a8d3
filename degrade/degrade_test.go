package degrade

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/khaledhikmat/tvsr-go/model"
)

func randomFrame(rng *rand.Rand, h, w int) model.Frame {
	pix := make([]byte, h*w*model.FrameChannels)
	rng.Read(pix)
	return model.Frame{Video: "v", Height: h, Width: w, Pix: pix}
}

func TestBDDeterministic(t *testing.T) {
	p, err := NewPolicy(model.DegradationBD, 4, 1.5, 13)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	hr := randomFrame(rand.New(rand.NewSource(1)), 64, 64)

	a, err := p.Apply(hr)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	b, err := p.Apply(hr)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("repeated BD degradation is not byte-identical")
	}
	if a.Height != 16 || a.Width != 16 {
		t.Errorf("LR size: got %dx%d want 16x16", a.Height, a.Width)
	}
}

func TestBDConstantImage(t *testing.T) {
	p, err := NewPolicy(model.DegradationBD, 2, 1.0, 5)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	hr := model.Frame{Video: "v", Height: 8, Width: 8, Pix: bytes.Repeat([]byte{120}, 8*8*3)}
	lr, err := p.Apply(hr)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// A normalized blur of a constant image is the same constant.
	for i, v := range lr.Pix {
		if v != 120 {
			t.Fatalf("constant image changed at %d: %d", i, v)
		}
	}
}

func TestBDRejectsIndivisibleFrame(t *testing.T) {
	p, err := NewPolicy(model.DegradationBD, 4, 1.5, 13)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	hr := randomFrame(rand.New(rand.NewSource(2)), 30, 30)
	if _, err := p.Apply(hr); !errors.Is(err, model.ErrDataUnavailable) {
		t.Errorf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestNewPolicyValidation(t *testing.T) {
	if _, err := NewPolicy(model.DegradationBD, 4, 1.5, 12); err == nil {
		t.Error("expected error for even kernel size")
	}
	if _, err := NewPolicy(model.DegradationType("XX"), 4, 1.5, 13); err == nil {
		t.Error("expected error for unknown degradation type")
	}
}
