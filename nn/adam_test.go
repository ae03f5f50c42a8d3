package nn

import (
	"math"
	"testing"
)

// Minimizes f(w) = sum((w - target)^2) and expects convergence.
func TestAdamQuadratic(t *testing.T) {
	target := []float64{1.5, -2.0, 0.25}

	w := NewTensor(3)
	p := NewParam("w", w)
	opt := NewAdam(0.05)

	for i := 0; i < 2000; i++ {
		for j := range w.Data {
			p.Grad.Data[j] = 2 * (w.Data[j] - target[j])
		}
		opt.Step([]*Param{p})
	}

	for j := range target {
		if math.Abs(w.Data[j]-target[j]) > 1e-3 {
			t.Errorf("w[%d]: got %v want %v", j, w.Data[j], target[j])
		}
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	p1 := NewParam("w", NewTensor(4))
	p2 := NewParam("w", NewTensor(4))
	copy(p2.Value.Data, p1.Value.Data)

	grads := []float64{0.1, -0.2, 0.3, -0.4}

	opt1 := NewAdam(0.01)
	for i := 0; i < 5; i++ {
		copy(p1.Grad.Data, grads)
		opt1.Step([]*Param{p1})
	}

	step, m, v := opt1.State()
	// Restore adopts the slices, so hand it copies.
	mCopy := make([]*Tensor, len(m))
	vCopy := make([]*Tensor, len(v))
	for i := range m {
		mCopy[i] = m[i].Clone()
		vCopy[i] = v[i].Clone()
	}
	opt2 := NewAdam(0.01)
	copy(p2.Value.Data, p1.Value.Data)
	opt2.Restore(step, mCopy, vCopy)

	copy(p1.Grad.Data, grads)
	opt1.Step([]*Param{p1})
	copy(p2.Grad.Data, grads)
	opt2.Step([]*Param{p2})

	for j := range p1.Value.Data {
		if p1.Value.Data[j] != p2.Value.Data[j] {
			t.Errorf("restored optimizer diverges at %d: %v vs %v", j, p1.Value.Data[j], p2.Value.Data[j])
		}
	}
}

func TestGradsFinite(t *testing.T) {
	p := NewParam("w", NewTensor(2))
	if !GradsFinite([]*Param{p}) {
		t.Error("zero grads reported non-finite")
	}
	p.Grad.Data[1] = math.NaN()
	if GradsFinite([]*Param{p}) {
		t.Error("NaN grad reported finite")
	}
}
