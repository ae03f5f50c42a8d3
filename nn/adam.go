package nn

import "math"

// Adam optimizes a fixed parameter set. Two independent instances act
// on the generator-side and discriminator parameter sets; the trainer
// coordinates their step order explicitly.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	step int
	m    []*Tensor
	v    []*Tensor
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
	}
}

func (a *Adam) ensure(params []*Param) {
	if a.m != nil {
		return
	}
	a.m = make([]*Tensor, len(params))
	a.v = make([]*Tensor, len(params))
	for i, p := range params {
		a.m[i] = NewTensor(p.Value.Shape...)
		a.v[i] = NewTensor(p.Value.Shape...)
	}
}

// Step applies one update from the accumulated gradients. Gradients are
// not zeroed here; the caller owns that.
func (a *Adam) Step(params []*Param) {
	a.ensure(params)
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for i, p := range params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad.Data {
			m.Data[j] = a.Beta1*m.Data[j] + (1-a.Beta1)*g
			v.Data[j] = a.Beta2*v.Data[j] + (1-a.Beta2)*g*g
			mHat := m.Data[j] / c1
			vHat := v.Data[j] / c2
			p.Value.Data[j] -= a.LR * mHat / (math.Sqrt(vHat) + a.Eps)
		}
	}
}

// State exposes the optimizer internals for checkpointing.
func (a *Adam) State() (step int, m, v []*Tensor) {
	return a.step, a.m, a.v
}

// Restore reinstates optimizer internals from a checkpoint. Slices are
// adopted, not copied.
func (a *Adam) Restore(step int, m, v []*Tensor) {
	a.step = step
	a.m = m
	a.v = v
}
