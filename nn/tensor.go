package nn

import (
	"fmt"
	"math"
)

// Tensor is a dense CHW (or arbitrary shape) float64 grid. The training
// core operates per-example; the batch dimension lives in the trainer's
// shard loop, not here.
type Tensor struct {
	Shape []int
	Data  []float64
}

func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{
		Shape: append([]int{}, shape...),
		Data:  make([]float64, n),
	}
}

func (t *Tensor) Len() int {
	return len(t.Data)
}

func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

func (t *Tensor) Zero() {
	t.Fill(0)
}

// SameShape reports whether both tensors have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// At/Set address a CHW tensor. Callers on other ranks index Data directly.
func (t *Tensor) At(c, h, w int) float64 {
	return t.Data[(c*t.Shape[1]+h)*t.Shape[2]+w]
}

func (t *Tensor) Set(c, h, w int, v float64) {
	t.Data[(c*t.Shape[1]+h)*t.Shape[2]+w] = v
}

// AddScaled accumulates a*o into t in place.
func (t *Tensor) AddScaled(o *Tensor, a float64) {
	for i, v := range o.Data {
		t.Data[i] += a * v
	}
}

func (t *Tensor) Scale(a float64) {
	for i := range t.Data {
		t.Data[i] *= a
	}
}

// Finite reports whether every element is a finite number. A false
// return is the numeric-instability trigger upstream.
func (t *Tensor) Finite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

// Param is one trainable variable: a value tensor plus its gradient
// accumulator. Device replicas share Value and own their Grad.
type Param struct {
	Name  string
	Value *Tensor
	Grad  *Tensor
}

func NewParam(name string, value *Tensor) *Param {
	return &Param{
		Name:  name,
		Value: value,
		Grad:  NewTensor(value.Shape...),
	}
}

// ShareValue returns a replica param: same underlying value storage,
// fresh gradient accumulator.
func (p *Param) ShareValue() *Param {
	return &Param{
		Name:  p.Name,
		Value: p.Value,
		Grad:  NewTensor(p.Value.Shape...),
	}
}

func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// GradsFinite scans all gradient accumulators for NaN/Inf.
func GradsFinite(params []*Param) bool {
	for _, p := range params {
		if !p.Grad.Finite() {
			return false
		}
	}
	return true
}
