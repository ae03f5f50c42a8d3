package nn

import (
	"math"
	"math/rand"
	"testing"
)

func TestWarpZeroFlowIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x := NewTensor(3, 6, 6)
	for i := range x.Data {
		x.Data[i] = rng.Float64()
	}
	flow := NewTensor(2, 6, 6)

	out, _ := Warp(x, flow)
	for i := range x.Data {
		if out.Data[i] != x.Data[i] {
			t.Fatalf("zero-flow warp differs at %d: %v vs %v", i, out.Data[i], x.Data[i])
		}
	}
}

func TestWarpIntegerShift(t *testing.T) {
	x := NewTensor(1, 1, 4)
	copy(x.Data, []float64{1, 2, 3, 4})

	// dx = 1 everywhere: out(x) = in(x+1), last column clamps.
	flow := NewTensor(2, 1, 4)
	for i := 0; i < 4; i++ {
		flow.Data[i] = 1
	}

	out, _ := Warp(x, flow)
	want := []float64{2, 3, 4, 4}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Errorf("shift[%d]: got %v want %v", i, out.Data[i], want[i])
		}
	}
}

func TestResizeBilinearConstant(t *testing.T) {
	x := NewTensor(2, 3, 3)
	x.Fill(0.7)

	out, _ := ResizeBilinear(x, 12, 12)
	for i := range out.Data {
		if math.Abs(out.Data[i]-0.7) > 1e-12 {
			t.Fatalf("constant image not preserved: %v at %d", out.Data[i], i)
		}
	}
}

func TestWarpGradCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := NewTensor(1, 5, 5)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	// Small interior flow keeps every sample away from the clamp
	// boundary, where the derivative is intentionally zeroed.
	flow := NewTensor(2, 5, 5)
	for i := range flow.Data {
		flow.Data[i] = 0.1 + 0.3*rng.Float64()
	}
	seed := NewTensor(1, 5, 5)
	for i := range seed.Data {
		seed.Data[i] = rng.NormFloat64()
	}

	loss := func() float64 {
		out, _ := Warp(x, flow)
		s := 0.0
		for i := range out.Data {
			s += out.Data[i] * seed.Data[i]
		}
		return s
	}

	_, ctx := Warp(x, flow)
	gradX, gradFlow := WarpBackward(ctx, seed)

	const eps = 1e-6
	const tol = 1e-4

	check := func(name string, data, grad []float64, idxs []int) {
		for _, i := range idxs {
			orig := data[i]
			data[i] = orig + eps
			up := loss()
			data[i] = orig - eps
			down := loss()
			data[i] = orig

			numeric := (up - down) / (2 * eps)
			if math.Abs(numeric-grad[i]) > tol {
				t.Errorf("%s[%d]: analytic %v numeric %v", name, i, grad[i], numeric)
			}
		}
	}

	// Interior positions only; boundary pixels sit on bilinear kinks
	// where finite differences disagree with one-sided derivatives.
	interior := []int{6, 7, 8, 11, 12, 13, 16, 17, 18}
	check("x", x.Data, gradX.Data, interior)
	check("flow dx", flow.Data[:25], gradFlow.Data[:25], interior)
	check("flow dy", flow.Data[25:], gradFlow.Data[25:], interior)
}

func TestResizeBilinearBackwardConservesMass(t *testing.T) {
	x := NewTensor(1, 4, 4)
	_, ctx := ResizeBilinear(x, 8, 8)

	g := NewTensor(1, 8, 8)
	g.Fill(1)
	gin := ResizeBilinearBackward(ctx, g)

	sum := 0.0
	for _, v := range gin.Data {
		sum += v
	}
	if math.Abs(sum-64) > 1e-9 {
		t.Errorf("gradient mass: got %v want 64", sum)
	}
}
