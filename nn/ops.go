package nn

import "fmt"

// LeakyReLU with the conventional 0.2 slope. The ctx is the input
// itself; backward only needs its signs.
type ReluCtx struct {
	in *Tensor
}

func LeakyReLU(x *Tensor, slope float64) (*Tensor, *ReluCtx) {
	out := NewTensor(x.Shape...)
	for i, v := range x.Data {
		if v >= 0 {
			out.Data[i] = v
		} else {
			out.Data[i] = slope * v
		}
	}
	return out, &ReluCtx{in: x}
}

func LeakyReLUBackward(ctx *ReluCtx, gradOut *Tensor, slope float64) *Tensor {
	gradIn := NewTensor(ctx.in.Shape...)
	for i, v := range ctx.in.Data {
		if v >= 0 {
			gradIn.Data[i] = gradOut.Data[i]
		} else {
			gradIn.Data[i] = slope * gradOut.Data[i]
		}
	}
	return gradIn
}

// ConcatC stacks CHW tensors along the channel axis. All inputs must
// share height and width.
func ConcatC(xs ...*Tensor) *Tensor {
	h, w := xs[0].Shape[1], xs[0].Shape[2]
	c := 0
	for _, x := range xs {
		if x.Shape[1] != h || x.Shape[2] != w {
			panic(fmt.Sprintf("concat: mismatched spatial dims %v vs %dx%d", x.Shape, h, w))
		}
		c += x.Shape[0]
	}
	out := NewTensor(c, h, w)
	off := 0
	for _, x := range xs {
		copy(out.Data[off:off+x.Len()], x.Data)
		off += x.Len()
	}
	return out
}

// SplitC is the backward of ConcatC: slices a channel-concatenated
// gradient back into per-input gradients with the given channel counts.
func SplitC(g *Tensor, channels ...int) []*Tensor {
	h, w := g.Shape[1], g.Shape[2]
	outs := make([]*Tensor, len(channels))
	off := 0
	for i, c := range channels {
		t := NewTensor(c, h, w)
		copy(t.Data, g.Data[off:off+t.Len()])
		outs[i] = t
		off += t.Len()
	}
	return outs
}

// SpaceToDepth rearranges [C, H*r, W*r] into [C*r*r, H, W].
// It is a pure permutation; its backward is DepthToSpace.
func SpaceToDepth(x *Tensor, r int) *Tensor {
	c, hh, ww := x.Shape[0], x.Shape[1], x.Shape[2]
	h, w := hh/r, ww/r
	out := NewTensor(c*r*r, h, w)
	for ch := 0; ch < c; ch++ {
		for dy := 0; dy < r; dy++ {
			for dx := 0; dx < r; dx++ {
				oc := (ch*r+dy)*r + dx
				for y := 0; y < h; y++ {
					for xw := 0; xw < w; xw++ {
						out.Data[(oc*h+y)*w+xw] = x.Data[(ch*hh+y*r+dy)*ww+xw*r+dx]
					}
				}
			}
		}
	}
	return out
}

// DepthToSpace rearranges [C*r*r, H, W] into [C, H*r, W*r].
func DepthToSpace(x *Tensor, r int) *Tensor {
	cin, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	c := cin / (r * r)
	out := NewTensor(c, h*r, w*r)
	hh, ww := h*r, w*r
	for ch := 0; ch < c; ch++ {
		for dy := 0; dy < r; dy++ {
			for dx := 0; dx < r; dx++ {
				ic := (ch*r+dy)*r + dx
				for y := 0; y < h; y++ {
					for xw := 0; xw < w; xw++ {
						out.Data[(ch*hh+y*r+dy)*ww+xw*r+dx] = x.Data[(ic*h+y)*w+xw]
					}
				}
			}
		}
	}
	return out
}
