package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Conv2d is a same-API convolution over CHW tensors. The forward pass
// lowers the input to a column matrix and delegates the contraction to
// gonum's GEMM; the backward pass reverses it (col2im).
//
// Because the recurrent loop calls the same layer once per frame, the
// layer itself is stateless: Forward returns a ConvCtx holding the
// activations that Backward needs.
type Conv2d struct {
	W      *Param // [outC, inC, k, k]
	B      *Param // [outC]
	InC    int
	OutC   int
	Kernel int
	Stride int
	Pad    int
}

type ConvCtx struct {
	cols       []float64 // [inC*k*k x outH*outW]
	inH, inW   int
	outH, outW int
}

func NewConv2d(name string, rng *rand.Rand, inC, outC, kernel, stride, pad int) *Conv2d {
	w := NewTensor(outC, inC, kernel, kernel)
	XavierInit(rng, w)
	return &Conv2d{
		W:      NewParam(name+".w", w),
		B:      NewParam(name+".b", NewTensor(outC)),
		InC:    inC,
		OutC:   outC,
		Kernel: kernel,
		Stride: stride,
		Pad:    pad,
	}
}

func (c *Conv2d) Params() []*Param {
	return []*Param{c.W, c.B}
}

// ShareClone returns a replica layer sharing weight values with the
// original but accumulating gradients separately.
func (c *Conv2d) ShareClone() *Conv2d {
	out := *c
	out.W = c.W.ShareValue()
	out.B = c.B.ShareValue()
	return &out
}

func (c *Conv2d) outDims(inH, inW int) (int, int) {
	outH := (inH+2*c.Pad-c.Kernel)/c.Stride + 1
	outW := (inW+2*c.Pad-c.Kernel)/c.Stride + 1
	return outH, outW
}

func (c *Conv2d) Forward(x *Tensor) (*Tensor, *ConvCtx) {
	if x.Shape[0] != c.InC {
		panic(fmt.Sprintf("conv %s: input channels %d, want %d", c.W.Name, x.Shape[0], c.InC))
	}
	inH, inW := x.Shape[1], x.Shape[2]
	outH, outW := c.outDims(inH, inW)

	rows := c.InC * c.Kernel * c.Kernel
	cols := make([]float64, rows*outH*outW)
	im2col(x, cols, c.Kernel, c.Stride, c.Pad, outH, outW)

	wMat := mat.NewDense(c.OutC, rows, c.W.Value.Data)
	colMat := mat.NewDense(rows, outH*outW, cols)

	out := NewTensor(c.OutC, outH, outW)
	outMat := mat.NewDense(c.OutC, outH*outW, out.Data)
	outMat.Mul(wMat, colMat)

	for o := 0; o < c.OutC; o++ {
		b := c.B.Value.Data[o]
		row := out.Data[o*outH*outW : (o+1)*outH*outW]
		for i := range row {
			row[i] += b
		}
	}

	return out, &ConvCtx{cols: cols, inH: inH, inW: inW, outH: outH, outW: outW}
}

// Backward accumulates parameter gradients and returns the gradient
// with respect to the input.
func (c *Conv2d) Backward(ctx *ConvCtx, gradOut *Tensor) *Tensor {
	rows := c.InC * c.Kernel * c.Kernel
	n := ctx.outH * ctx.outW

	// Bias gradient
	for o := 0; o < c.OutC; o++ {
		sum := 0.0
		row := gradOut.Data[o*n : (o+1)*n]
		for _, v := range row {
			sum += v
		}
		c.B.Grad.Data[o] += sum
	}

	gradOutMat := mat.NewDense(c.OutC, n, gradOut.Data)
	colMat := mat.NewDense(rows, n, ctx.cols)

	// Weight gradient: gradOut x colsT
	gw := mat.NewDense(c.OutC, rows, nil)
	gw.Mul(gradOutMat, colMat.T())
	for i, v := range gw.RawMatrix().Data {
		c.W.Grad.Data[i] += v
	}

	// Input gradient: WT x gradOut, then col2im
	wMat := mat.NewDense(c.OutC, rows, c.W.Value.Data)
	gCols := mat.NewDense(rows, n, nil)
	gCols.Mul(wMat.T(), gradOutMat)

	gradIn := NewTensor(c.InC, ctx.inH, ctx.inW)
	col2im(gCols.RawMatrix().Data, gradIn, c.Kernel, c.Stride, c.Pad, ctx.outH, ctx.outW)
	return gradIn
}

func im2col(x *Tensor, cols []float64, kernel, stride, pad, outH, outW int) {
	inC, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2]
	n := outH * outW
	for ch := 0; ch < inC; ch++ {
		for kh := 0; kh < kernel; kh++ {
			for kw := 0; kw < kernel; kw++ {
				row := (ch*kernel+kh)*kernel + kw
				dst := cols[row*n : (row+1)*n]
				for oh := 0; oh < outH; oh++ {
					ih := oh*stride - pad + kh
					for ow := 0; ow < outW; ow++ {
						iw := ow*stride - pad + kw
						if ih < 0 || ih >= inH || iw < 0 || iw >= inW {
							dst[oh*outW+ow] = 0
							continue
						}
						dst[oh*outW+ow] = x.Data[(ch*inH+ih)*inW+iw]
					}
				}
			}
		}
	}
}

func col2im(cols []float64, x *Tensor, kernel, stride, pad, outH, outW int) {
	inC, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2]
	n := outH * outW
	for ch := 0; ch < inC; ch++ {
		for kh := 0; kh < kernel; kh++ {
			for kw := 0; kw < kernel; kw++ {
				row := (ch*kernel+kh)*kernel + kw
				src := cols[row*n : (row+1)*n]
				for oh := 0; oh < outH; oh++ {
					ih := oh*stride - pad + kh
					if ih < 0 || ih >= inH {
						continue
					}
					for ow := 0; ow < outW; ow++ {
						iw := ow*stride - pad + kw
						if iw < 0 || iw >= inW {
							continue
						}
						x.Data[(ch*inH+ih)*inW+iw] += src[oh*outW+ow]
					}
				}
			}
		}
	}
}
