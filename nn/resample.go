package nn

import "math"

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type ResizeCtx struct {
	inH, inW   int
	outH, outW int
}

// ResizeBilinear resamples a CHW tensor to the target spatial size with
// edge clamping. Used both ways: upscaling LR flow fields to HR and
// building the upsampled base the generator adds its residual to.
func ResizeBilinear(x *Tensor, outH, outW int) (*Tensor, *ResizeCtx) {
	c, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2]
	out := NewTensor(c, outH, outW)
	sy := float64(inH) / float64(outH)
	sx := float64(inW) / float64(outW)

	for oy := 0; oy < outH; oy++ {
		fy := clampf((float64(oy)+0.5)*sy-0.5, 0, float64(inH-1))
		y0 := int(math.Floor(fy))
		y1 := y0 + 1
		if y1 > inH-1 {
			y1 = inH - 1
		}
		wy := fy - float64(y0)
		for ox := 0; ox < outW; ox++ {
			fx := clampf((float64(ox)+0.5)*sx-0.5, 0, float64(inW-1))
			x0 := int(math.Floor(fx))
			x1 := x0 + 1
			if x1 > inW-1 {
				x1 = inW - 1
			}
			wx := fx - float64(x0)
			for ch := 0; ch < c; ch++ {
				v00 := x.Data[(ch*inH+y0)*inW+x0]
				v01 := x.Data[(ch*inH+y0)*inW+x1]
				v10 := x.Data[(ch*inH+y1)*inW+x0]
				v11 := x.Data[(ch*inH+y1)*inW+x1]
				top := v00*(1-wx) + v01*wx
				bot := v10*(1-wx) + v11*wx
				out.Data[(ch*outH+oy)*outW+ox] = top*(1-wy) + bot*wy
			}
		}
	}
	return out, &ResizeCtx{inH: inH, inW: inW, outH: outH, outW: outW}
}

// ResizeBilinearBackward scatters the output gradient back onto the
// input grid with the same interpolation weights.
func ResizeBilinearBackward(ctx *ResizeCtx, gradOut *Tensor) *Tensor {
	c := gradOut.Shape[0]
	gradIn := NewTensor(c, ctx.inH, ctx.inW)
	sy := float64(ctx.inH) / float64(ctx.outH)
	sx := float64(ctx.inW) / float64(ctx.outW)

	for oy := 0; oy < ctx.outH; oy++ {
		fy := clampf((float64(oy)+0.5)*sy-0.5, 0, float64(ctx.inH-1))
		y0 := int(math.Floor(fy))
		y1 := y0 + 1
		if y1 > ctx.inH-1 {
			y1 = ctx.inH - 1
		}
		wy := fy - float64(y0)
		for ox := 0; ox < ctx.outW; ox++ {
			fx := clampf((float64(ox)+0.5)*sx-0.5, 0, float64(ctx.inW-1))
			x0 := int(math.Floor(fx))
			x1 := x0 + 1
			if x1 > ctx.inW-1 {
				x1 = ctx.inW - 1
			}
			wx := fx - float64(x0)
			for ch := 0; ch < c; ch++ {
				g := gradOut.Data[(ch*ctx.outH+oy)*ctx.outW+ox]
				gradIn.Data[(ch*ctx.inH+y0)*ctx.inW+x0] += g * (1 - wx) * (1 - wy)
				gradIn.Data[(ch*ctx.inH+y0)*ctx.inW+x1] += g * wx * (1 - wy)
				gradIn.Data[(ch*ctx.inH+y1)*ctx.inW+x0] += g * (1 - wx) * wy
				gradIn.Data[(ch*ctx.inH+y1)*ctx.inW+x1] += g * wx * wy
			}
		}
	}
	return gradIn
}

type WarpCtx struct {
	x    *Tensor
	flow *Tensor
}

// Warp resamples x according to a per-pixel displacement field
// flow [2, H, W] (dx, dy in pixels): out(y, x) = in(y+dy, x+dx),
// bilinear with edge clamping, no wraparound.
func Warp(x *Tensor, flow *Tensor) (*Tensor, *WarpCtx) {
	c, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	out := NewTensor(c, h, w)

	for oy := 0; oy < h; oy++ {
		for ox := 0; ox < w; ox++ {
			fx := clampf(float64(ox)+flow.Data[(0*h+oy)*w+ox], 0, float64(w-1))
			fy := clampf(float64(oy)+flow.Data[(1*h+oy)*w+ox], 0, float64(h-1))
			x0 := int(math.Floor(fx))
			y0 := int(math.Floor(fy))
			x1 := x0 + 1
			y1 := y0 + 1
			if x1 > w-1 {
				x1 = w - 1
			}
			if y1 > h-1 {
				y1 = h - 1
			}
			wx := fx - float64(x0)
			wy := fy - float64(y0)
			for ch := 0; ch < c; ch++ {
				v00 := x.Data[(ch*h+y0)*w+x0]
				v01 := x.Data[(ch*h+y0)*w+x1]
				v10 := x.Data[(ch*h+y1)*w+x0]
				v11 := x.Data[(ch*h+y1)*w+x1]
				top := v00*(1-wx) + v01*wx
				bot := v10*(1-wx) + v11*wx
				out.Data[(ch*h+oy)*w+ox] = top*(1-wy) + bot*wy
			}
		}
	}
	return out, &WarpCtx{x: x, flow: flow}
}

// WarpBackward returns gradients with respect to the warped source and
// the flow field. Clamped samples contribute no flow gradient along the
// clamped axis.
func WarpBackward(ctx *WarpCtx, gradOut *Tensor) (gradX, gradFlow *Tensor) {
	x, flow := ctx.x, ctx.flow
	c, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	gradX = NewTensor(c, h, w)
	gradFlow = NewTensor(2, h, w)

	for oy := 0; oy < h; oy++ {
		for ox := 0; ox < w; ox++ {
			rawX := float64(ox) + flow.Data[(0*h+oy)*w+ox]
			rawY := float64(oy) + flow.Data[(1*h+oy)*w+ox]
			clampedX := rawX < 0 || rawX > float64(w-1)
			clampedY := rawY < 0 || rawY > float64(h-1)
			fx := clampf(rawX, 0, float64(w-1))
			fy := clampf(rawY, 0, float64(h-1))
			x0 := int(math.Floor(fx))
			y0 := int(math.Floor(fy))
			x1 := x0 + 1
			y1 := y0 + 1
			if x1 > w-1 {
				x1 = w - 1
			}
			if y1 > h-1 {
				y1 = h - 1
			}
			wx := fx - float64(x0)
			wy := fy - float64(y0)

			var dFx, dFy float64
			for ch := 0; ch < c; ch++ {
				g := gradOut.Data[(ch*h+oy)*w+ox]
				if g == 0 {
					continue
				}
				v00 := x.Data[(ch*h+y0)*w+x0]
				v01 := x.Data[(ch*h+y0)*w+x1]
				v10 := x.Data[(ch*h+y1)*w+x0]
				v11 := x.Data[(ch*h+y1)*w+x1]

				gradX.Data[(ch*h+y0)*w+x0] += g * (1 - wx) * (1 - wy)
				gradX.Data[(ch*h+y0)*w+x1] += g * wx * (1 - wy)
				gradX.Data[(ch*h+y1)*w+x0] += g * (1 - wx) * wy
				gradX.Data[(ch*h+y1)*w+x1] += g * wx * wy

				// d(out)/d(fx), d(out)/d(fy)
				dFx += g * ((v01-v00)*(1-wy) + (v11-v10)*wy)
				dFy += g * ((v10-v00)*(1-wx) + (v11-v01)*wx)
			}
			if !clampedX {
				gradFlow.Data[(0*h+oy)*w+ox] = dFx
			}
			if !clampedY {
				gradFlow.Data[(1*h+oy)*w+ox] = dFy
			}
		}
	}
	return gradX, gradFlow
}
