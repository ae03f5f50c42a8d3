package pipeline

import (
	"math/rand"

	"github.com/khaledhikmat/tvsr-go/nn"
)

// Generator produces the current HR frame from the current LR frame
// plus the space-to-depth packing of the flow-warped previous HR
// output. It is logically pure: all recurrence lives in the explicit
// state the caller threads through the sequence loop.
//
// Structure: input conv, two residual blocks, output conv to r*r
// subpixels, depth-to-space, plus a bilinear-upsampled base so the
// network only learns the residual detail.
type Generator struct {
	Scale int

	convIn  *nn.Conv2d
	res1a   *nn.Conv2d
	res1b   *nn.Conv2d
	res2a   *nn.Conv2d
	res2b   *nn.Conv2d
	convOut *nn.Conv2d
}

type genCtx struct {
	xIn   *nn.ConvCtx
	rIn   *nn.ReluCtx
	x1a   *nn.ConvCtx
	r1    *nn.ReluCtx
	x1b   *nn.ConvCtx
	x2a   *nn.ConvCtx
	r2    *nn.ReluCtx
	x2b   *nn.ConvCtx
	xOut  *nn.ConvCtx
	rctx  *nn.ResizeCtx
	s2dC  int
	lrC   int
}

func NewGenerator(rng *rand.Rand, scale, features int) *Generator {
	inC := 3 + 3*scale*scale
	return &Generator{
		Scale:   scale,
		convIn:  nn.NewConv2d("gen.in", rng, inC, features, 3, 1, 1),
		res1a:   nn.NewConv2d("gen.r1a", rng, features, features, 3, 1, 1),
		res1b:   nn.NewConv2d("gen.r1b", rng, features, features, 3, 1, 1),
		res2a:   nn.NewConv2d("gen.r2a", rng, features, features, 3, 1, 1),
		res2b:   nn.NewConv2d("gen.r2b", rng, features, features, 3, 1, 1),
		convOut: nn.NewConv2d("gen.out", rng, features, 3*scale*scale, 3, 1, 1),
	}
}

// Forward consumes the LR frame and the packed warped previous output.
// In the INIT phase the caller passes a zero placeholder for s2d.
func (g *Generator) Forward(lr, s2d *nn.Tensor) (*nn.Tensor, *genCtx) {
	ctx := &genCtx{lrC: lr.Shape[0], s2dC: s2d.Shape[0]}

	x := nn.ConcatC(lr, s2d)
	h0, cIn := g.convIn.Forward(x)
	ctx.xIn = cIn
	a0, rIn := nn.LeakyReLU(h0, lreluSlope)
	ctx.rIn = rIn

	h1, c1a := g.res1a.Forward(a0)
	ctx.x1a = c1a
	a1, r1 := nn.LeakyReLU(h1, lreluSlope)
	ctx.r1 = r1
	b1, c1b := g.res1b.Forward(a1)
	ctx.x1b = c1b
	s1 := a0.Clone()
	s1.AddScaled(b1, 1)

	h2, c2a := g.res2a.Forward(s1)
	ctx.x2a = c2a
	a2, r2 := nn.LeakyReLU(h2, lreluSlope)
	ctx.r2 = r2
	b2, c2b := g.res2b.Forward(a2)
	ctx.x2b = c2b
	s2 := s1.Clone()
	s2.AddScaled(b2, 1)

	sub, cOut := g.convOut.Forward(s2)
	ctx.xOut = cOut
	residual := nn.DepthToSpace(sub, g.Scale)

	base, rctx := nn.ResizeBilinear(lr, residual.Shape[1], residual.Shape[2])
	ctx.rctx = rctx

	sr := residual
	sr.AddScaled(base, 1)
	return sr, ctx
}

// Backward accumulates parameter gradients and returns the gradient
// with respect to the s2d input, which the sequence loop routes back
// through the warp into the previous step. The LR input and the
// upsampled base are leaves.
func (g *Generator) Backward(ctx *genCtx, gradSR *nn.Tensor) *nn.Tensor {
	gSub := nn.SpaceToDepth(gradSR, g.Scale)

	gS2 := g.convOut.Backward(ctx.xOut, gSub)

	// Residual block 2: s2 = s1 + res2b(lrelu(res2a(s1)))
	gB2 := g.res2b.Backward(ctx.x2b, gS2)
	gB2 = nn.LeakyReLUBackward(ctx.r2, gB2, lreluSlope)
	gS1 := g.res2a.Backward(ctx.x2a, gB2)
	gS1.AddScaled(gS2, 1)

	// Residual block 1
	gB1 := g.res1b.Backward(ctx.x1b, gS1)
	gB1 = nn.LeakyReLUBackward(ctx.r1, gB1, lreluSlope)
	gA0 := g.res1a.Backward(ctx.x1a, gB1)
	gA0.AddScaled(gS1, 1)

	gA0 = nn.LeakyReLUBackward(ctx.rIn, gA0, lreluSlope)
	gX := g.convIn.Backward(ctx.xIn, gA0)

	parts := nn.SplitC(gX, ctx.lrC, ctx.s2dC)
	return parts[1]
}

func (g *Generator) Params() []*nn.Param {
	var out []*nn.Param
	for _, c := range []*nn.Conv2d{g.convIn, g.res1a, g.res1b, g.res2a, g.res2b, g.convOut} {
		out = append(out, c.Params()...)
	}
	return out
}

func (g *Generator) ShareClone() *Generator {
	return &Generator{
		Scale:   g.Scale,
		convIn:  g.convIn.ShareClone(),
		res1a:   g.res1a.ShareClone(),
		res1b:   g.res1b.ShareClone(),
		res2a:   g.res2a.ShareClone(),
		res2b:   g.res2b.ShareClone(),
		convOut: g.convOut.ShareClone(),
	}
}
