package pipeline

import (
	"math/rand"

	"github.com/khaledhikmat/tvsr-go/nn"
)

const lreluSlope = 0.2

// FlowNet predicts a dense 2D displacement field mapping the previous
// frame onto the current frame's grid. It runs at LR resolution; the
// field is bilinearly upscaled (and magnified) for HR warping.
type FlowNet struct {
	c1 *nn.Conv2d
	c2 *nn.Conv2d
	c3 *nn.Conv2d
}

type flowCtx struct {
	x1 *nn.ConvCtx
	r1 *nn.ReluCtx
	x2 *nn.ConvCtx
	r2 *nn.ReluCtx
	x3 *nn.ConvCtx
}

func NewFlowNet(rng *rand.Rand, features int) *FlowNet {
	return &FlowNet{
		c1: nn.NewConv2d("flow.c1", rng, 2*3, features, 3, 1, 1),
		c2: nn.NewConv2d("flow.c2", rng, features, features, 3, 1, 1),
		c3: nn.NewConv2d("flow.c3", rng, features, 2, 3, 1, 1),
	}
}

// Forward maps (reference, target) to a [2, h, w] displacement field.
func (f *FlowNet) Forward(prev, cur *nn.Tensor) (*nn.Tensor, *flowCtx) {
	ctx := &flowCtx{}
	x := nn.ConcatC(prev, cur)

	h1, c1 := f.c1.Forward(x)
	ctx.x1 = c1
	a1, r1 := nn.LeakyReLU(h1, lreluSlope)
	ctx.r1 = r1

	h2, c2 := f.c2.Forward(a1)
	ctx.x2 = c2
	a2, r2 := nn.LeakyReLU(h2, lreluSlope)
	ctx.r2 = r2

	flow, c3 := f.c3.Forward(a2)
	ctx.x3 = c3
	return flow, ctx
}

// Backward accumulates parameter gradients. The inputs are leaf LR
// frames, so their gradient is dropped.
func (f *FlowNet) Backward(ctx *flowCtx, gradFlow *nn.Tensor) {
	g := f.c3.Backward(ctx.x3, gradFlow)
	g = nn.LeakyReLUBackward(ctx.r2, g, lreluSlope)
	g = f.c2.Backward(ctx.x2, g)
	g = nn.LeakyReLUBackward(ctx.r1, g, lreluSlope)
	f.c1.Backward(ctx.x1, g)
}

func (f *FlowNet) Params() []*nn.Param {
	var out []*nn.Param
	out = append(out, f.c1.Params()...)
	out = append(out, f.c2.Params()...)
	out = append(out, f.c3.Params()...)
	return out
}

func (f *FlowNet) ShareClone() *FlowNet {
	return &FlowNet{
		c1: f.c1.ShareClone(),
		c2: f.c2.ShareClone(),
		c3: f.c3.ShareClone(),
	}
}
