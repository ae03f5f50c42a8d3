package pipeline

import (
	"math/rand"

	"github.com/khaledhikmat/tvsr-go/nn"
)

// FeatureNet is the fixed deep-feature space for the perceptual loss.
// Its weights are seeded, never trained and never checkpointed: the
// same seed reproduces the same feature space on every run. The
// official perceptual metric stays with the external evaluator.
type FeatureNet struct {
	f1 *nn.Conv2d
	f2 *nn.Conv2d
}

type featCtx struct {
	x1 *nn.ConvCtx
	r1 *nn.ReluCtx
	x2 *nn.ConvCtx
}

func NewFeatureNet(seed int64) *FeatureNet {
	rng := rand.New(rand.NewSource(seed))
	return &FeatureNet{
		f1: nn.NewConv2d("feat.f1", rng, 3, 16, 3, 2, 1),
		f2: nn.NewConv2d("feat.f2", rng, 16, 32, 3, 2, 1),
	}
}

func (f *FeatureNet) Forward(x *nn.Tensor) (*nn.Tensor, *featCtx) {
	ctx := &featCtx{}
	h1, c1 := f.f1.Forward(x)
	ctx.x1 = c1
	a1, r1 := nn.LeakyReLU(h1, lreluSlope)
	ctx.r1 = r1
	feat, c2 := f.f2.Forward(a1)
	ctx.x2 = c2
	return feat, ctx
}

func (f *FeatureNet) Backward(ctx *featCtx, gradFeat *nn.Tensor) *nn.Tensor {
	g := f.f2.Backward(ctx.x2, gradFeat)
	g = nn.LeakyReLUBackward(ctx.r1, g, lreluSlope)
	g = f.f1.Backward(ctx.x1, g)
	// Frozen network: drop whatever accumulated on the params so the
	// buffers stay clean for the next call.
	nn.ZeroGrads(f.params())
	return g
}

func (f *FeatureNet) params() []*nn.Param {
	var out []*nn.Param
	out = append(out, f.f1.Params()...)
	out = append(out, f.f2.Params()...)
	return out
}

// ShareClone gives a device replica its own gradient scratch buffers.
// The weight values stay shared and are never written after init.
func (f *FeatureNet) ShareClone() *FeatureNet {
	return &FeatureNet{
		f1: f.f1.ShareClone(),
		f2: f.f2.ShareClone(),
	}
}
