package pipeline

import (
	"math/rand"

	"github.com/khaledhikmat/tvsr-go/nn"
)

// TripletChannels: three consecutive HR frames plus the warped
// neighbors aligned onto the center frame, concatenated channel-wise.
const TripletChannels = 18

// Discriminator scores one triplet for spatial realism and temporal
// plausibility. Scores are relativistic (compared against the mean of
// the opposing class) rather than absolute, which is handled by the
// loss aggregator; the network itself just emits a logit.
type Discriminator struct {
	d1 *nn.Conv2d
	d2 *nn.Conv2d
	d3 *nn.Conv2d
	d4 *nn.Conv2d
}

type discCtx struct {
	x1 *nn.ConvCtx
	r1 *nn.ReluCtx
	x2 *nn.ConvCtx
	r2 *nn.ReluCtx
	x3 *nn.ConvCtx
	r3 *nn.ReluCtx
	x4 *nn.ConvCtx
	n  int // elements averaged into the logit
	sh []int
}

func NewDiscriminator(rng *rand.Rand, features int) *Discriminator {
	return &Discriminator{
		d1: nn.NewConv2d("disc.d1", rng, TripletChannels, features, 4, 2, 1),
		d2: nn.NewConv2d("disc.d2", rng, features, 2*features, 4, 2, 1),
		d3: nn.NewConv2d("disc.d3", rng, 2*features, 2*features, 4, 2, 1),
		d4: nn.NewConv2d("disc.d4", rng, 2*features, 1, 1, 1, 0),
	}
}

// Forward returns the triplet logit (mean over the final score map).
func (d *Discriminator) Forward(x *nn.Tensor) (float64, *discCtx) {
	ctx := &discCtx{}

	h1, c1 := d.d1.Forward(x)
	ctx.x1 = c1
	a1, r1 := nn.LeakyReLU(h1, lreluSlope)
	ctx.r1 = r1

	h2, c2 := d.d2.Forward(a1)
	ctx.x2 = c2
	a2, r2 := nn.LeakyReLU(h2, lreluSlope)
	ctx.r2 = r2

	h3, c3 := d.d3.Forward(a2)
	ctx.x3 = c3
	a3, r3 := nn.LeakyReLU(h3, lreluSlope)
	ctx.r3 = r3

	score, c4 := d.d4.Forward(a3)
	ctx.x4 = c4
	ctx.n = score.Len()
	ctx.sh = score.Shape

	sum := 0.0
	for _, v := range score.Data {
		sum += v
	}
	return sum / float64(ctx.n), ctx
}

// Backward pushes d(loss)/d(logit) down to the triplet input,
// accumulating parameter gradients along the way.
func (d *Discriminator) Backward(ctx *discCtx, dLogit float64) *nn.Tensor {
	gScore := nn.NewTensor(ctx.sh...)
	gScore.Fill(dLogit / float64(ctx.n))

	g := d.d4.Backward(ctx.x4, gScore)
	g = nn.LeakyReLUBackward(ctx.r3, g, lreluSlope)
	g = d.d3.Backward(ctx.x3, g)
	g = nn.LeakyReLUBackward(ctx.r2, g, lreluSlope)
	g = d.d2.Backward(ctx.x2, g)
	g = nn.LeakyReLUBackward(ctx.r1, g, lreluSlope)
	return d.d1.Backward(ctx.x1, g)
}

func (d *Discriminator) Params() []*nn.Param {
	var out []*nn.Param
	for _, c := range []*nn.Conv2d{d.d1, d.d2, d.d3, d.d4} {
		out = append(out, c.Params()...)
	}
	return out
}

func (d *Discriminator) ShareClone() *Discriminator {
	return &Discriminator{
		d1: d.d1.ShareClone(),
		d2: d.d2.ShareClone(),
		d3: d.d3.ShareClone(),
		d4: d.d4.ShareClone(),
	}
}
