package pipeline

import (
	"math"

	"github.com/mdobak/go-xerrors"

	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/nn"
)

const realLabel = 0.9 // one-sided label smoothing

// Aggregator combines the per-step loss terms into one scalar
// generator objective and one scalar discriminator objective. Any
// non-finite term aborts the step with ErrNumericInstability; the
// trainer logs and skips it.
type Aggregator struct {
	Weights        model.LossWeights
	PingPongFrames int // pairs compared; 0 means every pair
	Feat           *FeatureNet
}

func l2(a, b *nn.Tensor) (float64, *nn.Tensor) {
	n := float64(a.Len())
	grad := nn.NewTensor(a.Shape...)
	sum := 0.0
	for i := range a.Data {
		d := a.Data[i] - b.Data[i]
		sum += d * d
		grad.Data[i] = 2 * d / n
	}
	return sum / n, grad
}

// GeneratorLosses computes pixel, warping, perceptual and ping-pong
// terms over a stored sequence run and returns per-frame output
// gradients ready for backprop through time. The run may be the
// ping-pong extension (LR forward then reversed); gts and lrs must
// match its length.
func (ag *Aggregator) GeneratorLosses(run *SequenceRun, gts, lrs []*nn.Tensor) (model.LossBreakdown, []*nn.Tensor, []*nn.Tensor, error) {
	var bd model.LossBreakdown
	L := len(run.SR)

	gradSR := make([]*nn.Tensor, L)
	gradWarpedLR := make([]*nn.Tensor, L)
	for t := 0; t < L; t++ {
		gradSR[t] = nn.NewTensor(run.SR[t].Shape...)
	}

	// Pixel: pointwise distance averaged over the sequence.
	for t := 0; t < L; t++ {
		loss, grad := l2(run.SR[t], gts[t])
		bd.Pixel += loss / float64(L)
		gradSR[t].AddScaled(grad, ag.Weights.Pixel/float64(L))
	}

	// Warping: supervises the flow estimator through the LR warp,
	// independent of generator output quality. No term at t=0.
	if ag.Weights.Warping > 0 && L > 1 {
		for t := 1; t < L; t++ {
			if run.WarpedLR[t] == nil {
				continue
			}
			loss, grad := l2(run.WarpedLR[t], lrs[t])
			bd.Warping += loss / float64(L-1)
			grad.Scale(ag.Weights.Warping / float64(L-1))
			gradWarpedLR[t] = grad
		}
	}

	// Perceptual: distance in the fixed deep-feature space.
	if ag.Weights.Perceptual > 0 {
		for t := 0; t < L; t++ {
			fSR, ctx := ag.Feat.Forward(run.SR[t])
			fGT, _ := ag.Feat.Forward(gts[t])
			loss, gradFeat := l2(fSR, fGT)
			bd.Perceptual += loss / float64(L)
			gradFeat.Scale(ag.Weights.Perceptual / float64(L))
			gradSR[t].AddScaled(ag.Feat.Backward(ctx, gradFeat), 1)
		}
	}

	// Ping-pong: penalizes asymmetry between the forward and reversed
	// trajectories at matching timestamps. Requires the extended run
	// (odd length, mirrored LR inputs). Pairs are taken from the start
	// of the window where drift has accumulated longest.
	if ag.Weights.PingPong > 0 && L > 1 && L%2 == 1 {
		T := (L + 1) / 2
		pairs := T - 1
		if ag.PingPongFrames > 0 && ag.PingPongFrames < pairs {
			pairs = ag.PingPongFrames
		}
		for t := 0; t < pairs; t++ {
			fwd := run.SR[t]
			bwd := run.SR[L-1-t]
			n := float64(fwd.Len()) * float64(pairs)
			for i := range fwd.Data {
				d := fwd.Data[i] - bwd.Data[i]
				bd.PingPong += math.Abs(d) / n
				s := ag.Weights.PingPong / n
				if d > 0 {
					gradSR[t].Data[i] += s
					gradSR[L-1-t].Data[i] -= s
				} else if d < 0 {
					gradSR[t].Data[i] -= s
					gradSR[L-1-t].Data[i] += s
				}
			}
		}
	}

	for _, v := range []float64{bd.Pixel, bd.Warping, bd.Perceptual, bd.PingPong} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return bd, nil, nil, xerrors.New(model.ErrNumericInstability, "non-finite generator loss term")
		}
	}

	bd.Generator = ag.Weights.Pixel*bd.Pixel +
		ag.Weights.Warping*bd.Warping +
		ag.Weights.Perceptual*bd.Perceptual +
		ag.Weights.PingPong*bd.PingPong
	return bd, gradSR, gradWarpedLR, nil
}

// BuildTriplets assembles discriminator inputs: for every interior
// frame, the three consecutive frames plus their warped neighbors
// aligned onto the center via the sequence's estimated flows. The
// warped slots are treated as constants by the adversarial gradient.
// Returns the triplet tensors and their center indices.
func BuildTriplets(frames, flowsHR []*nn.Tensor) ([]*nn.Tensor, []int) {
	var triplets []*nn.Tensor
	var centers []int
	for t := 1; t < len(frames)-1; t++ {
		if flowsHR[t] == nil || flowsHR[t+1] == nil {
			continue
		}
		wPrev, _ := nn.Warp(frames[t-1], flowsHR[t])
		negNext := flowsHR[t+1].Clone()
		negNext.Scale(-1)
		wNext, _ := nn.Warp(frames[t+1], negNext)
		triplets = append(triplets, nn.ConcatC(frames[t-1], frames[t], frames[t+1], wPrev, frames[t], wNext))
		centers = append(centers, t)
	}
	return triplets, centers
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// bceLogit is numerically-stable binary cross entropy on a logit.
func bceLogit(z, y float64) float64 {
	return math.Max(z, 0) - y*z + math.Log(1+math.Exp(-math.Abs(z)))
}

func mean(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// DiscriminatorStep scores real and fake triplets relativistically
// (each class against the mean of the other), backprops the loss into
// the discriminator parameters and returns the scalar loss. Fake
// triplets must be built from detached generator outputs.
func (ag *Aggregator) DiscriminatorStep(d *Discriminator, real, fake []*nn.Tensor) (float64, error) {
	nr, nf := len(real), len(fake)
	if nr == 0 || nf == 0 {
		return 0, nil
	}

	rLogits := make([]float64, nr)
	rCtxs := make([]*discCtx, nr)
	for i, x := range real {
		rLogits[i], rCtxs[i] = d.Forward(x)
	}
	fLogits := make([]float64, nf)
	fCtxs := make([]*discCtx, nf)
	for j, x := range fake {
		fLogits[j], fCtxs[j] = d.Forward(x)
	}

	mr, mf := mean(rLogits), mean(fLogits)

	loss := 0.0
	sigA := make([]float64, nr) // sigma(r_i - mf) - realLabel
	for i, r := range rLogits {
		loss += bceLogit(r-mf, realLabel) / float64(nr)
		sigA[i] = sigmoid(r-mf) - realLabel
	}
	sigB := make([]float64, nf) // sigma(f_j - mr)
	for j, f := range fLogits {
		loss += bceLogit(f-mr, 0) / float64(nf)
		sigB[j] = sigmoid(f - mr)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, xerrors.New(model.ErrNumericInstability, "non-finite discriminator loss")
	}

	meanSigA := mean(sigA)
	meanSigB := mean(sigB)

	// d(loss)/d(r_i): direct relativistic term plus r_i's share of the
	// mean the fakes are compared against.
	for i := range real {
		dR := sigA[i]/float64(nr) - meanSigB/float64(nr)
		d.Backward(rCtxs[i], dR)
	}
	for j := range fake {
		dF := sigB[j]/float64(nf) - meanSigA/float64(nf)
		d.Backward(fCtxs[j], dF)
	}
	return loss, nil
}

// AdversarialGenerator computes the generator's adversarial objective
// against a frozen discriminator snapshot and folds the resulting
// gradient into the per-frame output gradients. The real-side mean is
// a constant here.
func (ag *Aggregator) AdversarialGenerator(d *Discriminator, fake []*nn.Tensor, centers []int, realMean float64, gradSR []*nn.Tensor) (float64, error) {
	if ag.Weights.Adversarial <= 0 || len(fake) == 0 {
		return 0, nil
	}
	nf := float64(len(fake))

	// The discriminator is frozen for this objective. Its gradient
	// buffers already hold the discriminator loss at this point, so
	// stash them and put them back once the backprop has run.
	params := d.Params()
	saved := make([]*nn.Tensor, len(params))
	for i, p := range params {
		saved[i] = p.Grad.Clone()
	}
	defer func() {
		for i, p := range params {
			copy(p.Grad.Data, saved[i].Data)
		}
	}()

	loss := 0.0
	for j, x := range fake {
		logit, ctx := d.Forward(x)
		loss += bceLogit(logit-realMean, 1) / nf

		dLogit := (sigmoid(logit-realMean) - 1) / nf * ag.Weights.Adversarial
		gX := d.Backward(ctx, dLogit)

		// Only the direct frame slots propagate; the warped slots are
		// detached copies.
		parts := nn.SplitC(gX, 3, 3, 3, 3, 3, 3)
		t := centers[j]
		gradSR[t-1].AddScaled(parts[0], 1)
		gradSR[t].AddScaled(parts[1], 1)
		gradSR[t+1].AddScaled(parts[2], 1)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, xerrors.New(model.ErrNumericInstability, "non-finite adversarial loss")
	}
	return loss, nil
}

// RealLogitMean scores the real triplets without touching gradients;
// used to freeze the relativistic baseline for the generator step.
func RealLogitMean(d *Discriminator, real []*nn.Tensor) float64 {
	if len(real) == 0 {
		return 0
	}
	logits := make([]float64, len(real))
	for i, x := range real {
		logits[i], _ = d.Forward(x)
	}
	return mean(logits)
}

// PSNR between two [0,1] tensors, as a cheap training-progress signal.
// Official scoring belongs to the external evaluator.
func PSNR(a, b *nn.Tensor) float64 {
	mse := 0.0
	for i := range a.Data {
		d := a.Data[i] - b.Data[i]
		mse += d * d
	}
	mse /= float64(a.Len())
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(1.0/mse)
}
