package pipeline

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/nn"
)

func TestPingPongZeroOnSymmetricTrajectory(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ag := &Aggregator{Weights: model.LossWeights{Pixel: 1, PingPong: 1}}

	// Extended run of length 5 with SR[t] == SR[L-1-t] exactly.
	a := randTensor(rng, 3, 4, 4)
	b := randTensor(rng, 3, 4, 4)
	c := randTensor(rng, 3, 4, 4)
	run := &SequenceRun{
		SR:       []*nn.Tensor{a, b, c, b.Clone(), a.Clone()},
		WarpedLR: make([]*nn.Tensor, 5),
		FlowHR:   make([]*nn.Tensor, 5),
	}

	gts := make([]*nn.Tensor, 5)
	lrs := make([]*nn.Tensor, 5)
	for i := range gts {
		gts[i] = nn.NewTensor(3, 4, 4)
		lrs[i] = nn.NewTensor(3, 4, 4)
	}

	bd, _, _, err := ag.GeneratorLosses(run, gts, lrs)
	if err != nil {
		t.Fatalf("losses: %v", err)
	}
	if bd.PingPong != 0 {
		t.Errorf("symmetric trajectory ping-pong loss %v, want 0", bd.PingPong)
	}
}

func TestPingPongPenalizesDrift(t *testing.T) {
	ag := &Aggregator{Weights: model.LossWeights{Pixel: 1, PingPong: 1}}

	a := nn.NewTensor(3, 2, 2)
	a.Fill(0.2)
	drifted := nn.NewTensor(3, 2, 2)
	drifted.Fill(0.6)
	mid := nn.NewTensor(3, 2, 2)

	run := &SequenceRun{
		SR:       []*nn.Tensor{a, mid, drifted},
		WarpedLR: make([]*nn.Tensor, 3),
		FlowHR:   make([]*nn.Tensor, 3),
	}
	gts := []*nn.Tensor{nn.NewTensor(3, 2, 2), nn.NewTensor(3, 2, 2), nn.NewTensor(3, 2, 2)}
	lrs := gts

	bd, gradSR, _, err := ag.GeneratorLosses(run, gts, lrs)
	if err != nil {
		t.Fatalf("losses: %v", err)
	}
	if math.Abs(bd.PingPong-0.4) > 1e-12 {
		t.Errorf("drift loss %v, want 0.4", bd.PingPong)
	}
	// L1 pushes the pair toward each other.
	if gradSR[0].Data[0] >= 0 {
		t.Error("expected negative gradient on the smaller frame")
	}
	if gradSR[2].Data[0] <= 0 {
		t.Error("expected positive gradient on the larger frame")
	}
}

func TestGeneratorLossesNonFinite(t *testing.T) {
	ag := &Aggregator{Weights: model.LossWeights{Pixel: 1}}

	sr := nn.NewTensor(3, 2, 2)
	sr.Data[0] = math.NaN()
	run := &SequenceRun{
		SR:       []*nn.Tensor{sr},
		WarpedLR: make([]*nn.Tensor, 1),
		FlowHR:   make([]*nn.Tensor, 1),
	}
	gts := []*nn.Tensor{nn.NewTensor(3, 2, 2)}

	_, _, _, err := ag.GeneratorLosses(run, gts, gts)
	if !errors.Is(err, model.ErrNumericInstability) {
		t.Errorf("expected ErrNumericInstability, got %v", err)
	}
}

func TestBuildTriplets(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	frames := make([]*nn.Tensor, 5)
	flows := make([]*nn.Tensor, 5)
	for i := range frames {
		frames[i] = randTensor(rng, 3, 4, 4)
		if i > 0 {
			flows[i] = nn.NewTensor(2, 4, 4)
		}
	}

	triplets, centers := BuildTriplets(frames, flows)
	if len(triplets) != 3 {
		t.Fatalf("triplet count %d, want 3", len(triplets))
	}
	if centers[0] != 1 || centers[2] != 3 {
		t.Errorf("centers %v", centers)
	}
	for _, tr := range triplets {
		if tr.Shape[0] != TripletChannels {
			t.Errorf("triplet channels %d, want %d", tr.Shape[0], TripletChannels)
		}
	}

	// Zero flow means the warped slots replicate the neighbors exactly.
	parts := nn.SplitC(triplets[0], 3, 3, 3, 3, 3, 3)
	for i := range parts[0].Data {
		if parts[3].Data[i] != parts[0].Data[i] {
			t.Fatal("zero-flow warped prev differs from prev frame")
		}
	}
}

func TestDiscriminatorStepSeparatesClasses(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	d := NewDiscriminator(rng, 8)
	ag := &Aggregator{Weights: model.LossWeights{Pixel: 1, Adversarial: 0.01}}

	real := []*nn.Tensor{randTensor(rng, TripletChannels, 8, 8)}
	fake := []*nn.Tensor{randTensor(rng, TripletChannels, 8, 8)}

	loss, err := ag.DiscriminatorStep(d, real, fake)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if loss <= 0 {
		t.Errorf("loss %v, want positive", loss)
	}

	var gradNorm float64
	for _, p := range d.Params() {
		for _, g := range p.Grad.Data {
			gradNorm += g * g
		}
	}
	if gradNorm == 0 {
		t.Error("discriminator step produced no gradients")
	}
}

func TestAdversarialGeneratorRoutesGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	d := NewDiscriminator(rng, 8)
	ag := &Aggregator{Weights: model.LossWeights{Pixel: 1, Adversarial: 0.01}}

	fake := []*nn.Tensor{randTensor(rng, TripletChannels, 8, 8)}
	centers := []int{1}
	gradSR := []*nn.Tensor{
		nn.NewTensor(3, 8, 8),
		nn.NewTensor(3, 8, 8),
		nn.NewTensor(3, 8, 8),
	}

	loss, err := ag.AdversarialGenerator(d, fake, centers, 0, gradSR)
	if err != nil {
		t.Fatalf("adversarial: %v", err)
	}
	if loss <= 0 {
		t.Errorf("loss %v, want positive", loss)
	}

	for i, g := range gradSR {
		sum := 0.0
		for _, v := range g.Data {
			sum += math.Abs(v)
		}
		if sum == 0 {
			t.Errorf("frame %d received no adversarial gradient", i)
		}
	}
}

func TestAdversarialGeneratorFreezesDiscriminator(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	d := NewDiscriminator(rng, 8)
	ag := &Aggregator{Weights: model.LossWeights{Pixel: 1, Adversarial: 0.01}}

	real := []*nn.Tensor{randTensor(rng, TripletChannels, 8, 8)}
	fake := []*nn.Tensor{randTensor(rng, TripletChannels, 8, 8)}

	if _, err := ag.DiscriminatorStep(d, real, fake); err != nil {
		t.Fatalf("discriminator step: %v", err)
	}

	// The optimizer applies these after the generator objective runs,
	// so they must survive it untouched.
	before := make([]*nn.Tensor, 0)
	for _, p := range d.Params() {
		before = append(before, p.Grad.Clone())
	}

	gradSR := []*nn.Tensor{
		nn.NewTensor(3, 8, 8),
		nn.NewTensor(3, 8, 8),
		nn.NewTensor(3, 8, 8),
	}
	realMean := RealLogitMean(d, real)
	if _, err := ag.AdversarialGenerator(d, fake, []int{1}, realMean, gradSR); err != nil {
		t.Fatalf("adversarial: %v", err)
	}

	for i, p := range d.Params() {
		for j, g := range p.Grad.Data {
			if g != before[i].Data[j] {
				t.Fatalf("generator objective mutated discriminator gradient %s[%d]", p.Name, j)
			}
		}
	}
}

func TestPSNR(t *testing.T) {
	a := nn.NewTensor(3, 2, 2)
	a.Fill(0.5)
	if !math.IsInf(PSNR(a, a.Clone()), 1) {
		t.Error("identical tensors should score infinite PSNR")
	}

	b := a.Clone()
	b.Data[0] += 0.1
	if p := PSNR(a, b); p < 20 || p > 40 {
		t.Errorf("small perturbation PSNR %v out of plausible range", p)
	}
}
