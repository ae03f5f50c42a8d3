// Package trainer orchestrates the adversarial training loop:
// sample, recurrent forward, discriminator and generator objectives,
// gradient synchronization across device shards, alternating optimizer
// steps, checkpointing and periodic validation.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/khaledhikmat/tvsr-go/checkpoint"
	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/nn"
	"github.com/khaledhikmat/tvsr-go/pipeline"
	"github.com/khaledhikmat/tvsr-go/sampler"
	"github.com/khaledhikmat/tvsr-go/service/archive"
	"github.com/khaledhikmat/tvsr-go/service/config"
	"github.com/khaledhikmat/tvsr-go/service/lgr"
)

const (
	genFeatures  = 32
	flowFeatures = 32
	discFeatures = 32
)

// Trainer owns the master networks, both optimizers and the iteration
// counter. Generator-side and discriminator parameters are disjoint
// sets driven by two independent optimizers; the step order inside an
// iteration is explicit, never flag-driven.
type Trainer struct {
	cfgSvc config.IService
	gtSvc  archive.IService
	lrSrc  sampler.LRSource

	runID string
	iter  int

	nets *pipeline.Nets
	disc *pipeline.Discriminator
	agg  *pipeline.Aggregator

	optG *nn.Adam
	optD *nn.Adam

	reducer Reducer

	skippedSteps int
}

func New(cfgSvc config.IService, gtSvc archive.IService, lrSrc sampler.LRSource) (*Trainer, error) {
	if err := cfgSvc.GetLossWeights().Validate(); err != nil {
		return nil, err
	}

	devices := cfgSvc.GetDeviceCount()
	if devices < 1 {
		return nil, xerrors.New(model.ErrDeviceMismatch, "device count must be at least 1")
	}
	if devices > cfgSvc.GetBatchSize() {
		return nil, xerrors.New(model.ErrDeviceMismatch,
			fmt.Sprintf("%d devices cannot shard a batch of %d", devices, cfgSvc.GetBatchSize()))
	}
	if cfgSvc.GetCheckpointInterval() < 1 || cfgSvc.GetValidationInterval() < 1 {
		return nil, fmt.Errorf("checkpoint and validation intervals must be at least 1, got %d and %d",
			cfgSvc.GetCheckpointInterval(), cfgSvc.GetValidationInterval())
	}

	rng := rand.New(rand.NewSource(cfgSvc.GetSeed()))
	t := &Trainer{
		cfgSvc: cfgSvc,
		gtSvc:  gtSvc,
		lrSrc:  lrSrc,
		runID:  uuid.NewString(),
		nets: &pipeline.Nets{
			Flow: pipeline.NewFlowNet(rng, flowFeatures),
			Gen:  pipeline.NewGenerator(rng, cfgSvc.GetScale(), genFeatures),
		},
		disc: pipeline.NewDiscriminator(rng, discFeatures),
		agg: &pipeline.Aggregator{
			Weights:        cfgSvc.GetLossWeights(),
			PingPongFrames: cfgSvc.GetPingPongFrames(),
			Feat:           pipeline.NewFeatureNet(cfgSvc.GetSeed()),
		},
		optG:    nn.NewAdam(cfgSvc.GetGeneratorLearningRate()),
		optD:    nn.NewAdam(cfgSvc.GetDiscriminatorLearningRate()),
		reducer: NewLocalReducer(),
	}

	if path := cfgSvc.GetResumeCheckpoint(); path != "" {
		if err := t.resume(path); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Trainer) resume(path string) error {
	snap, err := checkpoint.Load(path)
	if err != nil {
		return err
	}
	if err := checkpoint.Apply(snap.Generator, t.nets.Gen.Params()); err != nil {
		return err
	}
	if err := checkpoint.Apply(snap.Flow, t.nets.Flow.Params()); err != nil {
		return err
	}
	if err := checkpoint.Apply(snap.Discriminator, t.disc.Params()); err != nil {
		return err
	}
	if err := checkpoint.ApplyOpt(snap.GenOpt, t.optG, t.nets.Params()); err != nil {
		return err
	}
	if err := checkpoint.ApplyOpt(snap.DiscOpt, t.optD, t.disc.Params()); err != nil {
		return err
	}
	t.iter = snap.Iteration
	t.runID = snap.RunID
	lgr.Logger.Info(
		"resumed from checkpoint",
		slog.String("path", path),
		slog.Int("iteration", t.iter),
		slog.String("runID", t.runID),
	)
	return nil
}

// Run drives iterations until the configured maximum or cancellation.
// Recoverable conditions (skipped samples, unstable steps) never
// terminate the run.
func (t *Trainer) Run(canxCtx context.Context, errorStream chan interface{}, statsStream chan interface{}) error {
	beginTime := time.Now().Unix()
	devices := t.cfgSvc.GetDeviceCount()
	batch := t.cfgSvc.GetBatchSize()

	samples := sampler.Run(canxCtx, t.cfgSvc, t.gtSvc, t.lrSrc, errorStream, statsStream)

	// Device replicas share weight values with the master nets and own
	// their gradient accumulators.
	netReps := make([]*pipeline.Nets, devices)
	discReps := make([]*pipeline.Discriminator, devices)
	for d := 0; d < devices; d++ {
		netReps[d] = t.nets.ShareClone()
		discReps[d] = t.disc.ShareClone()
	}

	span := trace.SpanFromContext(canxCtx)

	for t.iter < t.cfgSvc.GetMaxIterations() {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info("trainer context cancelled")
			return nil
		default:
		}

		batchSamples, err := nextBatch(canxCtx, samples, batch)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		bd, stepErr := t.step(canxCtx, batchSamples, netReps, discReps)
		if stepErr != nil {
			if errors.Is(stepErr, model.ErrNumericInstability) {
				// Skip the step, keep the run alive.
				t.skippedSteps++
				lgr.Logger.Warn(
					"numeric instability, skipping step",
					slog.Int("iteration", t.iter),
					slog.Any("error", stepErr),
				)
				t.zeroAllGrads(netReps, discReps)
				t.iter++
				continue
			}
			return stepErr
		}

		t.iter++
		span.AddEvent(fmt.Sprintf("iteration %d", t.iter))

		if t.iter%100 == 0 {
			statsStream <- model.TrainerStats{
				RunID:        t.runID,
				Iteration:    t.iter,
				Losses:       bd,
				SkippedSteps: t.skippedSteps,
				Devices:      devices,
				Uptime:       time.Now().Unix() - beginTime,
			}
		}

		if t.iter%t.cfgSvc.GetCheckpointInterval() == 0 {
			if err := t.checkpoint(); err != nil {
				errorStream <- model.GenError("trainer",
					err,
					map[string]interface{}{"iteration": t.iter},
					"error writing checkpoint")
			}
		}

		if t.iter%t.cfgSvc.GetValidationInterval() == 0 {
			t.validate(canxCtx, statsStream, errorStream)
		}
	}

	// Final checkpoint so the run is resumable/servable as left.
	return t.checkpoint()
}

// warmedUp reports whether adversarial/perceptual terms are active.
// During warm-up both are held at zero (pure pixel/warp pretraining)
// and the discriminator is never touched.
func (t *Trainer) warmedUp() bool {
	return t.iter >= t.cfgSvc.GetWarmupIterations()
}

func (t *Trainer) effectiveWeights() model.LossWeights {
	w := t.cfgSvc.GetLossWeights()
	if !t.warmedUp() {
		w.Adversarial = 0
		w.Perceptual = 0
	}
	return w
}

func (t *Trainer) step(canxCtx context.Context, batchSamples []pipeline.Sample, netReps []*pipeline.Nets, discReps []*pipeline.Discriminator) (model.LossBreakdown, error) {
	devices := len(netReps)
	weights := t.effectiveWeights()

	var mu sync.Mutex
	var total model.LossBreakdown
	unstable := false

	g, _ := errgroup.WithContext(canxCtx)
	for d := 0; d < devices; d++ {
		dev := d
		g.Go(func() error {
			agg := &pipeline.Aggregator{
				Weights:        weights,
				PingPongFrames: t.agg.PingPongFrames,
				Feat:           t.agg.Feat.ShareClone(),
			}
			// Disjoint shard of the batch for this device.
			for i := dev; i < len(batchSamples); i += devices {
				bd, err := t.example(netReps[dev], discReps[dev], agg, batchSamples[i])
				if err != nil {
					if errors.Is(err, model.ErrNumericInstability) {
						mu.Lock()
						unstable = true
						mu.Unlock()
						return nil
					}
					return err
				}
				mu.Lock()
				addBreakdown(&total, bd, 1/float64(len(batchSamples)))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	if unstable {
		return total, xerrors.New(model.ErrNumericInstability, "unstable example in batch")
	}

	// Single synchronization barrier: merge all device gradients.
	scale := 1 / float64(len(batchSamples))
	netGrads := make([][]*nn.Param, devices)
	discGrads := make([][]*nn.Param, devices)
	for d := 0; d < devices; d++ {
		netGrads[d] = netReps[d].Params()
		discGrads[d] = discReps[d].Params()
	}
	if err := t.reducer.AllReduce(netGrads, t.nets.Params(), scale); err != nil {
		return total, err
	}
	if err := t.reducer.AllReduce(discGrads, t.disc.Params(), scale); err != nil {
		return total, err
	}

	if !nn.GradsFinite(t.nets.Params()) || !nn.GradsFinite(t.disc.Params()) {
		t.zeroAllGrads(netReps, discReps)
		return total, xerrors.New(model.ErrNumericInstability, "non-finite gradient after reduce")
	}

	// Alternation: the discriminator steps on gradients computed from
	// detached generator outputs; the generator's adversarial gradient
	// already used this iteration's frozen discriminator snapshot.
	if t.warmedUp() && t.cfgSvc.GetLossWeights().Adversarial > 0 {
		t.optD.Step(t.disc.Params())
	}
	t.optG.Step(t.nets.Params())

	t.zeroAllGrads(netReps, discReps)
	return total, nil
}

// example runs one sequence end to end on one device replica:
// recurrent forward (ping-pong extended when that loss is active),
// loss aggregation, discriminator objective, and backprop through time.
func (t *Trainer) example(nets *pipeline.Nets, disc *pipeline.Discriminator, agg *pipeline.Aggregator, s pipeline.Sample) (model.LossBreakdown, error) {
	lrs, gts := s.LR, s.HR
	if agg.Weights.PingPong > 0 {
		lrs = pingPongExtend(s.LR)
		gts = pingPongExtend(s.HR)
	}

	run := nets.RunSequence(lrs)
	bd, gradSR, gradWarpedLR, err := agg.GeneratorLosses(run, gts, lrs)
	if err != nil {
		return bd, err
	}

	if agg.Weights.Adversarial > 0 {
		fake, centers := pipeline.BuildTriplets(run.SR, run.FlowHR)
		real, _ := pipeline.BuildTriplets(gts, run.FlowHR)

		dLoss, err := agg.DiscriminatorStep(disc, real, fake)
		if err != nil {
			return bd, err
		}
		bd.Discrim = dLoss

		realMean := pipeline.RealLogitMean(disc, real)
		advLoss, err := agg.AdversarialGenerator(disc, fake, centers, realMean, gradSR)
		if err != nil {
			return bd, err
		}
		bd.Adversarial = advLoss
		bd.Generator += agg.Weights.Adversarial * advLoss
	}

	nets.BackwardSequence(run, gradSR, gradWarpedLR)
	return bd, nil
}

// pingPongExtend appends the reversed sequence (minus the pivot frame):
// a b c d -> a b c d c b a.
func pingPongExtend(frames []*nn.Tensor) []*nn.Tensor {
	out := append([]*nn.Tensor{}, frames...)
	for i := len(frames) - 2; i >= 0; i-- {
		out = append(out, frames[i])
	}
	return out
}

func addBreakdown(dst *model.LossBreakdown, src model.LossBreakdown, scale float64) {
	dst.Pixel += src.Pixel * scale
	dst.Warping += src.Warping * scale
	dst.Perceptual += src.Perceptual * scale
	dst.Adversarial += src.Adversarial * scale
	dst.PingPong += src.PingPong * scale
	dst.Generator += src.Generator * scale
	dst.Discrim += src.Discrim * scale
}

func (t *Trainer) zeroAllGrads(netReps []*pipeline.Nets, discReps []*pipeline.Discriminator) {
	nn.ZeroGrads(t.nets.Params())
	nn.ZeroGrads(t.disc.Params())
	for d := range netReps {
		nn.ZeroGrads(netReps[d].Params())
		nn.ZeroGrads(discReps[d].Params())
	}
}

func (t *Trainer) checkpoint() error {
	path := filepath.Join(t.cfgSvc.GetCheckpointFolder(),
		fmt.Sprintf("%s_iter_%07d.ckpt", t.cfgSvc.GetModelName(), t.iter))

	snap := checkpoint.Snapshot{
		RunID:         t.runID,
		Iteration:     t.iter,
		Generator:     checkpoint.Capture(t.nets.Gen.Params()),
		Flow:          checkpoint.Capture(t.nets.Flow.Params()),
		Discriminator: checkpoint.Capture(t.disc.Params()),
		GenOpt:        checkpoint.CaptureOpt(t.optG, t.nets.Params()),
		DiscOpt:       checkpoint.CaptureOpt(t.optD, t.disc.Params()),
	}
	if err := checkpoint.Save(path, snap); err != nil {
		return err
	}
	lgr.Logger.Info(
		"checkpoint written",
		slog.String("path", path),
		slog.Int("iteration", t.iter),
	)
	return nil
}

func nextBatch(canxCtx context.Context, samples chan pipeline.Sample, n int) ([]pipeline.Sample, error) {
	out := make([]pipeline.Sample, 0, n)
	for len(out) < n {
		select {
		case <-canxCtx.Done():
			return nil, context.Canceled
		case s, ok := <-samples:
			if !ok {
				return nil, xerrors.New("sample stream closed")
			}
			out = append(out, s)
		}
	}
	return out, nil
}
