package mode

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/fatih/color"
	"gonum.org/v1/gonum/stat"

	"github.com/khaledhikmat/tvsr-go/infer"
	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/pipeline"
	"github.com/khaledhikmat/tvsr-go/sampler"
	"github.com/khaledhikmat/tvsr-go/service/archive"
	"github.com/khaledhikmat/tvsr-go/service/config"
	"github.com/khaledhikmat/tvsr-go/service/lgr"
)

const (
	profileFrames = 100
	profileWarmup = 5
)

// The profile mode measures per-frame generator latency on synthetic
// input sized like a training crop. It needs no archive and no
// checkpoint; freshly initialized weights have the same cost profile
// as trained ones.
func Profile(canxCtx context.Context, cfgSvc config.IService, gtSvc archive.IService, lrSrc sampler.LRSource) error {
	rng := rand.New(rand.NewSource(cfgSvc.GetSeed()))
	scale := cfgSvc.GetScale()
	crop := cfgSvc.GetCropSize()

	nets := &pipeline.Nets{
		Flow: pipeline.NewFlowNet(rng, 32),
		Gen:  pipeline.NewGenerator(rng, scale, 32),
	}
	runner := infer.NewFromNets(nets)

	src := newSyntheticSource(rng, crop, profileFrames+profileWarmup)
	sink := discardSink{}

	start := time.Now()
	stats, err := runner.Process(canxCtx, src, sink)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if canxCtx.Err() != nil {
		lgr.Logger.Info(
			"profile mode context cancelled",
		)
		return nil
	}

	// Drop warmup frames; the first steps pay allocation costs the
	// steady state does not
	latencies := src.latencies[profileWarmup:]
	sort.Float64s(latencies)

	mean := stat.Mean(latencies, nil)
	stddev := stat.StdDev(latencies, nil)
	p50 := stat.Quantile(0.5, stat.Empirical, latencies, nil)
	p95 := stat.Quantile(0.95, stat.Empirical, latencies, nil)

	color.Cyan("generator latency profile")
	color.White("  input:    %dx%d LR, scale x%d", crop, crop, scale)
	color.White("  frames:   %d (plus %d warmup)", len(latencies), profileWarmup)
	color.White("  mean:     %.2f ms", mean*1000)
	color.White("  stddev:   %.2f ms", stddev*1000)
	color.White("  p50:      %.2f ms", p50*1000)
	color.White("  p95:      %.2f ms", p95*1000)
	color.White("  fps:      %.2f", 1.0/mean)

	lgr.Logger.Info(
		"profile mode completed",
		slog.Int("frames", stats.Frames),
		slog.Duration("elapsed", elapsed),
		slog.Float64("meanMs", mean*1000),
		slog.Float64("p95Ms", p95*1000),
	)
	return nil
}

// syntheticSource produces random LR frames and records per-frame
// wall time between successive Next calls, which brackets one full
// generator step.
type syntheticSource struct {
	rng       *rand.Rand
	size      int
	remaining int
	last      time.Time
	latencies []float64
}

func newSyntheticSource(rng *rand.Rand, size, frames int) *syntheticSource {
	return &syntheticSource{rng: rng, size: size, remaining: frames}
}

func (s *syntheticSource) Name() string {
	return "synthetic"
}

func (s *syntheticSource) Next() (model.Frame, error) {
	now := time.Now()
	if !s.last.IsZero() {
		s.latencies = append(s.latencies, now.Sub(s.last).Seconds())
	}
	if s.remaining == 0 {
		return model.Frame{}, io.EOF
	}
	s.remaining--
	s.last = now

	pix := make([]byte, s.size*s.size*model.FrameChannels)
	s.rng.Read(pix)
	return model.Frame{
		Video:  "synthetic",
		Height: s.size,
		Width:  s.size,
		Pix:    pix,
	}, nil
}

func (s *syntheticSource) Close() error {
	return nil
}

type discardSink struct{}

func (discardSink) Write(f model.Frame) error {
	return nil
}

func (discardSink) Close() error {
	return nil
}
