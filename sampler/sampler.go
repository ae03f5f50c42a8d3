// Package sampler assembles fixed-length temporal windows of LR/HR
// frame pairs. Background workers overlap archive reads and
// degradation with the previous batch's compute; the bounded output
// channel is the prefetch queue providing backpressure both ways.
package sampler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/khaledhikmat/tvsr-go/degrade"
	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/pipeline"
	"github.com/khaledhikmat/tvsr-go/service/archive"
	"github.com/khaledhikmat/tvsr-go/service/config"
	"github.com/khaledhikmat/tvsr-go/service/lgr"
)

// LRSource produces the LR counterpart of an HR frame. Either variant
// is transparent to the rest of the pipeline.
type LRSource interface {
	For(hr model.Frame) (model.Frame, error)
}

// PolicySource degrades on the fly. LR frames are never cached beyond
// the batch that requested them.
type PolicySource struct {
	Policy degrade.Policy
}

func (s PolicySource) For(hr model.Frame) (model.Frame, error) {
	return s.Policy.Apply(hr)
}

// ArchiveSource reads precomputed LR frames (BI policy offline tools).
type ArchiveSource struct {
	Svc   archive.IService
	Scale int
}

func (s ArchiveSource) For(hr model.Frame) (model.Frame, error) {
	key := model.SequenceKey{
		Video:  hr.Video,
		Frames: 0,
		Height: hr.Height / s.Scale,
		Width:  hr.Width / s.Scale,
		Index:  hr.Index,
	}
	// Folder archives ignore the size fields; bolt LR archives carry
	// their own totals, recovered from the video table.
	for _, v := range s.Svc.Videos() {
		if v.ID == hr.Video {
			key.Frames = v.Frames
			key.Height = v.Height
			key.Width = v.Width
			break
		}
	}
	return s.Svc.ReadFrame(key)
}

// Run launches the sampling workers and returns the prefetch channel.
// The channel closes after cancellation once all workers have drained.
func Run(canxCtx context.Context, cfgSvc config.IService, gtSvc archive.IService, lrSrc LRSource, errorStream chan interface{}, statsStream chan interface{}) chan pipeline.Sample {
	out := make(chan pipeline.Sample, cfgSvc.GetPrefetchDepth())

	videos := gtSvc.Videos()
	workers := cfgSvc.GetSamplerWorkers()

	done := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		worker := i
		// One sequence index per worker: each owns an independent,
		// deterministically seeded stream.
		rng := rand.New(rand.NewSource(cfgSvc.GetSeed() + int64(worker)))
		go func() {
			defer func() { done <- struct{}{} }()

			samples := 0
			skipped := 0
			errCount := 0
			beginTime := time.Now().Unix()

			defer func() {
				statsStream <- model.SamplerStats{
					Name:    "sampler",
					Worker:  worker,
					Samples: samples,
					Skipped: skipped,
					Errors:  errCount,
					Uptime:  time.Now().Unix() - beginTime,
				}
			}()

			for {
				select {
				case <-canxCtx.Done():
					lgr.Logger.Info(
						"sampler worker context cancelled",
						slog.Int("worker", worker),
					)
					return
				default:
				}

				sample, err := draw(rng, cfgSvc, gtSvc, lrSrc, videos)
				if err != nil {
					if errors.Is(err, model.ErrWindowTooShort) || errors.Is(err, model.ErrDataUnavailable) {
						// Recoverable: skip this example, keep sampling.
						skipped++
						lgr.Logger.Debug(
							"sampler skipping example",
							slog.Int("worker", worker),
							slog.Any("error", err),
						)
						continue
					}
					errCount++
					errorStream <- model.GenError("sampler",
						err,
						map[string]interface{}{"worker": worker},
						"error drawing sample")
					continue
				}

				select {
				case <-canxCtx.Done():
					return
				case out <- sample:
					samples++
				}
			}
		}()
	}

	// Close the prefetch channel once every worker exits.
	go func() {
		for i := 0; i < workers; i++ {
			<-done
		}
		close(out)
	}()

	return out
}

func draw(rng *rand.Rand, cfgSvc config.IService, gtSvc archive.IService, lrSrc LRSource, videos []archive.VideoInfo) (pipeline.Sample, error) {
	window := cfgSvc.GetWindowLength()
	scale := cfgSvc.GetScale()
	crop := cfgSvc.GetCropSize() // LR pixels

	v := videos[rng.Intn(len(videos))]
	if v.Frames < window {
		return pipeline.Sample{}, model.GenError("sampler",
			model.ErrWindowTooShort,
			map[string]interface{}{"video": v.ID, "frames": v.Frames, "window": window},
			"video %s has %d frames, window needs %d", v.ID, v.Frames, window)
	}

	lrH, lrW := v.Height/scale, v.Width/scale
	if lrH < crop || lrW < crop {
		return pipeline.Sample{}, model.GenError("sampler",
			model.ErrWindowTooShort,
			map[string]interface{}{"video": v.ID, "height": v.Height, "width": v.Width, "crop": crop},
			"video %s is %dx%d, crop needs %dx%d at scale %d",
			v.ID, v.Height, v.Width, crop*scale, crop*scale, scale)
	}

	start := rng.Intn(v.Frames - window + 1)

	// Augmentation is drawn once and applied identically to every
	// frame in the window; mismatched crops would corrupt the temporal
	// loss signal.
	cy := rng.Intn(lrH - crop + 1)
	cx := rng.Intn(lrW - crop + 1)
	flip := rng.Intn(2) == 1

	lrs := make([]model.Frame, 0, window)
	hrs := make([]model.Frame, 0, window)
	for t := 0; t < window; t++ {
		hr, err := gtSvc.ReadFrame(model.SequenceKey{
			Video:  v.ID,
			Frames: v.Frames,
			Height: v.Height,
			Width:  v.Width,
			Index:  start + t,
		})
		if err != nil {
			return pipeline.Sample{}, err
		}
		lr, err := lrSrc.For(hr)
		if err != nil {
			return pipeline.Sample{}, err
		}

		hrCrop := cropFrame(hr, cy*scale, cx*scale, crop*scale)
		lrCrop := cropFrame(lr, cy, cx, crop)
		if flip {
			hrCrop = flipFrame(hrCrop)
			lrCrop = flipFrame(lrCrop)
		}
		hrs = append(hrs, hrCrop)
		lrs = append(lrs, lrCrop)
	}

	out := pipeline.Sample{
		Key: model.SequenceKey{
			Video:  v.ID,
			Frames: v.Frames,
			Height: v.Height,
			Width:  v.Width,
			Index:  start,
		},
	}
	for t := 0; t < window; t++ {
		out.LR = append(out.LR, pipeline.FrameToTensor(lrs[t]))
		out.HR = append(out.HR, pipeline.FrameToTensor(hrs[t]))
	}
	return out, nil
}

func cropFrame(f model.Frame, y, x, size int) model.Frame {
	c := model.FrameChannels
	out := model.Frame{
		Video:  f.Video,
		Index:  f.Index,
		Height: size,
		Width:  size,
		Pix:    make([]byte, size*size*c),
	}
	for row := 0; row < size; row++ {
		src := ((y+row)*f.Width + x) * c
		copy(out.Pix[row*size*c:(row+1)*size*c], f.Pix[src:src+size*c])
	}
	return out
}

func flipFrame(f model.Frame) model.Frame {
	c := model.FrameChannels
	out := f.Clone()
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src := (y*f.Width + x) * c
			dst := (y*f.Width + (f.Width - 1 - x)) * c
			copy(out.Pix[dst:dst+c], f.Pix[src:src+c])
		}
	}
	return out
}
