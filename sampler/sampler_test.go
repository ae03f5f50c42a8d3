package sampler

import (
	"context"
	"testing"
	"time"

	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/pipeline"
	"github.com/khaledhikmat/tvsr-go/service/archive"
	"github.com/khaledhikmat/tvsr-go/service/config"
)

// memArchive synthesizes deterministic frames so sampler behavior can
// be checked without a database.
type memArchive struct {
	videos []archive.VideoInfo
}

func (m *memArchive) Videos() []archive.VideoInfo {
	return m.videos
}

func (m *memArchive) ReadFrame(key model.SequenceKey) (model.Frame, error) {
	pix := make([]byte, key.Height*key.Width*model.FrameChannels)
	for y := 0; y < key.Height; y++ {
		for x := 0; x < key.Width; x++ {
			for c := 0; c < model.FrameChannels; c++ {
				pix[(y*key.Width+x)*model.FrameChannels+c] = byte(key.Index*31 + y*7 + x*3 + c)
			}
		}
	}
	return model.Frame{
		Video:  key.Video,
		Index:  key.Index,
		Height: key.Height,
		Width:  key.Width,
		Pix:    pix,
	}, nil
}

func (m *memArchive) Keys() []model.SequenceKey {
	var out []model.SequenceKey
	for _, v := range m.videos {
		for idx := 0; idx < v.Frames; idx++ {
			out = append(out, model.SequenceKey{
				Video:  v.ID,
				Frames: v.Frames,
				Height: v.Height,
				Width:  v.Width,
				Index:  idx,
			})
		}
	}
	return out
}

func (m *memArchive) ReadSequence(video string, start, n int) ([]model.Frame, error) {
	var info archive.VideoInfo
	for _, v := range m.videos {
		if v.ID == video {
			info = v
		}
	}
	out := make([]model.Frame, 0, n)
	for idx := start; idx < start+n; idx++ {
		f, _ := m.ReadFrame(model.SequenceKey{
			Video:  video,
			Frames: info.Frames,
			Height: info.Height,
			Width:  info.Width,
			Index:  idx,
		})
		out = append(out, f)
	}
	return out, nil
}

func (m *memArchive) Close() error {
	return nil
}

// strideSource subsamples without blurring: LR(y, x) = HR(sy, sx).
// Cheap and exactly invertible for the crop consistency check.
type strideSource struct {
	scale int
}

func (s strideSource) For(hr model.Frame) (model.Frame, error) {
	lh, lw := hr.Height/s.scale, hr.Width/s.scale
	c := model.FrameChannels
	lr := model.Frame{Video: hr.Video, Index: hr.Index, Height: lh, Width: lw, Pix: make([]byte, lh*lw*c)}
	for y := 0; y < lh; y++ {
		for x := 0; x < lw; x++ {
			src := ((y*s.scale)*hr.Width + x*s.scale) * c
			copy(lr.Pix[(y*lw+x)*c:(y*lw+x)*c+c], hr.Pix[src:src+c])
		}
	}
	return lr, nil
}

func drain(out chan pipeline.Sample, statsStream, errorStream chan interface{}) {
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-statsStream:
		case <-errorStream:
		}
	}
}

func TestRunProducesConsistentWindows(t *testing.T) {
	cfgSvc := config.NewHardCoded()
	scale := cfgSvc.GetScale()
	crop := cfgSvc.GetCropSize()
	window := cfgSvc.GetWindowLength()

	gtSvc := &memArchive{videos: []archive.VideoInfo{
		{ID: "a", Frames: 8, Height: crop * scale, Width: crop * scale},
		{ID: "b", Frames: 6, Height: crop * scale, Width: crop * scale},
	}}

	canxCtx, canxFn := context.WithCancel(context.Background())
	errorStream := make(chan interface{}, 16)
	statsStream := make(chan interface{}, 16)

	out := Run(canxCtx, cfgSvc, gtSvc, strideSource{scale: scale}, errorStream, statsStream)

	for n := 0; n < 3; n++ {
		sample, ok := <-out
		if !ok {
			t.Fatal("prefetch channel closed early")
		}
		if len(sample.LR) != window || len(sample.HR) != window {
			t.Fatalf("window lengths %d/%d, want %d", len(sample.LR), len(sample.HR), window)
		}

		for tt := 0; tt < window; tt++ {
			lr, hr := sample.LR[tt], sample.HR[tt]
			if lr.Shape[1] != crop || lr.Shape[2] != crop {
				t.Fatalf("lr shape %v", lr.Shape)
			}
			if hr.Shape[1] != crop*scale || hr.Shape[2] != crop*scale {
				t.Fatalf("hr shape %v", hr.Shape)
			}

			// The same crop and flip must hit the whole window. With a
			// stride subsample the LR pixel maps onto an exact HR pixel:
			// column 4x when unflipped, 4x+3 under the horizontal flip.
			match := func(off int) bool {
				for y := 0; y < crop; y++ {
					for x := 0; x < crop; x++ {
						for c := 0; c < 3; c++ {
							if lr.At(c, y, x) != hr.At(c, y*scale, x*scale+off) {
								return false
							}
						}
					}
				}
				return true
			}
			if !match(0) && !match(scale-1) {
				t.Fatalf("frame %d: LR is not a consistent crop of HR", tt)
			}
		}
	}

	canxFn()
	drain(out, statsStream, errorStream)
}

func TestRunSkipsShortVideos(t *testing.T) {
	cfgSvc := config.NewHardCoded()
	scale := cfgSvc.GetScale()
	crop := cfgSvc.GetCropSize()

	// Two frames only, window needs four.
	gtSvc := &memArchive{videos: []archive.VideoInfo{
		{ID: "short", Frames: 2, Height: crop * scale, Width: crop * scale},
	}}

	canxCtx, canxFn := context.WithCancel(context.Background())
	errorStream := make(chan interface{}, 16)
	statsStream := make(chan interface{}, 16)

	out := Run(canxCtx, cfgSvc, gtSvc, strideSource{scale: scale}, errorStream, statsStream)

	select {
	case sample, ok := <-out:
		if ok {
			t.Fatalf("unexpected sample from short video: %+v", sample.Key)
		}
	case <-time.After(50 * time.Millisecond):
	}

	canxFn()

	var stats model.SamplerStats
	for {
		s, ok := <-statsStream
		if !ok {
			break
		}
		if ss, isStats := s.(model.SamplerStats); isStats {
			stats = ss
			goto done
		}
	}
done:
	if stats.Samples != 0 {
		t.Errorf("samples %d, want 0", stats.Samples)
	}
	if stats.Skipped == 0 {
		t.Error("expected skipped draws for the short video")
	}
	drain(out, statsStream, errorStream)
}

func TestRunSkipsUndersizedVideos(t *testing.T) {
	cfgSvc := config.NewHardCoded()
	scale := cfgSvc.GetScale()
	crop := cfgSvc.GetCropSize()

	// Long enough temporally, but half the spatial crop footprint.
	gtSvc := &memArchive{videos: []archive.VideoInfo{
		{ID: "tiny", Frames: 20, Height: crop * scale / 2, Width: crop * scale / 2},
	}}

	canxCtx, canxFn := context.WithCancel(context.Background())
	errorStream := make(chan interface{}, 16)
	statsStream := make(chan interface{}, 16)

	out := Run(canxCtx, cfgSvc, gtSvc, strideSource{scale: scale}, errorStream, statsStream)

	select {
	case sample, ok := <-out:
		if ok {
			t.Fatalf("unexpected sample from undersized video: %+v", sample.Key)
		}
	case <-time.After(50 * time.Millisecond):
	}

	canxFn()

	var stats model.SamplerStats
	for {
		s, ok := <-statsStream
		if !ok {
			break
		}
		if ss, isStats := s.(model.SamplerStats); isStats {
			stats = ss
			goto done
		}
	}
done:
	if stats.Samples != 0 {
		t.Errorf("samples %d, want 0", stats.Samples)
	}
	if stats.Skipped == 0 {
		t.Error("expected skipped draws for the undersized video")
	}
	drain(out, statsStream, errorStream)
}
