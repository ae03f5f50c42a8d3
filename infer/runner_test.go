package infer

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/pipeline"
)

type fakeSource struct {
	name    string
	frames  int
	size    int
	next    int
	failAt  int // -1 disables
	rng     *rand.Rand
	served  int
}

func newFakeSource(name string, frames, size int) *fakeSource {
	return &fakeSource{name: name, frames: frames, size: size, failAt: -1, rng: rand.New(rand.NewSource(1))}
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Next() (model.Frame, error) {
	if s.next == s.failAt {
		return model.Frame{}, errors.New("decode failure")
	}
	if s.next >= s.frames {
		return model.Frame{}, io.EOF
	}
	pix := make([]byte, s.size*s.size*model.FrameChannels)
	s.rng.Read(pix)
	f := model.Frame{Video: s.name, Index: s.next, Height: s.size, Width: s.size, Pix: pix}
	s.next++
	s.served++
	return f, nil
}

func (s *fakeSource) Close() error { return nil }

type captureSink struct {
	frames []model.Frame
}

func (s *captureSink) Write(f model.Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

func (s *captureSink) Close() error { return nil }

func testRunner() *Runner {
	rng := rand.New(rand.NewSource(2))
	return NewFromNets(&pipeline.Nets{
		Flow: pipeline.NewFlowNet(rng, 4),
		Gen:  pipeline.NewGenerator(rng, 2, 4),
	})
}

func TestProcessUpscalesEveryFrame(t *testing.T) {
	r := testRunner()
	src := newFakeSource("clip", 6, 8)
	sink := &captureSink{}

	stats, err := r.Process(context.Background(), src, sink)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if stats.Frames != 6 {
		t.Fatalf("stats frames %d, want 6", stats.Frames)
	}
	if len(sink.frames) != 6 {
		t.Fatalf("sink frames %d, want 6", len(sink.frames))
	}
	for i, f := range sink.frames {
		if f.Index != i {
			t.Errorf("frame %d carries index %d", i, f.Index)
		}
		if f.Height != 16 || f.Width != 16 {
			t.Errorf("frame %d size %dx%d, want 16x16", i, f.Height, f.Width)
		}
		if f.Video != "clip" {
			t.Errorf("frame %d video %q", i, f.Video)
		}
	}
}

// A corrupt frame aborts the video after the frames already generated,
// and reports the failure as a data error the caller can classify.
func TestProcessAbortsOnCorruptFrame(t *testing.T) {
	r := testRunner()
	src := newFakeSource("clip", 6, 8)
	src.failAt = 3
	sink := &captureSink{}

	stats, err := r.Process(context.Background(), src, sink)
	if !errors.Is(err, model.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if stats.Frames != 3 {
		t.Errorf("frames before abort %d, want 3", stats.Frames)
	}
	if stats.Errors != 1 {
		t.Errorf("errors %d, want 1", stats.Errors)
	}
	if len(sink.frames) != 3 {
		t.Errorf("sink frames %d, want 3", len(sink.frames))
	}
}

// The runner must hold one previous frame pair, not the whole history:
// a much longer video finishes with the same per-frame behavior as a
// short one.
func TestProcessLongVideoSequentially(t *testing.T) {
	r := testRunner()
	src := newFakeSource("long", 64, 4)
	sink := &captureSink{}

	stats, err := r.Process(context.Background(), src, sink)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if stats.Frames != 64 || src.served != 64 {
		t.Errorf("processed %d served %d, want 64", stats.Frames, src.served)
	}
}

func TestProcessStopsOnCancel(t *testing.T) {
	r := testRunner()
	src := newFakeSource("clip", 6, 8)
	sink := &captureSink{}

	canxCtx, canxFn := context.WithCancel(context.Background())
	canxFn()

	stats, err := r.Process(canxCtx, src, sink)
	if err != nil {
		t.Fatalf("cancelled process returned error: %v", err)
	}
	if stats.Frames != 0 {
		t.Errorf("frames after immediate cancel %d, want 0", stats.Frames)
	}
}
