// Package infer replays a trained generator sequentially over a video,
// one frame at a time. Recurrent state is a single previous LR/HR pair,
// so memory use does not grow with video length.
package infer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/mdobak/go-xerrors"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/tvsr-go/checkpoint"
	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/pipeline"
	"github.com/khaledhikmat/tvsr-go/sampler"
	"github.com/khaledhikmat/tvsr-go/service/archive"
	"github.com/khaledhikmat/tvsr-go/service/lgr"
)

// FrameSource yields the LR input frames of one video in order.
// io.EOF ends the stream.
type FrameSource interface {
	Name() string
	Next() (model.Frame, error)
	Close() error
}

// FrameSink receives generated HR frames in order.
type FrameSink interface {
	Write(f model.Frame) error
	Close() error
}

// Runner holds the generator-side networks only; no discriminator or
// loss computation happens at this stage.
type Runner struct {
	nets *pipeline.Nets
}

// NewFromCheckpoint loads generator and flow parameters; the
// checkpoint's discriminator and optimizer payloads are ignored.
func NewFromCheckpoint(path string, scale int) (*Runner, error) {
	snap, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}

	// Weight layout comes from the checkpoint; the init values are
	// placeholders about to be overwritten.
	rng := rand.New(rand.NewSource(1))
	nets := &pipeline.Nets{
		Flow: pipeline.NewFlowNet(rng, 32),
		Gen:  pipeline.NewGenerator(rng, scale, 32),
	}
	if err := checkpoint.Apply(snap.Generator, nets.Gen.Params()); err != nil {
		return nil, err
	}
	if err := checkpoint.Apply(snap.Flow, nets.Flow.Params()); err != nil {
		return nil, err
	}
	return &Runner{nets: nets}, nil
}

func NewFromNets(nets *pipeline.Nets) *Runner {
	return &Runner{nets: nets}
}

// Process streams one video through the generator. A corrupt input
// frame aborts this video only; the caller moves on to the next one.
func (r *Runner) Process(canxCtx context.Context, src FrameSource, sink FrameSink) (model.InferenceStats, error) {
	beginTime := time.Now().Unix()
	stats := model.InferenceStats{Video: src.Name()}

	state := pipeline.NewRecurrentState()
	defer state.Finish()

	var totalProc time.Duration
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info("inference context cancelled", slog.String("video", src.Name()))
			return stats, nil
		default:
		}

		frame, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.Errors++
			return stats, xerrors.New(model.ErrDataUnavailable, err)
		}

		start := time.Now()
		sr, _ := r.nets.Step(pipeline.FrameToTensor(frame), state)
		totalProc += time.Since(start)

		if err := sink.Write(pipeline.TensorToFrame(sr, src.Name(), stats.Frames)); err != nil {
			stats.Errors++
			return stats, err
		}
		stats.Frames++
	}

	stats.Uptime = time.Now().Unix() - beginTime
	stats.Timestamp = time.Now().Unix()
	if stats.Frames > 0 {
		stats.AvgProcTime = totalProc.Seconds() / float64(stats.Frames)
	}
	return stats, nil
}

// videoSource reads LR frames from a video file through OpenCV.
type videoSource struct {
	name string
	cap  *gocv.VideoCapture
}

func NewVideoSource(path string) (FrameSource, error) {
	cap, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, xerrors.New(model.ErrDataUnavailable, err)
	}
	return &videoSource{name: filepath.Base(path), cap: cap}, nil
}

func (s *videoSource) Name() string {
	return s.name
}

func (s *videoSource) Next() (model.Frame, error) {
	img := gocv.NewMat()
	defer img.Close()
	if ok := s.cap.Read(&img); !ok || img.Empty() {
		return model.Frame{}, io.EOF
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)

	pix := rgb.ToBytes()
	f := model.Frame{
		Video:  s.name,
		Height: rgb.Rows(),
		Width:  rgb.Cols(),
		Pix:    make([]byte, len(pix)),
	}
	copy(f.Pix, pix)
	return f, nil
}

func (s *videoSource) Close() error {
	return s.cap.Close()
}

// archiveSource reads a video out of a frame archive, optionally
// degrading HR records to LR on the way out.
type archiveSource struct {
	svc  archive.IService
	info archive.VideoInfo
	lr   sampler.LRSource // nil when the archive already holds LR
	next int
}

func NewArchiveSource(svc archive.IService, info archive.VideoInfo, lr sampler.LRSource) FrameSource {
	return &archiveSource{svc: svc, info: info, lr: lr}
}

func (s *archiveSource) Name() string {
	return s.info.ID
}

func (s *archiveSource) Next() (model.Frame, error) {
	if s.next >= s.info.Frames {
		return model.Frame{}, io.EOF
	}
	frame, err := s.svc.ReadFrame(model.SequenceKey{
		Video:  s.info.ID,
		Frames: s.info.Frames,
		Height: s.info.Height,
		Width:  s.info.Width,
		Index:  s.next,
	})
	if err != nil {
		return model.Frame{}, err
	}
	s.next++
	if s.lr != nil {
		return s.lr.For(frame)
	}
	return frame, nil
}

func (s *archiveSource) Close() error {
	return nil
}

// pngSink writes generated frames as numbered PNGs.
type pngSink struct {
	folder string
}

func NewPNGSink(folder string) (FrameSink, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, err
	}
	return &pngSink{folder: folder}, nil
}

func (s *pngSink) Write(f model.Frame) error {
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return err
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBToBGR)

	path := filepath.Join(s.folder, fmt.Sprintf("%04d.png", f.Index))
	if ok := gocv.IMWrite(path, bgr); !ok {
		return fmt.Errorf("error writing %s", path)
	}
	return nil
}

func (s *pngSink) Close() error {
	return nil
}

// mp4Sink writes generated frames into an MP4 clip. The writer opens
// on the first frame, once the upscaled dimensions are known.
type mp4Sink struct {
	path   string
	fps    float64
	writer *gocv.VideoWriter
}

func NewMP4Sink(path string, fps float64) (FrameSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &mp4Sink{path: path, fps: fps}, nil
}

func (s *mp4Sink) Write(f model.Frame) error {
	if s.writer == nil {
		writer, err := gocv.VideoWriterFile(s.path, "avc1", s.fps, f.Width, f.Height, true)
		if err != nil {
			return err
		}
		s.writer = writer
	}

	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return err
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBToBGR)
	return s.writer.Write(bgr)
}

func (s *mp4Sink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
