package mode

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/khaledhikmat/tvsr-go/infer"
	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/sampler"
	"github.com/khaledhikmat/tvsr-go/service/archive"
	"github.com/khaledhikmat/tvsr-go/service/config"
	"github.com/khaledhikmat/tvsr-go/service/lgr"
)

// The test mode replays a trained generator over every archived video
// and exports the generated sequences for the external metrics
// evaluator. A corrupt video aborts that video only.
func Test(canxCtx context.Context, cfgSvc config.IService, gtSvc archive.IService, lrSrc sampler.LRSource) error {
	ckpt := cfgSvc.GetResumeCheckpoint()
	if ckpt == "" {
		return model.GenError("test_mode",
			nil,
			map[string]interface{}{},
			"test mode requires a checkpoint to restore the generator from")
	}

	runner, err := infer.NewFromCheckpoint(ckpt, cfgSvc.GetScale())
	if err != nil {
		return err
	}

	// A configured input video bypasses the archive: upscale the one
	// file and write an MP4 clip next to the PNG exports.
	if path := cfgSvc.GetInputVideo(); path != "" {
		return testVideoFile(canxCtx, cfgSvc, runner, path)
	}

	for _, info := range gtSvc.Videos() {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"test mode context cancelled",
			)
			return nil
		default:
		}

		src := infer.NewArchiveSource(gtSvc, info, lrSrc)
		sink, err := infer.NewPNGSink(filepath.Join(cfgSvc.GetOutputFolder(), info.ID))
		if err != nil {
			return err
		}

		stats, err := runner.Process(canxCtx, src, sink)
		if closeErr := src.Close(); closeErr != nil {
			procError(model.GenError("test_mode",
				closeErr,
				map[string]interface{}{},
				"error closing source for video: %s", info.ID))
		}
		if closeErr := sink.Close(); closeErr != nil {
			procError(model.GenError("test_mode",
				closeErr,
				map[string]interface{}{},
				"error closing sink for video: %s", info.ID))
		}
		if err != nil {
			// Move on to the next video
			procError(model.GenError("test_mode",
				err,
				map[string]interface{}{"video": info.ID},
				"error processing video: %s", info.ID))
			continue
		}

		procStats(stats)
	}

	lgr.Logger.Info(
		"test mode completed",
		slog.Int("videos", len(gtSvc.Videos())),
		slog.String("outputFolder", cfgSvc.GetOutputFolder()),
	)
	return nil
}

func testVideoFile(canxCtx context.Context, cfgSvc config.IService, runner *infer.Runner, path string) error {
	src, err := infer.NewVideoSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	out := filepath.Join(cfgSvc.GetOutputFolder(), src.Name()+"_x"+strconv.Itoa(cfgSvc.GetScale())+".mp4")
	sink, err := infer.NewMP4Sink(out, cfgSvc.GetOutputFPS())
	if err != nil {
		return err
	}
	defer sink.Close()

	stats, err := runner.Process(canxCtx, src, sink)
	if err != nil {
		return model.GenError("test_mode",
			err,
			map[string]interface{}{"video": path},
			"error processing video file: %s", path)
	}
	procStats(stats)

	lgr.Logger.Info(
		"test mode completed",
		slog.String("inputVideo", path),
		slog.String("outputVideo", out),
	)
	return nil
}
