package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/pipeline"
	"github.com/khaledhikmat/tvsr-go/service/lgr"
)

// validate replays the current generator over a few held-out sequences,
// exports the generated frames for the external metrics evaluator
// (PSNR/SSIM/perceptual distance) and logs an internal PSNR as a
// progress signal only.
func (t *Trainer) validate(canxCtx context.Context, statsStream chan interface{}, errorStream chan interface{}) {
	videos := t.gtSvc.Videos()
	count := t.cfgSvc.GetValidationSequences()
	if count > len(videos) {
		count = len(videos)
	}
	window := t.cfgSvc.GetWindowLength()

	exportRoot := filepath.Join(t.cfgSvc.GetOutputFolder(),
		fmt.Sprintf("validate_iter_%07d", t.iter))

	psnrSum := 0.0
	psnrN := 0
	sequences := 0

	for _, v := range videos[:count] {
		select {
		case <-canxCtx.Done():
			return
		default:
		}
		if v.Frames < window {
			continue
		}

		frames, err := t.gtSvc.ReadSequence(v.ID, 0, window)
		if err != nil {
			errorStream <- model.GenError("trainer_validate",
				err,
				map[string]interface{}{"video": v.ID},
				"error reading validation sequence")
			continue
		}

		state := pipeline.NewRecurrentState()
		seqPSNR := 0.0
		exported := true

		for idx, hr := range frames {
			lr, err := t.lrSrc.For(hr)
			if err != nil {
				errorStream <- model.GenError("trainer_validate",
					err,
					map[string]interface{}{"video": v.ID, "frame": idx},
					"error producing validation LR frame")
				exported = false
				break
			}

			sr, _ := t.nets.Step(pipeline.FrameToTensor(lr), state)
			gt := pipeline.FrameToTensor(hr)
			seqPSNR += pipeline.PSNR(sr, gt)

			frame := pipeline.TensorToFrame(sr, v.ID, idx)
			if err := exportFrame(filepath.Join(exportRoot, v.ID), frame); err != nil {
				errorStream <- model.GenError("trainer_validate",
					err,
					map[string]interface{}{"video": v.ID, "frame": idx},
					"error exporting validation frame")
			}
		}
		state.Finish()

		if exported {
			psnrSum += seqPSNR / float64(window)
			psnrN++
			sequences++
		}
	}

	if psnrN == 0 {
		return
	}

	avg := psnrSum / float64(psnrN)
	lgr.Logger.Info(
		"validation",
		slog.Int("iteration", t.iter),
		slog.Int("sequences", sequences),
		slog.Float64("psnr", avg),
		slog.String("export", exportRoot),
	)
	statsStream <- model.ValidationStats{
		RunID:     t.runID,
		Iteration: t.iter,
		Sequences: sequences,
		PSNR:      avg,
		Timestamp: time.Now().Unix(),
	}
}

// exportFrame writes one RGB frame as PNG for the external evaluator.
func exportFrame(folder string, f model.Frame) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return err
	}
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return err
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBToBGR)

	path := filepath.Join(folder, fmt.Sprintf("%04d.png", f.Index))
	if ok := gocv.IMWrite(path, bgr); !ok {
		return fmt.Errorf("error writing %s", path)
	}
	return nil
}
