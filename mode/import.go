package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/sampler"
	"github.com/khaledhikmat/tvsr-go/service/archive"
	"github.com/khaledhikmat/tvsr-go/service/config"
	"github.com/khaledhikmat/tvsr-go/service/lgr"
)

// Import loads a PNG directory tree, <folder>/<video>/*.png, into the
// ground-truth archive so the trainer can read it through the bbolt
// store.
func Import(canxCtx context.Context, cfgSvc config.IService, gtSvc archive.IService, lrSrc sampler.LRSource) error {
	folder := cfgSvc.GetImportFolder()
	if folder == "" {
		return model.GenError("import_mode",
			nil,
			map[string]interface{}{},
			"import mode requires import_folder in the bundle")
	}

	dst, ok := gtSvc.(archive.IWriter)
	if !ok {
		return model.GenError("import_mode",
			nil,
			map[string]interface{}{"archive": cfgSvc.GetGTArchivePath()},
			"ground-truth archive is not writable")
	}

	select {
	case <-canxCtx.Done():
		lgr.Logger.Info("import mode context cancelled")
		return nil
	default:
	}

	if err := archive.ImportFolder(folder, dst); err != nil {
		return model.GenError("import_mode",
			err,
			map[string]interface{}{"folder": folder},
			"error importing folder: %s", folder)
	}

	lgr.Logger.Info(
		"import mode completed",
		slog.String("folder", folder),
		slog.Int("videos", len(dst.Videos())),
	)
	return nil
}
