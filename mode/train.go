package mode

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/sampler"
	"github.com/khaledhikmat/tvsr-go/service/archive"
	"github.com/khaledhikmat/tvsr-go/service/config"
	"github.com/khaledhikmat/tvsr-go/service/lgr"
	"github.com/khaledhikmat/tvsr-go/trainer"
)

// The train mode runs the optimization loop until the configured
// iteration budget is exhausted or the context is cancelled.
func Train(canxCtx context.Context, cfgSvc config.IService, gtSvc archive.IService, lrSrc sampler.LRSource) error {
	// Create an error stream
	errorStream := make(chan interface{})

	// Create a stats stream
	statsStream := make(chan interface{})

	t, err := trainer.New(cfgSvc, gtSvc, lrSrc)
	if err != nil {
		return err
	}

	// Run the trainer in its own go routine so the mode can keep
	// draining stats and errors
	trainResult := make(chan error)
	go func() {
		trainResult <- t.Run(canxCtx, errorStream, statsStream)
	}()

	// Wait for cancellation, trainer exit, stats or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"train mode context cancelled",
			)
			goto resume

		case err := <-trainResult:
			if err != nil {
				procError(model.GenError("train_mode",
					err,
					map[string]interface{}{},
					"trainer exited with error"))
				goto resume
			}

			lgr.Logger.Info(
				"train mode completed",
			)
			goto resume

		case s := <-statsStream:
			procStats(s)

		case e := <-errorStream:
			procError(e)
		}
	}

	// Wait in a non-blocking way for all the go routines to exit
	// This is needed because the go routines may need to report errors as they are exiting
resume:
	lgr.Logger.Info(
		"train mode is waiting for all go routines to exit",
	)

	// The only way to exit the mode is to wait for the shutdown
	// duration
	timer := time.NewTimer(time.Duration(cfgSvc.GetModeMaxShutdownTime()) * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Timer expired, proceed with shutdown
			lgr.Logger.Info(
				"train mode shutdown waiting period expired. Exiting now",
				slog.Duration("period", time.Duration(cfgSvc.GetModeMaxShutdownTime())*time.Second),
			)

			return nil

		case s := <-statsStream:
			procStats(s)

		case e := <-errorStream:
			procError(e)
		}
	}
}
