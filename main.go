package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/tvsr-go/degrade"
	"github.com/khaledhikmat/tvsr-go/mode"
	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/sampler"
	"github.com/khaledhikmat/tvsr-go/service/archive"
	"github.com/khaledhikmat/tvsr-go/service/config"
	"github.com/khaledhikmat/tvsr-go/service/lgr"
)

const (
	// WARNING: this has to be bigger than the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"train":   mode.Train,
	"test":    mode.Test,
	"profile": mode.Profile,
	"import":  mode.Import,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil {
			lgr.Logger.Error("error loading .env file", slog.Any("error", xerrors.New(err.Error())))
			panic("error loading .env file")
		}
	}

	// Args: mode, degradation type and model name
	modeType := "train"
	degradation := string(model.DegradationBD)
	modelName := "tecogan"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}
	if len(args) > 1 {
		degradation = args[1]
	}
	if len(args) > 2 {
		modelName = args[2]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		panic("invalid mode")
	}

	// Create the services needed for the mode processor
	// They can be overridden by the mode processor with different implementations
	// Config service
	cfgSvc, err := config.NewViper("settings", modelName, model.DegradationType(degradation))
	if err != nil {
		lgr.Logger.Error("error loading config", slog.Any("error", xerrors.New(err.Error())))
		panic("error loading config")
	}

	// Ground truth archive service
	gtSvc, err := archive.NewBolt(cfgSvc.GetGTArchivePath())
	if err != nil {
		lgr.Logger.Error("error opening ground truth archive", slog.Any("error", xerrors.New(err.Error())))
		panic("error opening ground truth archive")
	}
	defer gtSvc.Close()

	// LR source: precomputed archive when configured, otherwise degrade
	// ground truth frames on the fly
	var lrSrc sampler.LRSource
	if cfgSvc.GetLRArchivePath() != "" {
		lrArchive, err := archive.NewFolder(cfgSvc.GetLRArchivePath())
		if err != nil {
			lgr.Logger.Error("error opening LR archive", slog.Any("error", xerrors.New(err.Error())))
			panic("error opening LR archive")
		}
		defer lrArchive.Close()
		lrSrc = sampler.ArchiveSource{Svc: lrArchive, Scale: cfgSvc.GetScale()}
	} else {
		policy, err := degrade.NewPolicy(cfgSvc.GetDegradationType(), cfgSvc.GetScale(),
			cfgSvc.GetBlurSigma(), cfgSvc.GetBlurKernelSize())
		if err != nil {
			lgr.Logger.Error("error building degradation policy", slog.Any("error", xerrors.New(err.Error())))
			panic("error building degradation policy")
		}
		lrSrc = sampler.PolicySource{Policy: policy}
	}

	// Create mode processor result
	modeProcResult := make(chan error)
	defer close(modeProcResult)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, cfgSvc, gtSvc, lrSrc)
	}()

	// Wait for cancellation or mode proc exit
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"trainer pod context cancelled",
			)
			goto resume

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"trainer pod mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
			goto resume
		}
	}

	// Wait in a non-blocking way for `waitOnShutdown` for all the go routines to exit
	// This is needed because the go routines may need to report errors as they are exiting
resume:
	// Cancel the context if not already cancelled
	if canxCtx.Err() == nil {
		// Force cancel the context
		canxFn()
	}

	lgr.Logger.Info(
		"trainer pod is waiting for all go routines to exit",
	)

	// The only way to exit the main function is to wait for the shutdown
	// duration
	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Timer expired, proceed with shutdown
			lgr.Logger.Info(
				"trainer pod shutdown waiting period expired. Exiting now",
				slog.Duration("period", waitOnShutdown),
			)

			return

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"trainer pod mode processor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
		}
	}
}
