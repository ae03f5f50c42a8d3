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

type Processor func(canxCtx context.Context,
	cfgSvc config.IService,
	gtSvc archive.IService,
	lrSrc sampler.LRSource) error

func procStats(stats interface{}) {
	switch stats := stats.(type) {
	case model.TrainerStats:
		lgr.Logger.Info(
			"trainer stats",
			slog.Any("stats", stats),
		)
	case model.SamplerStats:
		lgr.Logger.Info(
			"sampler stats",
			slog.Any("stats", stats),
		)
	case model.InferenceStats:
		lgr.Logger.Info(
			"inference stats",
			slog.Any("stats", stats),
		)
	case model.ValidationStats:
		lgr.Logger.Info(
			"validation stats",
			slog.Any("stats", stats),
		)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procError(err interface{}) {
	lgr.Logger.Error(
		"pipeline error",
		slog.Any("error", err),
	)
}
