package config

import (
	"github.com/khaledhikmat/tvsr-go/model"
)

type IService interface {
	GetModelName() string
	GetModeMaxShutdownTime() int

	// Data
	GetDegradationType() model.DegradationType
	GetScale() int
	GetGTArchivePath() string
	GetLRArchivePath() string // empty means degrade on the fly
	GetBlurSigma() float64
	GetBlurKernelSize() int

	// Sampler
	GetWindowLength() int
	GetCropSize() int
	GetBatchSize() int
	GetSamplerWorkers() int
	GetPrefetchDepth() int
	GetSeed() int64

	// Trainer
	GetDeviceCount() int
	GetMaxIterations() int
	GetWarmupIterations() int
	GetGeneratorLearningRate() float64
	GetDiscriminatorLearningRate() float64
	GetCheckpointInterval() int
	GetValidationInterval() int
	GetValidationSequences() int
	GetLossWeights() model.LossWeights
	GetPingPongFrames() int // 0 means the full window

	// Folders
	GetCheckpointFolder() string
	GetOutputFolder() string
	GetResumeCheckpoint() string

	// Inference and tooling
	GetInputVideo() string   // non-empty: test mode upscales this file to MP4
	GetOutputFPS() float64   // frame rate of exported clips
	GetImportFolder() string // PNG tree consumed by the import mode
}
