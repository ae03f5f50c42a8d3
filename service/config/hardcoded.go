package config

import (
	"github.com/khaledhikmat/tvsr-go/model"
)

// hardcodedService is the toy bundle used by tests and local smoke runs.
// Real runs resolve their bundle through the viper service.
type hardcodedService struct {
}

func NewHardCoded() IService {
	return &hardcodedService{}
}

func (svc *hardcodedService) GetModelName() string {
	return "frvsr-toy"
}

func (svc *hardcodedService) GetModeMaxShutdownTime() int {
	return 5
}

func (svc *hardcodedService) GetDegradationType() model.DegradationType {
	return model.DegradationBD
}

func (svc *hardcodedService) GetScale() int {
	return 4
}

func (svc *hardcodedService) GetGTArchivePath() string {
	return "./data/gt.db"
}

func (svc *hardcodedService) GetLRArchivePath() string {
	return ""
}

func (svc *hardcodedService) GetBlurSigma() float64 {
	return 1.5
}

func (svc *hardcodedService) GetBlurKernelSize() int {
	return 13
}

func (svc *hardcodedService) GetWindowLength() int {
	return 4
}

func (svc *hardcodedService) GetCropSize() int {
	return 32
}

func (svc *hardcodedService) GetBatchSize() int {
	return 2
}

func (svc *hardcodedService) GetSamplerWorkers() int {
	return 1
}

func (svc *hardcodedService) GetPrefetchDepth() int {
	return 4
}

func (svc *hardcodedService) GetSeed() int64 {
	return 42
}

func (svc *hardcodedService) GetDeviceCount() int {
	return 1
}

func (svc *hardcodedService) GetMaxIterations() int {
	return 10
}

func (svc *hardcodedService) GetWarmupIterations() int {
	return 5
}

func (svc *hardcodedService) GetGeneratorLearningRate() float64 {
	return 1e-3
}

func (svc *hardcodedService) GetDiscriminatorLearningRate() float64 {
	return 1e-3
}

func (svc *hardcodedService) GetCheckpointInterval() int {
	return 5
}

func (svc *hardcodedService) GetValidationInterval() int {
	return 5
}

func (svc *hardcodedService) GetValidationSequences() int {
	return 1
}

func (svc *hardcodedService) GetLossWeights() model.LossWeights {
	return model.LossWeights{
		Pixel:       1.0,
		Warping:     1.0,
		Perceptual:  0.0,
		Adversarial: 0.0,
		PingPong:    0.5,
	}
}

func (svc *hardcodedService) GetPingPongFrames() int {
	return 0
}

func (svc *hardcodedService) GetCheckpointFolder() string {
	return "./checkpoints"
}

func (svc *hardcodedService) GetOutputFolder() string {
	return "./results"
}

func (svc *hardcodedService) GetResumeCheckpoint() string {
	return ""
}

func (svc *hardcodedService) GetInputVideo() string {
	return ""
}

func (svc *hardcodedService) GetOutputFPS() float64 {
	return 24.0
}

func (svc *hardcodedService) GetImportFolder() string {
	return ""
}
