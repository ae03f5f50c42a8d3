package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/khaledhikmat/tvsr-go/model"
)

// viperService resolves a configuration bundle from
// settings/<model>.yaml with TVSR_* env overrides.
type viperService struct {
	v     *viper.Viper
	model string
}

func NewViper(settingsFolder, modelName string, degradation model.DegradationType) (IService, error) {
	v := viper.New()
	v.SetConfigName(modelName)
	v.SetConfigType("yaml")
	v.AddConfigPath(settingsFolder)
	v.SetEnvPrefix("TVSR")
	v.AutomaticEnv()

	// Defaults keep the bundle small; yaml overrides what matters.
	v.SetDefault("shutdown_time", 5)
	v.SetDefault("degradation", string(degradation))
	v.SetDefault("scale", 4)
	v.SetDefault("blur_sigma", 1.5)
	v.SetDefault("blur_kernel", 13)
	v.SetDefault("window_length", 10)
	v.SetDefault("crop_size", 32)
	v.SetDefault("batch_size", 8)
	v.SetDefault("sampler_workers", 4)
	v.SetDefault("prefetch_depth", 16)
	v.SetDefault("seed", 2021)
	v.SetDefault("devices", 1)
	v.SetDefault("max_iterations", 500000)
	v.SetDefault("warmup_iterations", 0)
	v.SetDefault("generator_lr", 5e-5)
	v.SetDefault("discriminator_lr", 5e-5)
	v.SetDefault("checkpoint_interval", 5000)
	v.SetDefault("validation_interval", 5000)
	v.SetDefault("validation_sequences", 4)
	v.SetDefault("ping_pong_frames", 0)
	v.SetDefault("checkpoint_folder", "./checkpoints")
	v.SetDefault("output_folder", "./results")
	v.SetDefault("output_fps", 24.0)
	v.SetDefault("loss_weights.pixel", 1.0)
	v.SetDefault("loss_weights.warping", 1.0)
	v.SetDefault("loss_weights.perceptual", 0.0)
	v.SetDefault("loss_weights.adversarial", 0.0)
	v.SetDefault("loss_weights.ping_pong", 0.0)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config bundle %s/%s.yaml: %w", settingsFolder, modelName, err)
	}

	// The degradation argument comes from the command surface and wins
	// over the bundle.
	if degradation != "" {
		v.Set("degradation", string(degradation))
	}

	svc := &viperService{v: v, model: modelName}
	if err := svc.GetLossWeights().Validate(); err != nil {
		return nil, fmt.Errorf("invalid loss weights in bundle %s: %w", modelName, err)
	}

	return svc, nil
}

func (svc *viperService) GetModelName() string {
	return svc.model
}

func (svc *viperService) GetModeMaxShutdownTime() int {
	return svc.v.GetInt("shutdown_time")
}

func (svc *viperService) GetDegradationType() model.DegradationType {
	return model.DegradationType(svc.v.GetString("degradation"))
}

func (svc *viperService) GetScale() int {
	return svc.v.GetInt("scale")
}

func (svc *viperService) GetGTArchivePath() string {
	return svc.v.GetString("gt_archive")
}

func (svc *viperService) GetLRArchivePath() string {
	return svc.v.GetString("lr_archive")
}

func (svc *viperService) GetBlurSigma() float64 {
	return svc.v.GetFloat64("blur_sigma")
}

func (svc *viperService) GetBlurKernelSize() int {
	return svc.v.GetInt("blur_kernel")
}

func (svc *viperService) GetWindowLength() int {
	return svc.v.GetInt("window_length")
}

func (svc *viperService) GetCropSize() int {
	return svc.v.GetInt("crop_size")
}

func (svc *viperService) GetBatchSize() int {
	return svc.v.GetInt("batch_size")
}

func (svc *viperService) GetSamplerWorkers() int {
	return svc.v.GetInt("sampler_workers")
}

func (svc *viperService) GetPrefetchDepth() int {
	return svc.v.GetInt("prefetch_depth")
}

func (svc *viperService) GetSeed() int64 {
	return svc.v.GetInt64("seed")
}

func (svc *viperService) GetDeviceCount() int {
	return svc.v.GetInt("devices")
}

func (svc *viperService) GetMaxIterations() int {
	return svc.v.GetInt("max_iterations")
}

func (svc *viperService) GetWarmupIterations() int {
	return svc.v.GetInt("warmup_iterations")
}

func (svc *viperService) GetGeneratorLearningRate() float64 {
	return svc.v.GetFloat64("generator_lr")
}

func (svc *viperService) GetDiscriminatorLearningRate() float64 {
	return svc.v.GetFloat64("discriminator_lr")
}

func (svc *viperService) GetCheckpointInterval() int {
	return svc.v.GetInt("checkpoint_interval")
}

func (svc *viperService) GetValidationInterval() int {
	return svc.v.GetInt("validation_interval")
}

func (svc *viperService) GetValidationSequences() int {
	return svc.v.GetInt("validation_sequences")
}

func (svc *viperService) GetLossWeights() model.LossWeights {
	return model.LossWeights{
		Pixel:       svc.v.GetFloat64("loss_weights.pixel"),
		Warping:     svc.v.GetFloat64("loss_weights.warping"),
		Perceptual:  svc.v.GetFloat64("loss_weights.perceptual"),
		Adversarial: svc.v.GetFloat64("loss_weights.adversarial"),
		PingPong:    svc.v.GetFloat64("loss_weights.ping_pong"),
	}
}

func (svc *viperService) GetPingPongFrames() int {
	return svc.v.GetInt("ping_pong_frames")
}

func (svc *viperService) GetCheckpointFolder() string {
	return svc.v.GetString("checkpoint_folder")
}

func (svc *viperService) GetOutputFolder() string {
	return svc.v.GetString("output_folder")
}

func (svc *viperService) GetResumeCheckpoint() string {
	return svc.v.GetString("resume_checkpoint")
}

func (svc *viperService) GetInputVideo() string {
	return svc.v.GetString("input_video")
}

func (svc *viperService) GetOutputFPS() float64 {
	return svc.v.GetFloat64("output_fps")
}

func (svc *viperService) GetImportFolder() string {
	return svc.v.GetString("import_folder")
}
