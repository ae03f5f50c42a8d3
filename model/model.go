package model

import (
	"fmt"
	"runtime/debug"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	return fmt.Sprintf("%s: %s", e.Processor, e.Message)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// Frame is an immutable HWC/RGB uint8 pixel grid.
type Frame struct {
	Video  string `json:"video"`
	Index  int    `json:"index"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
	Pix    []byte `json:"-"`
}

// Channels per frame. RGB only; the archives never carry alpha.
const FrameChannels = 3

func (f Frame) Bytes() int {
	return f.Height * f.Width * FrameChannels
}

func (f Frame) Clone() Frame {
	out := f
	out.Pix = make([]byte, len(f.Pix))
	copy(out.Pix, f.Pix)
	return out
}

// SequenceKey is the composite archive key:
// video id, total frame count, height, width and frame index.
// Encoded exactly as the archive stores it: <video>_<n>x<h>x<w>_<idx>.
type SequenceKey struct {
	Video  string `json:"video"`
	Frames int    `json:"frames"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
	Index  int    `json:"index"`
}

func (k SequenceKey) String() string {
	return fmt.Sprintf("%s_%dx%dx%d_%04d", k.Video, k.Frames, k.Height, k.Width, k.Index)
}

// DegradationType selects how LR frames are produced.
// Chosen once per run at configuration time.
type DegradationType string

const (
	DegradationBD DegradationType = "BD" // gaussian blur then subsample
	DegradationBI DegradationType = "BI" // direct bicubic downsample
)

// LossWeights maps each loss term to its scalar weight.
// Validated once at startup: all weights non-negative, pixel strictly positive.
type LossWeights struct {
	Pixel       float64 `json:"pixel" mapstructure:"pixel"`
	Warping     float64 `json:"warping" mapstructure:"warping"`
	Perceptual  float64 `json:"perceptual" mapstructure:"perceptual"`
	Adversarial float64 `json:"adversarial" mapstructure:"adversarial"`
	PingPong    float64 `json:"pingPong" mapstructure:"ping_pong"`
}

func (w LossWeights) Validate() error {
	terms := map[string]float64{
		"pixel":       w.Pixel,
		"warping":     w.Warping,
		"perceptual":  w.Perceptual,
		"adversarial": w.Adversarial,
		"ping_pong":   w.PingPong,
	}
	for name, v := range terms {
		if v < 0 {
			return fmt.Errorf("loss weight %s is negative: %f", name, v)
		}
	}
	if w.Pixel <= 0 {
		return fmt.Errorf("pixel loss weight must be positive: %f", w.Pixel)
	}
	return nil
}

// LossBreakdown is the per-iteration loss report sent on the stats stream.
type LossBreakdown struct {
	Pixel       float64 `json:"pixel"`
	Warping     float64 `json:"warping"`
	Perceptual  float64 `json:"perceptual"`
	Adversarial float64 `json:"adversarial"`
	PingPong    float64 `json:"pingPong"`
	Generator   float64 `json:"generator"`
	Discrim     float64 `json:"discriminator"`
}

type TrainerStats struct {
	RunID        string        `json:"runId"`
	Iteration    int           `json:"iteration"`
	Losses       LossBreakdown `json:"losses"`
	SkippedSteps int           `json:"skippedSteps"`
	Devices      int           `json:"devices"`
	Uptime       int64         `json:"uptime"`
	Timestamp    int64         `json:"timestamp"`
}

type SamplerStats struct {
	Name      string `json:"name"`
	Worker    int    `json:"worker"`
	Samples   int    `json:"samples"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}

type InferenceStats struct {
	Video       string  `json:"video"`
	Frames      int     `json:"frames"`
	Errors      int     `json:"errors"`
	AvgProcTime float64 `json:"avgProcTime"`
	Uptime      int64   `json:"uptime"`
	Timestamp   int64   `json:"timestamp"`
}

type ValidationStats struct {
	RunID     string  `json:"runId"`
	Iteration int     `json:"iteration"`
	Sequences int     `json:"sequences"`
	PSNR      float64 `json:"psnr"`
	Timestamp int64   `json:"timestamp"`
}
