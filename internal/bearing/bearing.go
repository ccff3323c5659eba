// Package bearing estimates the direction of arrival of a sound from two
// synchronized microphone channels.
//
// Two cues are combined. The interaural time difference (ITD) comes from the
// lag of the cross-correlation peak between the channels. The interaural level
// difference (ILD) comes from the RMS ratio. Angles are in degrees within
// [-90, 90], negative meaning left of center.
package bearing

import (
	"math"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

// Config holds the array geometry and the fusion tuning.
type Config struct {
	MicSeparation       float64 // metres
	SpeedOfSound        float64 // m/s
	SilenceFloor        float64 // RMS below which a channel is silent
	ILDSaturationDB     float64 // level difference mapped to ±90°
	DisagreementDeg     float64
	DisagreementPenalty float64 // [0,1], scaled by the weaker cue's confidence
	LowFreqCutoffHz     float64 // ILD confidence is attenuated below this
}

// DefaultConfig returns the configuration for a 17 cm stereo pair.
func DefaultConfig() Config {
	return Config{
		MicSeparation:       0.17,
		SpeedOfSound:        343,
		SilenceFloor:        1e-4,
		ILDSaturationDB:     6,
		DisagreementDeg:     30,
		DisagreementPenalty: 0.5,
		LowFreqCutoffHz:     1000,
	}
}

// ConfigFrom maps settings onto an estimator configuration. Zero fields keep
// the defaults.
func ConfigFrom(s *conf.BearingSettings) Config {
	cfg := DefaultConfig()
	if s == nil {
		return cfg
	}
	if s.MicSeparation > 0 {
		cfg.MicSeparation = s.MicSeparation
	}
	if s.SpeedOfSound > 0 {
		cfg.SpeedOfSound = s.SpeedOfSound
	}
	if s.SilenceFloor > 0 {
		cfg.SilenceFloor = s.SilenceFloor
	}
	if s.ILDSaturationDB > 0 {
		cfg.ILDSaturationDB = s.ILDSaturationDB
	}
	if s.DisagreementDeg > 0 {
		cfg.DisagreementDeg = s.DisagreementDeg
	}
	if s.DisagreementPenalty > 0 {
		cfg.DisagreementPenalty = s.DisagreementPenalty
	}
	if s.LowFreqCutoffHz > 0 {
		cfg.LowFreqCutoffHz = s.LowFreqCutoffHz
	}
	return cfg
}

// Cue is the angle and confidence derived from a single binaural cue.
type Cue struct {
	AngleDegrees float64
	Confidence   float64
}

// Estimate is the fused result. When Determinate is false the angle carries
// no information and Confidence is zero.
type Estimate struct {
	AngleDegrees float64
	Confidence   float64
	Determinate  bool
	ITD          Cue
	ILD          Cue
	LagSamples   float64 // refined cross-correlation peak, positive when the left channel leads
}

// Bearing converts a determinate estimate into the detection model, or nil.
func (e Estimate) Bearing() *detection.Bearing {
	if !e.Determinate {
		return nil
	}
	return &detection.Bearing{AngleDegrees: e.AngleDegrees, Confidence: e.Confidence}
}

// Estimator is stateless and safe for concurrent use.
type Estimator struct {
	cfg Config
}

// New validates cfg and returns an estimator.
func New(cfg Config) (*Estimator, error) {
	switch {
	case cfg.MicSeparation <= 0, cfg.SpeedOfSound <= 0:
		return nil, configError("microphone separation and speed of sound must be positive")
	case cfg.ILDSaturationDB <= 0:
		return nil, configError("ILD saturation must be positive")
	case cfg.DisagreementPenalty < 0, cfg.DisagreementPenalty > 1:
		return nil, configError("disagreement penalty must be within [0,1]")
	case cfg.SilenceFloor < 0, cfg.LowFreqCutoffHz < 0, cfg.DisagreementDeg < 0:
		return nil, configError("thresholds must not be negative")
	}
	return &Estimator{cfg: cfg}, nil
}

// Config returns the estimator configuration.
func (e *Estimator) Config() Config {
	return e.cfg
}

// Estimate computes the bearing for one window of synchronized samples.
// Silent windows and duplicated mono channels produce an indeterminate
// estimate rather than an error.
func (e *Estimator) Estimate(left, right []float32, sampleRate int) (Estimate, error) {
	if len(left) == 0 || len(right) == 0 {
		return Estimate{}, configError("empty channel buffer")
	}
	if len(left) != len(right) {
		return Estimate{}, errors.Newf("channel lengths differ: %d vs %d", len(left), len(right)).
			Component("bearing").
			Category(errors.CategoryConfiguration).
			Context("left_len", len(left)).
			Context("right_len", len(right)).
			Build()
	}
	if sampleRate <= 0 {
		return Estimate{}, configError("sample rate must be positive")
	}

	l := centered(left)
	r := centered(right)
	rmsL, rmsR := rms(l), rms(r)
	if rmsL < e.cfg.SilenceFloor || rmsR < e.cfg.SilenceFloor {
		return Estimate{}, nil
	}
	if identical(left, right) {
		return Estimate{}, nil
	}

	itd, lag := e.itdCue(l, r, sampleRate)
	ild := e.ildCue(l, r, rmsL, rmsR, sampleRate)

	angle, confidence := e.fuse(itd, ild)
	return Estimate{
		AngleDegrees: angle,
		Confidence:   confidence,
		Determinate:  confidence > 0,
		ITD:          itd,
		ILD:          ild,
		LagSamples:   lag,
	}, nil
}

// itdCue searches lags bounded by the acoustic travel time across the array.
func (e *Estimator) itdCue(l, r []float64, sampleRate int) (Cue, float64) {
	maxLag := int(math.Ceil(e.cfg.MicSeparation / e.cfg.SpeedOfSound * float64(sampleRate)))
	maxLag = min(maxLag, len(l)-1)

	norm := math.Sqrt(energy(l) * energy(r))
	if norm == 0 {
		return Cue{}, 0
	}

	corr := make([]float64, 2*maxLag+1)
	best := 0
	for i := range corr {
		corr[i] = crossCorrelation(l, r, i-maxLag) / norm
		if corr[i] > corr[best] {
			best = i
		}
	}

	lag := float64(best - maxLag)
	peak := corr[best]
	if best > 0 && best < len(corr)-1 {
		offset, refined := parabolicPeak(corr[best-1], corr[best], corr[best+1])
		lag += offset
		peak = refined
	}

	// Periodic content repeats the peak inside the lag range. Confidence is
	// scaled by the margin of the main peak over the strongest alias.
	confidence := clamp(peak, 0, 1)
	if second := sidelobePeak(corr, best); second > 0 && peak > 0 {
		confidence *= clamp((peak-second)/peak, 0, 1)
	}

	delay := lag / float64(sampleRate)
	angle := -degrees(math.Asin(clamp(delay*e.cfg.SpeedOfSound/e.cfg.MicSeparation, -1, 1)))
	return Cue{AngleDegrees: angle, Confidence: confidence}, lag
}

// ildCue maps the level difference through the arcsine calibration curve.
func (e *Estimator) ildCue(l, r []float64, rmsL, rmsR float64, sampleRate int) Cue {
	ildDB := 20 * math.Log10(rmsL/rmsR)
	ratio := ildDB / e.cfg.ILDSaturationDB

	confidence := clamp(math.Abs(ratio), 0, 1)
	if e.cfg.LowFreqCutoffHz > 0 {
		dominant := l
		if rmsR > rmsL {
			dominant = r
		}
		freq := zeroCrossingFrequency(dominant, sampleRate)
		if freq < e.cfg.LowFreqCutoffHz {
			confidence *= freq / e.cfg.LowFreqCutoffHz
		}
	}

	return Cue{
		AngleDegrees: -degrees(math.Asin(clamp(ratio, -1, 1))),
		Confidence:   confidence,
	}
}

// fuse combines both cues with a confidence-weighted circular mean. The fused
// confidence is the contraharmonic mean (c1²+c2²)/(c1+c2), attenuated by the
// weaker cue when the angles differ by more than DisagreementDeg.
func (e *Estimator) fuse(itd, ild Cue) (angle, confidence float64) {
	c1, c2 := itd.Confidence, ild.Confidence
	sum := c1 + c2
	if sum <= 0 {
		return 0, 0
	}

	a1, a2 := radians(itd.AngleDegrees), radians(ild.AngleDegrees)
	angle = degrees(math.Atan2(c1*math.Sin(a1)+c2*math.Sin(a2), c1*math.Cos(a1)+c2*math.Cos(a2)))

	confidence = (c1*c1 + c2*c2) / sum
	if math.Abs(itd.AngleDegrees-ild.AngleDegrees) > e.cfg.DisagreementDeg {
		confidence *= 1 - e.cfg.DisagreementPenalty*min(c1, c2)
	}
	return clamp(angle, -90, 90), clamp(confidence, 0, 1)
}

func configError(msg string) error {
	return errors.New(errors.NewStd(msg)).
		Component("bearing").
		Category(errors.CategoryConfiguration).
		Build()
}
