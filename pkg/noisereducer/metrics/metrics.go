// Package metrics scores denoised speech against a clean reference.
package metrics

import (
	"errors"
	"fmt"
	"math"
)

var ErrLengthMismatch = errors.New("metrics: signals differ in length")

// epsilon keeps logarithms finite for silent or perfect signals.
const epsilon = 1e-10

func check(a, b []float32) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return errors.New("metrics: empty signal")
	}
	return nil
}

// SNR is the signal-to-noise ratio in dB of estimate against clean.
func SNR(clean, estimate []float32) (float64, error) {
	if err := check(clean, estimate); err != nil {
		return 0, err
	}
	var sig, noise float64
	for i := range clean {
		c, e := float64(clean[i]), float64(estimate[i])
		sig += c * c
		noise += (c - e) * (c - e)
	}
	return 10 * math.Log10((sig+epsilon)/(noise+epsilon)), nil
}

// SISDR is the scale-invariant signal-to-distortion ratio in dB.
func SISDR(clean, estimate []float32) (float64, error) {
	if err := check(clean, estimate); err != nil {
		return 0, err
	}
	var dot, energy float64
	for i := range clean {
		dot += float64(clean[i]) * float64(estimate[i])
		energy += float64(clean[i]) * float64(clean[i])
	}
	alpha := dot / (energy + epsilon)

	var target, residual float64
	for i := range clean {
		t := alpha * float64(clean[i])
		r := float64(estimate[i]) - t
		target += t * t
		residual += r * r
	}
	return 10 * math.Log10((target+epsilon)/(residual+epsilon)), nil
}

// LogSpectralDistance is the mean over frames of the RMS difference, in dB,
// between the power spectra of a and b. frameSize <= 0 selects the default.
func LogSpectralDistance(a, b []float32, frameSize int) (float64, error) {
	if err := check(a, b); err != nil {
		return 0, err
	}
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	hop := max(frameSize/2, 1)

	sa, err := STFT(a, frameSize, hop)
	if err != nil {
		return 0, err
	}
	sb, err := STFT(b, frameSize, hop)
	if err != nil {
		return 0, err
	}

	var total float64
	for f := range sa {
		var sum float64
		for k := range sa[f] {
			pa := 10 * math.Log10(sa[f][k]*sa[f][k]+epsilon)
			pb := 10 * math.Log10(sb[f][k]*sb[f][k]+epsilon)
			sum += (pa - pb) * (pa - pb)
		}
		total += math.Sqrt(sum / float64(len(sa[f])))
	}
	return total / float64(len(sa)), nil
}

// Report compares a noisy input and a denoised output with the clean
// reference.
type Report struct {
	InputSNR    float64 `json:"input_snr_db"`
	OutputSNR   float64 `json:"output_snr_db"`
	InputSISDR  float64 `json:"input_si_sdr_db"`
	OutputSISDR float64 `json:"output_si_sdr_db"`
	LSD         float64 `json:"lsd_db"`
}

// Improvement is the SI-SDR gain in dB.
func (r Report) Improvement() float64 {
	return r.OutputSISDR - r.InputSISDR
}

func Evaluate(clean, noisy, denoised []float32) (Report, error) {
	var r Report
	var err error
	if r.InputSNR, err = SNR(clean, noisy); err != nil {
		return r, err
	}
	if r.OutputSNR, err = SNR(clean, denoised); err != nil {
		return r, err
	}
	if r.InputSISDR, err = SISDR(clean, noisy); err != nil {
		return r, err
	}
	if r.OutputSISDR, err = SISDR(clean, denoised); err != nil {
		return r, err
	}
	if r.LSD, err = LogSpectralDistance(clean, denoised, 0); err != nil {
		return r, err
	}
	return r, nil
}
