package metrics

import (
	"errors"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	DefaultFrameSize = 512
	DefaultHopSize   = 256
)

// MagnitudeSpectrum keeps the non-negative frequency half of spectrum.
func MagnitudeSpectrum(spectrum []complex128) []float64 {
	half := len(spectrum)/2 + 1
	if half > len(spectrum) {
		half = len(spectrum)
	}
	mag := make([]float64, half)
	for i := range mag {
		mag[i] = cmplx.Abs(spectrum[i])
	}
	return mag
}

// STFT returns Hamming-windowed magnitude frames of samples. Samples
// shorter than one frame are zero-padded to a single frame.
func STFT(samples []float32, frameSize, hopSize int) ([][]float64, error) {
	if frameSize < 2 || hopSize < 1 {
		return nil, errors.New("metrics: frame size must be >= 2 and hop size >= 1")
	}
	if len(samples) == 0 {
		return nil, errors.New("metrics: empty signal")
	}

	win := window.Hamming(frameSize)
	var frames [][]float64
	for start := 0; ; start += hopSize {
		frame := make([]float64, frameSize)
		for i := 0; i < frameSize && start+i < len(samples); i++ {
			frame[i] = float64(samples[start+i]) * win[i]
		}
		frames = append(frames, MagnitudeSpectrum(fft.FFTReal(frame)))
		if start+frameSize >= len(samples) {
			break
		}
	}
	return frames, nil
}
