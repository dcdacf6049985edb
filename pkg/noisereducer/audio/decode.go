// Package audio decodes, resamples, converts and writes the waveforms the
// denoiser works on. Samples are float32 in [-1, 1], mono.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

var (
	ErrInvalidWAV        = errors.New("audio: not a valid WAV file")
	ErrUnsupportedFormat = errors.New("audio: unsupported sample format")
)

const wavFormatIEEEFloat = 3

// Clip is a decoded mono waveform with its native sample rate.
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
	BitDepth   int
}

// Duration returns the clip length.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// DecodeWAV reads a PCM or 32-bit float WAV stream, normalises it to
// [-1, 1] and averages all channels down to mono.
func DecodeWAV(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode pcm: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, ErrInvalidWAV
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidWAV, channels)
	}
	bitDepth := int(dec.BitDepth)

	toFloat, err := sampleConverter(int(dec.WavAudioFormat), bitDepth)
	if err != nil {
		return nil, err
	}

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += toFloat(buf.Data[i*channels+c])
		}
		samples[i] = float32(sum / float64(channels))
	}

	return &Clip{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
	}, nil
}

func sampleConverter(format, bitDepth int) (func(int) float64, error) {
	if format == wavFormatIEEEFloat {
		if bitDepth != 32 {
			return nil, fmt.Errorf("%w: %d-bit float", ErrUnsupportedFormat, bitDepth)
		}
		return func(v int) float64 {
			return float64(math.Float32frombits(uint32(int32(v))))
		}, nil
	}

	switch bitDepth {
	case 8:
		// 8-bit PCM is unsigned with a 128 midpoint.
		return func(v int) float64 { return float64(v-128) / 128 }, nil
	case 16, 24, 32:
		scale := float64(int64(1) << (bitDepth - 1))
		return func(v int) float64 { return float64(v) / scale }, nil
	default:
		return nil, fmt.Errorf("%w: %d-bit pcm", ErrUnsupportedFormat, bitDepth)
	}
}

// DecodeFile opens path and decodes it as WAV.
func DecodeFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer f.Close()

	clip, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return clip, nil
}

// Loader is the decode collaborator: it turns any audio file into a mono
// waveform at a requested rate. WAV files are decoded in-process; other
// containers are converted with ffmpeg first.
type Loader struct {
	// TempDir receives intermediate ffmpeg output. Empty means os.TempDir().
	TempDir string
	// FFmpeg overrides the ffmpeg executable.
	FFmpeg string
}

// NewLoader returns a Loader using the system temp directory.
func NewLoader() *Loader {
	return &Loader{}
}

// Load decodes path and resamples it to targetRate.
func (l *Loader) Load(ctx context.Context, path string, targetRate int) ([]float32, error) {
	clip, err := l.Decode(ctx, path, targetRate)
	if err != nil {
		return nil, err
	}
	if clip.SampleRate == targetRate {
		return clip.Samples, nil
	}
	out, err := Resample(clip.Samples, clip.SampleRate, targetRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Decode returns the clip at its native rate. Non-WAV inputs are converted
// with ffmpeg at convertRate.
func (l *Loader) Decode(ctx context.Context, path string, convertRate int) (*Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		clip, err := DecodeFile(path)
		if err == nil || !errors.Is(err, ErrInvalidWAV) {
			return clip, err
		}
	}

	tmpDir, err := os.MkdirTemp(l.TempDir, "noisereducer-convert-*")
	if err != nil {
		return nil, fmt.Errorf("audio: temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	converted, err := ConvertToMonoWAV(ctx, path, tmpDir, ConvertWAVConfig{SampleRate: convertRate, Binary: l.FFmpeg})
	if err != nil {
		return nil, fmt.Errorf("audio: convert %s: %w", path, err)
	}
	return DecodeFile(converted)
}
