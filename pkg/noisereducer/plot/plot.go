// Package plot renders the before/after comparison image returned with
// every denoising job.
package plot

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/eligwz/spectrogram"

	"github.com/himanishpuri/NoiseReducer/pkg/utils"
)

// Options controls the image geometry.
type Options struct {
	Width       int
	PanelHeight int
	Gap         int
}

func DefaultOptions() Options {
	return Options{Width: 1200, PanelHeight: 200, Gap: 8}
}

var (
	background = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	axis       = color.RGBA{R: 0xc8, G: 0xc8, B: 0xc8, A: 0xff}
	noisyInk   = color.RGBA{R: 0xd6, G: 0x4b, B: 0x3c, A: 0xff}
	cleanInk   = color.RGBA{R: 0x1f, G: 0x6f, B: 0xb4, A: 0xff}
)

// Comparison writes a PNG with four stacked panels: noisy waveform,
// denoised waveform, noisy spectrogram, denoised spectrogram.
func Comparison(noisy, denoised []float32, rate int, w io.Writer) error {
	return ComparisonWithOptions(noisy, denoised, rate, DefaultOptions(), w)
}

func ComparisonWithOptions(noisy, denoised []float32, rate int, opts Options, w io.Writer) error {
	img, err := Render(noisy, denoised, rate, opts)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("plot: encode png: %w", err)
	}
	return nil
}

// ComparisonFile writes the comparison PNG to path atomically.
func ComparisonFile(path string, noisy, denoised []float32, rate int) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		return Comparison(noisy, denoised, rate, w)
	})
}

// Render builds the comparison image in memory.
func Render(noisy, denoised []float32, rate int, opts Options) (*image.RGBA, error) {
	if len(noisy) == 0 || len(denoised) == 0 {
		return nil, errors.New("plot: empty waveform")
	}
	if rate <= 0 {
		return nil, fmt.Errorf("plot: invalid sample rate %d", rate)
	}
	if opts.Width < 16 || opts.PanelHeight < 16 {
		return nil, fmt.Errorf("plot: image too small (%dx%d)", opts.Width, opts.PanelHeight)
	}

	height := 4*opts.PanelHeight + 3*opts.Gap
	canvas := image.NewRGBA(image.Rect(0, 0, opts.Width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	panel := func(i int) image.Rectangle {
		y := i * (opts.PanelHeight + opts.Gap)
		return image.Rect(0, y, opts.Width, y+opts.PanelHeight)
	}

	drawWaveform(canvas, panel(0), noisy, noisyInk)
	drawWaveform(canvas, panel(1), denoised, cleanInk)

	for i, samples := range [][]float32{noisy, denoised} {
		r := panel(2 + i)
		spec, err := renderSpectrogram(samples, rate, r.Dx(), r.Dy())
		if err != nil {
			return nil, err
		}
		draw.Draw(canvas, r, spec, spec.Bounds().Min, draw.Src)
	}
	return canvas, nil
}

// drawWaveform draws a min/max envelope per pixel column.
func drawWaveform(dst *image.RGBA, r image.Rectangle, samples []float32, ink color.RGBA) {
	mid := r.Min.Y + r.Dy()/2
	half := float64(r.Dy()/2 - 1)
	for x := r.Min.X; x < r.Max.X; x++ {
		dst.SetRGBA(x, mid, axis)
	}

	n := len(samples)
	width := r.Dx()
	for col := 0; col < width; col++ {
		lo := col * n / width
		hi := (col + 1) * n / width
		if hi <= lo {
			hi = lo + 1
		}
		if lo >= n {
			break
		}
		minV, maxV := float32(1), float32(-1)
		for _, v := range samples[lo:min(hi, n)] {
			v = max(-1, min(1, v))
			minV = min(minV, v)
			maxV = max(maxV, v)
		}
		yTop := mid - int(float64(maxV)*half)
		yBot := mid - int(float64(minV)*half)
		for y := yTop; y <= yBot; y++ {
			dst.SetRGBA(r.Min.X+col, y, ink)
		}
	}
}

func renderSpectrogram(samples []float32, rate, width, height int) (img *spectrogram.Image128, err error) {
	// Trailing silence keeps the last analysis windows inside the buffer.
	n := max(len(samples), width) + 4*height
	buf := make([]float64, n)
	for i, v := range samples {
		buf[i] = float64(v)
	}

	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("plot: spectrogram: %v", r)
		}
	}()

	img = spectrogram.NewImage128(image.Rect(0, 0, width, height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	spectrogram.Drawfft(
		img,
		buf,
		uint32(rate),
		uint32(height), // bins
		false,          // Hamming window
		false,          // FFT rather than DFT
		true,           // magnitude
		false,          // linear scale
	)
	return img, nil
}
