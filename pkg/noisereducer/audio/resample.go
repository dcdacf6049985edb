package audio

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

type ratePair struct{ from, to int }

// offsets caches the measured output offset per rate pair.
var offsets sync.Map

// Resample converts mono samples from one rate to another. The result has
// exactly round(len(samples) * to / from) samples and input sample i lands
// at output index i * to / from.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	offset, err := outputOffset(from, to)
	if err != nil {
		return nil, err
	}

	lead := leadIn(from, to)
	input := make([]float64, lead+len(samples)+from/10)
	for i, v := range samples {
		input[lead+i] = float64(v)
	}
	output, err := process(from, to, input)
	if err != nil {
		return nil, err
	}

	start := lead*to/from + offset
	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]float32, want)
	for i := range out {
		if j := start + i; j >= 0 && j < len(output) {
			out[i] = float32(output[j])
		}
	}
	return out, nil
}

func process(from, to int, input []float64) ([]float64, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	out, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	rest, err := rs.Flush()
	if err != nil {
		return nil, fmt.Errorf("audio: resample flush: %w", err)
	}
	return append(out, rest...), nil
}

// period is the input sample spacing at which input and output grids
// coincide.
func period(from, to int) int {
	a, b := from, to
	for b != 0 {
		a, b = b, a%b
	}
	return from / a
}

// leadIn is the silence prepended before resampling: at least 100ms and a
// whole number of periods, so the filter has room on both sides.
func leadIn(from, to int) int {
	p := period(from, to)
	return (from/10 + p - 1) / p * p
}

// outputOffset measures where the resampler puts an impulse relative to its
// ideal position, framed exactly as Resample frames real input.
func outputOffset(from, to int) (int, error) {
	key := ratePair{from, to}
	if v, ok := offsets.Load(key); ok {
		return v.(int), nil
	}

	p := period(from, to)
	lead := leadIn(from, to)
	at := lead + (from/20+p-1)/p*p
	input := make([]float64, at*2+from/10)
	input[at] = 1

	output, err := process(from, to, input)
	if err != nil {
		return 0, err
	}
	if len(output) == 0 {
		return 0, fmt.Errorf("audio: resampler produced no output for %d -> %d", from, to)
	}
	peak := 0
	for i, v := range output {
		if math.Abs(v) > math.Abs(output[peak]) {
			peak = i
		}
	}

	offset := peak - at*to/from
	offsets.Store(key, offset)
	return offset, nil
}
