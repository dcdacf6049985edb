package denoiser

import (
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomWaveform(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64() * 0.3)
	}
	return out
}

func TestConv1DForwardHandComputed(t *testing.T) {
	t.Run("cross-correlation with padding", func(t *testing.T) {
		c := newConv1D(1, 1, 3, 1)
		copy(c.Weight, []float32{1, 2, 3})
		c.Bias[0] = 0.5

		out := c.forward([]float32{1, 2, 3, 4}, 4)
		assert.Equal(t, []float32{8.5, 14.5, 20.5, 11.5}, out)
	})

	t.Run("sums over input channels", func(t *testing.T) {
		c := newConv1D(2, 1, 1, 0)
		copy(c.Weight, []float32{2, -1})

		out := c.forward([]float32{1, 2, 3, 5}, 2)
		assert.Equal(t, []float32{-1, -1}, out)
	})

	t.Run("one row per output channel", func(t *testing.T) {
		c := newConv1D(1, 2, 1, 0)
		copy(c.Weight, []float32{1, -2})
		copy(c.Bias, []float32{0, 1})

		out := c.forward([]float32{3, 4}, 2)
		assert.Equal(t, []float32{3, 4, -5, -7}, out)
	})
}

func TestConv1DBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	const n = 10
	c := newConv1D(2, 3, 5, 2)
	c.initUniform(rng)
	x := randomWaveform(rng, 2*n)
	r := randomWaveform(rng, 3*n)

	// L = sum(out * r) is linear in every parameter and input value.
	loss := func() float64 {
		out := c.forward(x, n)
		var s float64
		for i := range out {
			s += float64(out[i]) * float64(r[i])
		}
		return s
	}

	g := layerGrad{Weight: make([]float32, len(c.Weight)), Bias: make([]float32, len(c.Bias))}
	gx := c.backward(x, n, r, &g, true)

	const eps = 1e-2
	numeric := func(p *float32) float64 {
		orig := *p
		*p = orig + eps
		plus := loss()
		*p = orig - eps
		minus := loss()
		*p = orig
		return (plus - minus) / (2 * eps)
	}

	for i := range c.Weight {
		assert.InDelta(t, numeric(&c.Weight[i]), float64(g.Weight[i]), 5e-2, "weight %d", i)
	}
	for i := range c.Bias {
		assert.InDelta(t, numeric(&c.Bias[i]), float64(g.Bias[i]), 5e-2, "bias %d", i)
	}
	for i := range x {
		assert.InDelta(t, numeric(&x[i]), float64(gx[i]), 5e-2, "input %d", i)
	}
}

func TestForwardPreservesLength(t *testing.T) {
	net := NewSeeded(1)
	rng := rand.New(rand.NewPCG(1, 2))

	for _, length := range []int{1, 2, 7, 14, 15, 16, 100, 1023} {
		x := FromWaveform(randomWaveform(rng, length))
		y, err := net.Forward(x)
		require.NoError(t, err, "length %d", length)
		assert.Equal(t, []int{1, 1, length}, y.Shape)
		assert.Len(t, y.Data, length)
	}
}

func TestForwardBatch(t *testing.T) {
	net := NewSeeded(2)
	rng := rand.New(rand.NewPCG(3, 4))
	a, b := randomWaveform(rng, 64), randomWaveform(rng, 64)

	x, err := FromBatch([][]float32{a, b})
	require.NoError(t, err)
	y, err := net.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []int{2, 1, 64}, y.Shape)

	// Batch items are independent of each other.
	da, err := net.Denoise(a)
	require.NoError(t, err)
	db, err := net.Denoise(b)
	require.NoError(t, err)
	assert.Equal(t, da, y.Waveform(0))
	assert.Equal(t, db, y.Waveform(1))
}

func TestForwardDeterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	x := FromWaveform(randomWaveform(rng, 500))

	net := NewSeeded(42)
	y1, err := net.Forward(x)
	require.NoError(t, err)
	y2, err := net.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, y1.Data, y2.Data)

	y3, err := NewSeeded(42).Forward(x)
	require.NoError(t, err)
	assert.Equal(t, y1.Data, y3.Data)
}

func TestForwardDoesNotMutateInput(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 9))
	samples := randomWaveform(rng, 200)
	orig := append([]float32(nil), samples...)

	_, err := NewSeeded(3).Denoise(samples)
	require.NoError(t, err)
	assert.Equal(t, orig, samples)
}

func TestZeroInputProducesFiniteOutput(t *testing.T) {
	y, err := NewSeeded(9).Forward(NewTensor(1, 1, 1000))
	require.NoError(t, err)
	require.Len(t, y.Data, 1000)
	for i, v := range y.Data {
		require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), "sample %d = %v", i, v)
	}
}

func TestForwardShapeErrors(t *testing.T) {
	net := NewSeeded(1)
	tests := []struct {
		name string
		x    *Tensor
	}{
		{"nil", nil},
		{"rank 2", NewTensor(1, 10)},
		{"two channels", NewTensor(1, 2, 10)},
		{"empty sequence", NewTensor(1, 1, 0)},
		{"empty batch", NewTensor(0, 1, 10)},
		{"data mismatch", &Tensor{Shape: []int{1, 1, 10}, Data: make([]float32, 9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := net.Forward(tt.x)
			require.ErrorIs(t, err, ErrShapeMismatch)
		})
	}

	_, err := net.Denoise(nil)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestForwardConcurrent(t *testing.T) {
	net := NewSeeded(11)
	rng := rand.New(rand.NewPCG(12, 13))
	x := FromWaveform(randomWaveform(rng, 300))
	want, err := net.Forward(x)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]float32, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			y, err := net.Forward(x)
			if err == nil {
				results[i] = y.Data
			}
		}()
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, want.Data, got)
	}
}

func TestDenoiseChunkedMatchesSinglePass(t *testing.T) {
	require.Equal(t, Padding*len(topology), receptiveRadius)

	rng := rand.New(rand.NewPCG(8, 9))
	net := NewSeeded(8)
	samples := randomWaveform(rng, 1000)
	whole, _ := net.forwardItem(samples, len(samples), false)

	tests := []struct {
		name  string
		chunk int
	}{
		{"tiny chunks", 1},
		{"uneven tail", 97},
		{"radius sized", receptiveRadius},
		{"two chunks", 500},
		{"single pass", DenoiseChunk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := net.denoiseChunked(samples, tt.chunk)
			require.Len(t, got, len(samples))
			assert.InDeltaSlice(t, toFloat64(whole), toFloat64(got), 1e-6)
		})
	}
}

func TestDenoiseLongClip(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	net := NewSeeded(3)
	samples := randomWaveform(rng, DenoiseChunk*2+123)

	out, err := net.Denoise(samples)
	require.NoError(t, err)
	require.Len(t, out, len(samples))

	// Samples either side of a chunk seam match a pass over a window around it.
	seam := DenoiseChunk
	lo, hi := seam-3*receptiveRadius, seam+3*receptiveRadius
	window, _ := net.forwardItem(samples[lo:hi], hi-lo, false)
	for i := seam - receptiveRadius; i < seam+receptiveRadius; i++ {
		assert.InDelta(t, window[i-lo], out[i], 1e-6, "sample %d", i)
	}
}

func TestTopology(t *testing.T) {
	layers := NewSeeded(1).Layers()
	require.Len(t, layers, 4)

	want := []LayerInfo{
		{Name: "encoder.0", In: 1, Out: 16, Kernel: 15, Padding: 7, ReLU: true, Params: 16*1*15 + 16},
		{Name: "encoder.2", In: 16, Out: 8, Kernel: 15, Padding: 7, ReLU: true, Params: 8*16*15 + 8},
		{Name: "decoder.0", In: 8, Out: 16, Kernel: 15, Padding: 7, ReLU: true, Params: 16*8*15 + 16},
		{Name: "decoder.2", In: 16, Out: 1, Kernel: 15, Padding: 7, ReLU: false, Params: 1*16*15 + 1},
	}
	assert.Equal(t, want, layers)
	assert.Equal(t, 256+1928+1936+241, NewSeeded(1).NumParams())
}

func TestInitWithinFanInBound(t *testing.T) {
	net := NewSeeded(21)
	for _, l := range net.layers {
		bound := float32(1 / math.Sqrt(float64(l.In*l.Kernel)))
		for _, w := range l.Weight {
			require.LessOrEqual(t, w, bound)
			require.GreaterOrEqual(t, w, -bound)
		}
		for _, b := range l.Bias {
			require.LessOrEqual(t, b, bound)
			require.GreaterOrEqual(t, b, -bound)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	net := NewSeeded(4)
	cp := net.Clone()
	cp.layers[0].Weight[0] += 1
	assert.NotEqual(t, net.layers[0].Weight[0], cp.layers[0].Weight[0])
}
