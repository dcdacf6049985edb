package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/dataset"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/denoiser"
)

const testLength = 64

// synthDecoder serves a sine for clean/<id> and the same sine plus
// seeded noise for noisy/<id>.
type synthDecoder struct{}

func (synthDecoder) Load(_ context.Context, path string, _ int) ([]float32, error) {
	kind, id, ok := strings.Cut(path, "/")
	if !ok {
		return nil, fmt.Errorf("bad path %q", path)
	}
	var seed uint64
	for _, c := range id {
		seed = seed*31 + uint64(c)
	}
	rng := rand.New(rand.NewPCG(seed, 7))
	phase := rng.Float64() * 2 * math.Pi
	out := make([]float32, testLength)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(phase+float64(i)*0.2))
		if kind == "noisy" {
			out[i] += float32(rng.NormFloat64() * 0.1)
		}
	}
	return out, nil
}

func newTestDataset(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	var m dataset.Manifest
	for i := range n {
		id := fmt.Sprintf("s%02d", i)
		m.Entries = append(m.Entries, dataset.Entry{ID: id, Noisy: "noisy/" + id, Clean: "clean/" + id})
	}
	ds, err := dataset.NewFromManifest(m,
		dataset.WithDecoder(synthDecoder{}),
		dataset.WithTargetLength(testLength),
		dataset.WithWorkers(2),
	)
	require.NoError(t, err)
	return ds
}

func referenceOutput(t *testing.T, net *denoiser.Network) []float32 {
	t.Helper()
	x := make([]float32, testLength)
	for i := range x {
		x[i] = float32(math.Cos(float64(i) * 0.3))
	}
	out, err := net.Denoise(x)
	require.NoError(t, err)
	return out
}

func TestFitReducesLoss(t *testing.T) {
	ds := newTestDataset(t, 4)
	tr, err := New(denoiser.NewSeeded(1), WithSeed(2), WithWorkers(2))
	require.NoError(t, err)

	before, err := tr.Evaluate(context.Background(), ds, 4)
	require.NoError(t, err)

	history, err := tr.Fit(context.Background(), ds, 20, 2)
	require.NoError(t, err)
	require.Len(t, history, 20)
	assert.Equal(t, 40, tr.Steps())
	for i, s := range history {
		assert.Equal(t, i+1, s.Epoch)
		assert.Equal(t, 2, s.Batches)
		assert.Equal(t, 4, s.Samples)
		assert.Zero(t, s.EvalLoss)
	}

	after, err := tr.Evaluate(context.Background(), ds, 4)
	require.NoError(t, err)
	assert.Less(t, after, before)
}

func TestStepMatchesSequentialUpdate(t *testing.T) {
	ds := newTestDataset(t, 4)
	var batch dataset.Batch
	for b, err := range ds.Batches(context.Background(), 4, nil) {
		require.NoError(t, err)
		batch = b
	}
	require.Len(t, batch.Pairs, 4)

	ref := denoiser.NewSeeded(9)
	opt, err := denoiser.NewAdam(ref, denoiser.DefaultAdamConfig())
	require.NoError(t, err)
	g := ref.NewGradients()
	var want float64
	for _, p := range batch.Pairs {
		l, err := ref.LossAndGradients(p.NoisyWave, p.CleanWave, g)
		require.NoError(t, err)
		want += l
	}
	want /= 4
	g.Scale(0.25)
	opt.Step(g)

	tr, err := New(denoiser.NewSeeded(9), WithWorkers(3))
	require.NoError(t, err)
	loss, err := tr.Step(batch)
	require.NoError(t, err)

	assert.InDelta(t, want, loss, 1e-9)
	assert.InDeltaSlice(t, toFloat64(referenceOutput(t, ref)), toFloat64(referenceOutput(t, tr.Network())), 1e-5)
}

func TestFitDeterministic(t *testing.T) {
	run := func() []float32 {
		tr, err := New(denoiser.NewSeeded(3), WithSeed(11), WithWorkers(3))
		require.NoError(t, err)
		_, err = tr.Fit(context.Background(), newTestDataset(t, 5), 3, 2)
		require.NoError(t, err)
		return referenceOutput(t, tr.Network())
	}
	assert.Equal(t, run(), run())
}

func TestStepEmptyBatch(t *testing.T) {
	tr, err := New(denoiser.NewSeeded(1))
	require.NoError(t, err)
	_, err = tr.Step(dataset.Batch{})
	require.ErrorIs(t, err, ErrEmptyBatch)
	assert.Zero(t, tr.Steps())
}

func TestFitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := New(denoiser.NewSeeded(1))
	require.NoError(t, err)
	history, err := tr.Fit(ctx, newTestDataset(t, 4), 3, 2)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, history)
	assert.Zero(t, tr.Steps())
}

func TestFitCallbackStops(t *testing.T) {
	stop := errors.New("stop")
	var seen []int
	tr, err := New(denoiser.NewSeeded(1), WithEpochCallback(func(s EpochStats) error {
		seen = append(seen, s.Epoch)
		if s.Epoch == 2 {
			return stop
		}
		return nil
	}))
	require.NoError(t, err)

	history, err := tr.Fit(context.Background(), newTestDataset(t, 2), 5, 2)
	require.ErrorIs(t, err, stop)
	assert.Len(t, history, 2)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestFitCheckpointAndEval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt", "denoiser.msgpack")
	eval := newTestDataset(t, 2)

	tr, err := New(denoiser.NewSeeded(4), WithCheckpoint(path), WithEvalSet(eval), WithShuffle(false))
	require.NoError(t, err)
	history, err := tr.Fit(context.Background(), newTestDataset(t, 3), 2, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Positive(t, history[1].EvalLoss)

	loaded, err := denoiser.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, referenceOutput(t, tr.Network()), referenceOutput(t, loaded))
}

func TestInvalidArguments(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	_, err = New(denoiser.NewSeeded(1), WithWorkers(0))
	require.Error(t, err)
	_, err = New(denoiser.NewSeeded(1), WithAdam(denoiser.AdamConfig{LearningRate: 1e-3}))
	require.Error(t, err)

	tr, err := New(denoiser.NewSeeded(1))
	require.NoError(t, err)
	ds := newTestDataset(t, 2)
	_, err = tr.Fit(context.Background(), ds, 0, 2)
	require.Error(t, err)
	_, err = tr.Fit(context.Background(), ds, 1, 0)
	require.Error(t, err)
}

func toFloat64(s []float32) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}
