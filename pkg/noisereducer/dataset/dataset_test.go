package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/NoiseReducer/internal/kv"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/audio"
)

type fakeDecoder struct {
	mu    sync.Mutex
	data  map[string][]float32
	fail  map[string]error
	calls map[string]int
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{
		data:  map[string][]float32{},
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeDecoder) Load(ctx context.Context, path string, _ int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++
	if err := f.fail[path]; err != nil {
		return nil, err
	}
	if s, ok := f.data[path]; ok {
		return slices.Clone(s), nil
	}
	return []float32{0.5}, nil
}

func (f *fakeDecoder) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
}

func TestPairsSortedListingsByPosition(t *testing.T) {
	root := t.TempDir()
	noisyDir, cleanDir := filepath.Join(root, "noisy"), filepath.Join(root, "clean")
	touch(t, noisyDir, "c.wav", "a.wav", "b.wav")
	touch(t, cleanDir, "b.wav", "a.wav")

	ds, err := New(noisyDir, cleanDir, WithDecoder(newFakeDecoder()), WithTargetLength(8))
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	noisy, clean := ds.Counts()
	assert.Equal(t, 3, noisy)
	assert.Equal(t, 2, clean)

	for i, name := range []string{"a.wav", "b.wav"} {
		p, err := ds.Get(context.Background(), i)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(noisyDir, name), p.Noisy)
		assert.Equal(t, filepath.Join(cleanDir, name), p.Clean)
		assert.Len(t, p.NoisyWave, 8)
		assert.Len(t, p.CleanWave, 8)
	}

	_, err = ds.Get(context.Background(), 2)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = ds.Get(context.Background(), -1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestLengthIsMinOfListings(t *testing.T) {
	tests := []struct {
		noisy, clean, want int
	}{
		{0, 0, 0},
		{3, 0, 0},
		{2, 5, 2},
		{4, 4, 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.noisy, tt.clean), func(t *testing.T) {
			root := t.TempDir()
			noisyDir, cleanDir := filepath.Join(root, "n"), filepath.Join(root, "c")
			touch(t, noisyDir)
			touch(t, cleanDir)
			for i := range tt.noisy {
				touch(t, noisyDir, fmt.Sprintf("%03d.wav", i))
			}
			for i := range tt.clean {
				touch(t, cleanDir, fmt.Sprintf("%03d.wav", i))
			}

			ds, err := New(noisyDir, cleanDir, WithDecoder(newFakeDecoder()))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ds.Len())
		})
	}
}

func TestListingFilters(t *testing.T) {
	root := t.TempDir()
	noisyDir, cleanDir := filepath.Join(root, "noisy"), filepath.Join(root, "clean")
	touch(t, noisyDir, "B.WAV", "a.wav", ".hidden.wav", "notes.txt")
	require.NoError(t, os.Mkdir(filepath.Join(noisyDir, "sub.wav"), 0o755))
	touch(t, cleanDir, "1.wav", "2.wav", "3.wav", "4.wav")

	ids := func(ds *Dataset) []string {
		var out []string
		for i := range ds.Len() {
			e, err := ds.Entry(i)
			require.NoError(t, err)
			out = append(out, e.ID)
		}
		return out
	}

	// Suffix match is case-sensitive and dot files are kept by default.
	ds, err := New(noisyDir, cleanDir, WithDecoder(newFakeDecoder()))
	require.NoError(t, err)
	assert.Equal(t, []string{".hidden", "a"}, ids(ds))

	ds, err = New(noisyDir, cleanDir, WithDecoder(newFakeDecoder()),
		WithCaseInsensitiveExtension(), WithSkipHidden())
	require.NoError(t, err)
	// Byte order sorts upper case first.
	assert.Equal(t, []string{"B", "a"}, ids(ds))
}

func TestListingFollowsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	store := filepath.Join(root, "store")
	touch(t, store, "a.wav", "b.wav")
	noisyDir, cleanDir := filepath.Join(root, "noisy"), filepath.Join(root, "clean")
	require.NoError(t, os.MkdirAll(noisyDir, 0o755))
	touch(t, cleanDir, "a.wav", "b.wav", "c.wav")

	require.NoError(t, os.Symlink(filepath.Join(store, "a.wav"), filepath.Join(noisyDir, "a.wav")))
	require.NoError(t, os.Symlink(filepath.Join(store, "b.wav"), filepath.Join(noisyDir, "b.wav")))
	require.NoError(t, os.Symlink(filepath.Join(store, "gone.wav"), filepath.Join(noisyDir, "broken.wav")))
	require.NoError(t, os.Symlink(store, filepath.Join(noisyDir, "dir.wav")))

	ds, err := New(noisyDir, cleanDir, WithDecoder(newFakeDecoder()))
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	e, err := ds.Entry(1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(noisyDir, "b.wav"), e.Noisy)
}

func TestMissingDirectory(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "clean"), "a.wav")

	_, err := New(filepath.Join(root, "missing"), filepath.Join(root, "clean"))
	require.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	root := t.TempDir()
	_, err := New(root, root, WithTargetLength(0))
	require.Error(t, err)
	_, err = New(root, root, WithSampleRate(-1))
	require.Error(t, err)
}

func TestGetPadsWithZeros(t *testing.T) {
	root := t.TempDir()
	noisyDir, cleanDir := filepath.Join(root, "noisy"), filepath.Join(root, "clean")
	touch(t, noisyDir, "x.wav")
	touch(t, cleanDir, "x.wav")

	dec := newFakeDecoder()
	dec.data[filepath.Join(noisyDir, "x.wav")] = []float32{0.1, 0.2, 0.3}
	dec.data[filepath.Join(cleanDir, "x.wav")] = []float32{-0.1, -0.2, -0.3, -0.4, -0.5}

	ds, err := New(noisyDir, cleanDir, WithDecoder(dec), WithTargetLength(5))
	require.NoError(t, err)

	p, err := ds.Get(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0, 0}, p.NoisyWave)
	assert.Equal(t, []float32{-0.1, -0.2, -0.3, -0.4, -0.5}, p.CleanWave)
}

func TestOverflowPolicy(t *testing.T) {
	root := t.TempDir()
	noisyDir, cleanDir := filepath.Join(root, "noisy"), filepath.Join(root, "clean")
	touch(t, noisyDir, "x.wav")
	touch(t, cleanDir, "x.wav")

	dec := newFakeDecoder()
	long := filepath.Join(noisyDir, "x.wav")
	dec.data[long] = []float32{1, 2, 3, 4, 5, 6}

	ds, err := New(noisyDir, cleanDir, WithDecoder(dec), WithTargetLength(5))
	require.NoError(t, err)
	_, err = ds.Get(context.Background(), 0)
	require.ErrorIs(t, err, ErrWaveformTooLong)
	assert.Contains(t, err.Error(), long)

	ds, err = New(noisyDir, cleanDir, WithDecoder(dec), WithTargetLength(5), WithOverflowPolicy(OverflowTruncate))
	require.NoError(t, err)
	p, err := ds.Get(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5}, p.NoisyWave)
}

func TestPad(t *testing.T) {
	in := []float32{1, 2}
	out, err := Pad(in, 2, OverflowReject)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	out[0] = 9
	assert.Equal(t, float32(1), in[0], "Pad must not alias its input")

	out, err = Pad(nil, 3, OverflowReject)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, out)

	_, err = Pad(in, 0, OverflowReject)
	require.Error(t, err)

	_, err = Pad([]float32{1, 2, 3}, 2, OverflowReject)
	require.ErrorIs(t, err, ErrWaveformTooLong)
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("truncate")
	require.NoError(t, err)
	assert.Equal(t, OverflowTruncate, p)
	assert.Equal(t, "truncate", p.String())

	p, err = ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OverflowReject, p)

	_, err = ParseOverflowPolicy("wrap")
	require.Error(t, err)
}

func TestGetDecodesRealWAV(t *testing.T) {
	root := t.TempDir()
	noisyDir, cleanDir := filepath.Join(root, "noisy"), filepath.Join(root, "clean")
	require.NoError(t, os.MkdirAll(noisyDir, 0o755))
	require.NoError(t, os.MkdirAll(cleanDir, 0o755))

	tone := make([]float32, 100)
	for i := range tone {
		tone[i] = 0.25
	}
	require.NoError(t, audio.WriteWAV(filepath.Join(noisyDir, "s.wav"), tone, 16000))
	require.NoError(t, audio.WriteWAV(filepath.Join(cleanDir, "s.wav"), tone[:50], 16000))

	ds, err := New(noisyDir, cleanDir, WithTargetLength(200))
	require.NoError(t, err)

	p, err := ds.Get(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, p.NoisyWave, 200)
	assert.InDelta(t, 0.25, p.NoisyWave[99], 1e-3)
	assert.Zero(t, p.NoisyWave[100])
	assert.InDelta(t, 0.25, p.CleanWave[49], 1e-3)
	assert.Zero(t, p.CleanWave[50])
}

func TestCacheAvoidsSecondDecode(t *testing.T) {
	root := t.TempDir()
	noisyDir, cleanDir := filepath.Join(root, "noisy"), filepath.Join(root, "clean")
	touch(t, noisyDir, "a.wav")
	touch(t, cleanDir, "a.wav")

	dec := newFakeDecoder()
	dec.data[filepath.Join(noisyDir, "a.wav")] = []float32{0.1, -0.2}
	store := kv.NewMemory()

	ds, err := New(noisyDir, cleanDir, WithDecoder(dec), WithTargetLength(4), WithCache(store, 0))
	require.NoError(t, err)

	first, err := ds.Get(context.Background(), 0)
	require.NoError(t, err)
	second, err := ds.Get(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, dec.totalCalls())
	assert.Equal(t, first.NoisyWave, second.NoisyWave)
	assert.Equal(t, []float32{0.1, -0.2, 0, 0}, second.NoisyWave)
}

func TestSampleCodec(t *testing.T) {
	in := []float32{0, 1, -1, 0.125, 3.5e-7}
	out, ok := decodeSamples(encodeSamples(in))
	require.True(t, ok)
	assert.Equal(t, in, out)

	_, ok = decodeSamples([]byte{1, 2, 3})
	assert.False(t, ok)
}

func newNumbered(t *testing.T, n int, dec *fakeDecoder, opts ...Option) *Dataset {
	t.Helper()
	root := t.TempDir()
	noisyDir, cleanDir := filepath.Join(root, "noisy"), filepath.Join(root, "clean")
	touch(t, noisyDir)
	touch(t, cleanDir)
	for i := range n {
		name := fmt.Sprintf("%02d.wav", i)
		touch(t, noisyDir, name)
		touch(t, cleanDir, name)
		dec.data[filepath.Join(noisyDir, name)] = []float32{float32(i)}
	}
	opts = append([]Option{WithDecoder(dec), WithTargetLength(3), WithWorkers(3)}, opts...)
	ds, err := New(noisyDir, cleanDir, opts...)
	require.NoError(t, err)
	return ds
}

func TestBatchesInOrder(t *testing.T) {
	ds := newNumbered(t, 5, newFakeDecoder())

	var sizes []int
	var order []float32
	for b, err := range ds.Batches(context.Background(), 2, nil) {
		require.NoError(t, err)
		sizes = append(sizes, len(b.Pairs))
		for _, w := range b.Noisy() {
			order = append(order, w[0])
		}
		assert.Len(t, b.Clean(), len(b.Pairs))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []float32{0, 1, 2, 3, 4}, order)
}

func TestBatchesShuffleCoversEverything(t *testing.T) {
	ds := newNumbered(t, 9, newFakeDecoder())

	var seen []int
	for b, err := range ds.Batches(context.Background(), 4, rand.New(rand.NewPCG(1, 2))) {
		require.NoError(t, err)
		for _, p := range b.Pairs {
			seen = append(seen, p.Index)
		}
	}
	slices.Sort(seen)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, seen)
}

func TestBatchesInvalidSize(t *testing.T) {
	ds := newNumbered(t, 2, newFakeDecoder())
	for _, err := range ds.Batches(context.Background(), 0, nil) {
		require.Error(t, err)
	}
}

func TestPrefetchStopsAtError(t *testing.T) {
	dec := newFakeDecoder()
	ds := newNumbered(t, 6, dec)
	bad, err := ds.Entry(3)
	require.NoError(t, err)
	boom := errors.New("boom")
	dec.fail[bad.Noisy] = boom

	var got []int
	var lastErr error
	for p, err := range ds.Prefetch(context.Background(), []int{0, 1, 2, 3, 4, 5}) {
		if err != nil {
			lastErr = err
			break
		}
		got = append(got, p.Index)
	}
	assert.Equal(t, []int{0, 1, 2}, got)
	require.ErrorIs(t, lastErr, boom)
}

func TestPrefetchCancelled(t *testing.T) {
	ds := newNumbered(t, 4, newFakeDecoder())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var lastErr error
	for _, err := range ds.Prefetch(ctx, []int{0, 1, 2, 3}) {
		if err != nil {
			lastErr = err
			break
		}
	}
	require.ErrorIs(t, lastErr, context.Canceled)
}

func TestPrefetchCompleteDespiteLateCancel(t *testing.T) {
	ds := newNumbered(t, 3, newFakeDecoder())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int
	for p, err := range ds.Prefetch(ctx, []int{0, 1, 2}) {
		require.NoError(t, err)
		got = append(got, p.Index)
		if len(got) == 3 {
			cancel()
		}
	}
	assert.Equal(t, []int{0, 1, 2}, got)
}
