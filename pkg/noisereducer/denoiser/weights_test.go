package denoiser

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestWeightsRoundTrip(t *testing.T) {
	net := NewSeeded(17)

	var buf bytes.Buffer
	require.NoError(t, net.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)

	x := FromWaveform(randomWaveform(rand.New(rand.NewPCG(1, 2)), 256))
	want, err := net.Forward(x)
	require.NoError(t, err)
	got, err := loaded.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, want.Data, got.Data)
}

func TestWeightsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "denoiser.msgpack")
	net := NewSeeded(18)
	require.NoError(t, net.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, net.params(), loaded.params())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.msgpack"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func encodeDoc(t *testing.T, doc weightsFile) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, msgpack.NewEncoder(&buf).Encode(&doc))
	return &buf
}

func validDoc(t *testing.T) weightsFile {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, NewSeeded(1).Save(&buf))
	var doc weightsFile
	require.NoError(t, msgpack.Unmarshal(buf.Bytes(), &doc))
	return doc
}

func TestLoadRejectsIncompatibleWeights(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*weightsFile)
	}{
		{"wrong format", func(d *weightsFile) { d.Format = "something-else" }},
		{"wrong version", func(d *weightsFile) { d.Version = 99 }},
		{"missing layer", func(d *weightsFile) { d.Layers = d.Layers[:3] }},
		{"renamed layer", func(d *weightsFile) { d.Layers[1].Name = "encoder.1" }},
		{"wider bottleneck", func(d *weightsFile) {
			d.Layers[1].Out = 32
			d.Layers[1].Weight = make([]float32, 32*16*15)
			d.Layers[1].Bias = make([]float32, 32)
		}},
		{"different kernel", func(d *weightsFile) { d.Layers[0].Kernel = 9 }},
		{"different padding", func(d *weightsFile) { d.Layers[3].Padding = 0 }},
		{"short weight tensor", func(d *weightsFile) { d.Layers[2].Weight = d.Layers[2].Weight[:10] }},
		{"short bias", func(d *weightsFile) { d.Layers[2].Bias = d.Layers[2].Bias[:1] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDoc(t)
			tt.mutate(&doc)
			net, err := Load(encodeDoc(t, doc))
			require.ErrorIs(t, err, ErrIncompatibleWeights)
			assert.Nil(t, net)
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not a weights file")))
	require.ErrorIs(t, err, ErrIncompatibleWeights)
}
