package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := map[string]Backend{
		"custom":  BackendCustom,
		" Demucs": BackendDemucs,
		"BOTH":    BackendBoth,
		"":        BackendBoth,
	}
	for in, want := range tests {
		got, err := ParseBackend(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseBackend("wiener")
	require.Error(t, err)
}

func TestBackendRuns(t *testing.T) {
	assert.True(t, BackendBoth.Runs(BackendCustom))
	assert.True(t, BackendBoth.Runs(BackendDemucs))
	assert.True(t, BackendCustom.Runs(BackendCustom))
	assert.False(t, BackendCustom.Runs(BackendDemucs))
}

func TestJobArtifacts(t *testing.T) {
	j := Job{CustomOutput: "a_denoised_custom.wav", PlotOutput: "a_comparison.png"}
	assert.Equal(t, []string{"a_denoised_custom.wav", "a_comparison.png"}, j.Artifacts())
}
