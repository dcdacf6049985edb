package separation

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDemucs writes a script that mimics the demucs output layout. mode
// selects the behaviour: "ok" writes the stem, "fail" exits non-zero,
// "silent" exits zero without writing anything, "slow" sleeps.
func fakeDemucs(t *testing.T, mode string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	script := `#!/bin/sh
stem=""; model=""; out=""; in=""
while [ $# -gt 0 ]; do
  case "$1" in
    --two-stems=*) stem="${1#--two-stems=}" ;;
    -n) model="$2"; shift ;;
    -o) out="$2"; shift ;;
    *) in="$1" ;;
  esac
  shift
done
name=$(basename "$in"); name="${name%.*}"
case "` + mode + `" in
  ok) mkdir -p "$out/$model/$name" && cp "$in" "$out/$model/$name/$stem.wav" ;;
  fail) echo "loading model" >&2; echo "RuntimeError: out of memory" >&2; exit 3 ;;
  silent) exit 0 ;;
  slow) exec sleep 5 ;;
esac
`
	path := filepath.Join(t.TempDir(), "demucs")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func inputFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "take 1.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	return path
}

func TestArgsAndExpectedOutput(t *testing.T) {
	d := NewDemucs("/out")
	assert.Equal(t, []string{"--two-stems=vocals", "-n", "htdemucs", "-o", "/out", "/in/clip.mp3"}, d.Args("/in/clip.mp3"))
	assert.Equal(t, filepath.Join("/out", "htdemucs", "clip", "vocals.wav"), d.ExpectedOutput("/in/clip.mp3"))
}

func TestSeparateSuccess(t *testing.T) {
	d := NewDemucs(t.TempDir())
	d.Binary = fakeDemucs(t, "ok")
	in := inputFile(t)

	res := d.Separate(context.Background(), in)
	require.True(t, res.OK, "%v", res.Err)
	assert.Equal(t, d.ExpectedOutput(in), res.OutputPath)
	assert.FileExists(t, res.OutputPath)
	assert.NoError(t, res.Error())
}

func TestSeparateToolFailure(t *testing.T) {
	d := NewDemucs(t.TempDir())
	d.Binary = fakeDemucs(t, "fail")

	res := d.Separate(context.Background(), inputFile(t))
	assert.False(t, res.OK)
	assert.Empty(t, res.OutputPath)
	assert.Equal(t, ReasonToolFailed, res.Reason)
	assert.Contains(t, res.Err.Error(), "out of memory")
	assert.Error(t, res.Error())
}

func TestSeparateMissingOutput(t *testing.T) {
	d := NewDemucs(t.TempDir())
	d.Binary = fakeDemucs(t, "silent")

	res := d.Separate(context.Background(), inputFile(t))
	assert.False(t, res.OK)
	assert.Empty(t, res.OutputPath)
	assert.Equal(t, ReasonOutputMissing, res.Reason)
}

func TestSeparateIgnoresStaleOutput(t *testing.T) {
	d := NewDemucs(t.TempDir())
	d.Binary = fakeDemucs(t, "silent")
	in := inputFile(t)

	stale := d.ExpectedOutput(in)
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	res := d.Separate(context.Background(), in)
	assert.Equal(t, ReasonOutputMissing, res.Reason)
}

func TestSeparateToolMissing(t *testing.T) {
	d := NewDemucs(t.TempDir())
	d.Binary = filepath.Join(t.TempDir(), "no-such-demucs")

	res := d.Separate(context.Background(), inputFile(t))
	assert.Equal(t, ReasonToolMissing, res.Reason)
	assert.False(t, d.Available())
}

func TestSeparateBadInput(t *testing.T) {
	d := NewDemucs(t.TempDir())
	res := d.Separate(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	assert.Equal(t, ReasonBadInput, res.Reason)
}

func TestSeparateTimeout(t *testing.T) {
	d := NewDemucs(t.TempDir())
	d.Binary = fakeDemucs(t, "slow")
	d.Timeout = 100 * time.Millisecond

	res := d.Separate(context.Background(), inputFile(t))
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestDisabled(t *testing.T) {
	res := Disabled{}.Separate(context.Background(), "x.wav")
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Error(), ErrNotConfigured)
}
