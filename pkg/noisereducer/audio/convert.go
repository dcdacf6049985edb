package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/himanishpuri/NoiseReducer/pkg/utils"
)

// DefaultSampleRate is the rate the denoiser is trained and run at.
const DefaultSampleRate = 16000

type ConvertWAVConfig struct {
	SampleRate int
	// Binary overrides the ffmpeg executable.
	Binary  string
	Timeout time.Duration
}

// ConvertToMonoWAV transcodes inputPath to 16-bit mono PCM at cfg.SampleRate
// and writes <outputDir>/<stem>.wav.
func ConvertToMonoWAV(
	ctx context.Context,
	inputPath string,
	outputDir string,
	cfg ConvertWAVConfig,
) (string, error) {

	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	outputPath := filepath.Join(outputDir, utils.FileStem(inputPath)+".wav")

	tmpPath := outputPath + ".tmp.wav"
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(
		ctx,
		cfg.Binary,
		"-y",
		"-v", "quiet",
		"-i", inputPath,
		"-ac", "1", // mono
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", "pcm_s16le",
		tmpPath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg failed: %v (%s)", err, out)
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}

	return outputPath, nil
}
