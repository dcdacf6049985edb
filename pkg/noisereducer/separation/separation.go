// Package separation runs an external source-separation tool and reports
// the extracted speech stem.
package separation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/NoiseReducer/pkg/utils"
)

// Reason classifies a failed separation.
type Reason string

const (
	ReasonToolMissing   Reason = "tool_missing"
	ReasonToolFailed    Reason = "tool_failed"
	ReasonOutputMissing Reason = "output_missing"
	ReasonCancelled     Reason = "cancelled"
	ReasonBadInput      Reason = "bad_input"
)

// Result is the outcome of one separation. OutputPath is set only when OK.
type Result struct {
	OK         bool
	OutputPath string
	Reason     Reason
	Err        error
}

func Succeeded(path string) Result {
	return Result{OK: true, OutputPath: path}
}

func Failed(reason Reason, err error) Result {
	return Result{Reason: reason, Err: err}
}

// Error returns a descriptive error for failed results and nil otherwise.
func (r Result) Error() error {
	if r.OK {
		return nil
	}
	if r.Err == nil {
		return fmt.Errorf("separation failed: %s", r.Reason)
	}
	return fmt.Errorf("separation failed (%s): %w", r.Reason, r.Err)
}

// Separator extracts the speech stem of an audio file.
type Separator interface {
	Separate(ctx context.Context, inputPath string) Result
}

const (
	DefaultBinary = "demucs"
	DefaultModel  = "htdemucs"
	DefaultStem   = "vocals"
)

// Demucs drives the demucs command line tool in two-stem mode.
type Demucs struct {
	Binary     string
	Model      string
	Stem       string
	OutputRoot string
	// Timeout applies when the caller's context has no deadline.
	Timeout time.Duration
}

// NewDemucs returns a Demucs writing under outputRoot with default model
// and stem.
func NewDemucs(outputRoot string) *Demucs {
	return &Demucs{
		Binary:     DefaultBinary,
		Model:      DefaultModel,
		Stem:       DefaultStem,
		OutputRoot: outputRoot,
		Timeout:    10 * time.Minute,
	}
}

func (d *Demucs) withDefaults() Demucs {
	cp := *d
	if cp.Binary == "" {
		cp.Binary = DefaultBinary
	}
	if cp.Model == "" {
		cp.Model = DefaultModel
	}
	if cp.Stem == "" {
		cp.Stem = DefaultStem
	}
	if cp.OutputRoot == "" {
		cp.OutputRoot = "separated"
	}
	if cp.Timeout == 0 {
		cp.Timeout = 10 * time.Minute
	}
	return cp
}

// ExpectedOutput is where demucs writes the stem for inputPath.
func (d *Demucs) ExpectedOutput(inputPath string) string {
	cfg := d.withDefaults()
	return filepath.Join(cfg.OutputRoot, cfg.Model, utils.FileStem(inputPath), cfg.Stem+".wav")
}

// Args returns the command line for inputPath, without the binary.
func (d *Demucs) Args(inputPath string) []string {
	cfg := d.withDefaults()
	return []string{
		"--two-stems=" + cfg.Stem,
		"-n", cfg.Model,
		"-o", cfg.OutputRoot,
		inputPath,
	}
}

// Available reports whether the binary can be found.
func (d *Demucs) Available() bool {
	_, err := exec.LookPath(d.withDefaults().Binary)
	return err == nil
}

func (d *Demucs) Separate(ctx context.Context, inputPath string) Result {
	cfg := d.withDefaults()

	if _, err := os.Stat(inputPath); err != nil {
		return Failed(ReasonBadInput, err)
	}
	bin, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return Failed(ReasonToolMissing, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := utils.MakeDir(cfg.OutputRoot); err != nil {
		return Failed(ReasonToolFailed, err)
	}

	// A stale stem from an earlier run must not pass for fresh output.
	expected := d.ExpectedOutput(inputPath)
	if err := utils.DeleteFile(expected); err != nil {
		return Failed(ReasonToolFailed, err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, d.Args(inputPath)...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Failed(ReasonCancelled, ctxErr)
		}
		return Failed(ReasonToolFailed, fmt.Errorf("%s: %w: %s", cfg.Binary, err, lastLine(stderr.String())))
	}

	if !utils.FileExists(expected) {
		return Failed(ReasonOutputMissing, fmt.Errorf("%s not found", expected))
	}
	return Succeeded(expected)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ErrNotConfigured is reported by Disabled.
var ErrNotConfigured = errors.New("separation: no separator configured")

// Disabled is a Separator that always fails; it stands in when the
// separation tool is not installed.
type Disabled struct{}

func (Disabled) Separate(context.Context, string) Result {
	return Failed(ReasonToolMissing, ErrNotConfigured)
}
