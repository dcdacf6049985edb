package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/NoiseReducer/pkg/models"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/audio"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/plot"
	"github.com/himanishpuri/NoiseReducer/pkg/utils"
)

func newDenoiseCmd(opts *options) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "denoise <audio-file>...",
		Short: "Denoise audio files and store the outputs",
		Long: `Denoise one or more audio files.

For each input the selected backends run and write
<job>_<name>_denoised_custom.wav, <job>_<name>_denoised_demucs.wav and
<job>_<name>_comparison.png to the artifact store. With --backend both a failing
backend is recorded on the job and the other still runs.

Examples:
  noisereducer denoise recording.wav
  noisereducer denoise --backend custom --weights model/denoiser.msgpack *.wav`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := models.ParseBackend(backend)
			if err != nil {
				return err
			}

			svc, err := opts.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if b.Runs(models.BackendCustom) && !svc.ModelAvailable() {
				opts.log.Warnf("custom model unavailable, only demucs output will be produced")
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				res, err := svc.Denoise(cmd.Context(), noisereducer.DenoiseRequest{InputPath: path, Backend: b})
				if res != nil {
					printDenoiseResult(out, res)
				}
				if err != nil {
					opts.log.Errorf("%s: %v", path, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d inputs failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&backend, "backend", "b", string(models.BackendBoth), "Backend to run: custom, demucs or both")
	return cmd
}

func printDenoiseResult(w io.Writer, res *noisereducer.DenoiseResult) {
	job := res.Job
	fmt.Fprintf(w, "Job %s  %s  (%s, took %s)\n", job.ID, job.Status, job.InputName,
		(time.Duration(job.ElapsedMs) * time.Millisecond).String())
	printOutcome(w, "custom", res.Custom)
	printOutcome(w, "demucs", res.Demucs)
	if res.Plot != "" {
		fmt.Fprintf(w, "  plot:   %s\n", res.Plot)
	}
}

func printOutcome(w io.Writer, name string, o *noisereducer.BackendOutcome) {
	switch {
	case o == nil:
	case o.OK():
		fmt.Fprintf(w, "  %s: %s\n", name, o.Artifact)
	default:
		fmt.Fprintf(w, "  %s: failed (%s): %v\n", name, o.Reason, o.Err)
	}
}

func newSeparateCmd(opts *options) *cobra.Command {
	var outputRoot string

	cmd := &cobra.Command{
		Use:   "separate <audio-file>",
		Short: "Run demucs on one file and print the extracted stem path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := opts.separator()
			if outputRoot != "" {
				d.OutputRoot = outputRoot
			}
			opts.log.Infof("Running %s %v", d.Binary, d.Args(args[0]))

			r := d.Separate(cmd.Context(), args[0])
			if !r.OK {
				return r.Error()
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.OutputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputRoot, "out", "o", "separated", "Directory demucs writes into")
	return cmd
}

func newPlotCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "plot <noisy-file> <denoised-file>",
		Short: "Draw waveforms and spectrograms of two files into a PNG",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := &audio.Loader{TempDir: opts.tempDir}
			noisy, err := loader.Load(cmd.Context(), args[0], opts.sampleRate)
			if err != nil {
				return err
			}
			denoised, err := loader.Load(cmd.Context(), args[1], opts.sampleRate)
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Join(filepath.Dir(args[1]), utils.FileStem(args[1])+"_comparison.png")
			}
			if err := plot.ComparisonFile(output, noisy, denoised, opts.sampleRate); err != nil {
				return err
			}
			if fi, err := os.Stat(output); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", output, humanize.Bytes(uint64(fi.Size())))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "out", "o", "", "Output PNG (default <denoised>_comparison.png)")
	return cmd
}
