package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/himanishpuri/NoiseReducer/internal/kv"
	"github.com/himanishpuri/NoiseReducer/pkg/models"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/audio"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/dataset"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/denoiser"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/metrics"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/storage"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/training"
)

// datasetFlags selects paired audio either from two directories or from a
// manifest file.
type datasetFlags struct {
	noisyDir     string
	cleanDir     string
	manifest     string
	ext          string
	ignoreCase   bool
	skipHidden   bool
	targetLength int
	truncate     bool
	loaders      int
	cacheDir     string
}

func (f *datasetFlags) register(fs *pflag.FlagSet, prefix string) {
	fs.StringVar(&f.noisyDir, prefix+"noisy", "", "Directory of noisy audio")
	fs.StringVar(&f.cleanDir, prefix+"clean", "", "Directory of clean audio")
	fs.StringVar(&f.manifest, prefix+"manifest", "", "YAML or JSON manifest pairing noisy and clean files by id")
}

func (f *datasetFlags) registerShared(fs *pflag.FlagSet) {
	fs.StringVar(&f.ext, "ext", dataset.DefaultExtension, "Audio file extension for directory listings")
	fs.BoolVar(&f.ignoreCase, "ignore-case", false, "Match --ext case-insensitively")
	fs.BoolVar(&f.skipHidden, "skip-hidden", false, "Leave dot files out of directory listings")
	fs.IntVar(&f.targetLength, "target-length", dataset.DefaultTargetLength, "Samples per waveform after padding")
	fs.BoolVar(&f.truncate, "truncate", false, "Truncate overlong files instead of failing")
	fs.IntVar(&f.loaders, "loaders", 4, "Concurrent file loaders")
	fs.StringVar(&f.cacheDir, "cache-dir", os.Getenv("NOISE_CACHE_DIR"), "Badger directory caching decoded waveforms")
}

func (f *datasetFlags) empty() bool {
	return f.manifest == "" && f.noisyDir == "" && f.cleanDir == ""
}

// open builds the dataset. Loader settings come from shared so the eval
// set is read the same way as the training set.
func (f *datasetFlags) open(opts *options, shared *datasetFlags, cache kv.Store) (*dataset.Dataset, error) {
	policy := dataset.OverflowReject
	if shared.truncate {
		policy = dataset.OverflowTruncate
	}
	dsOpts := []dataset.Option{
		dataset.WithSampleRate(opts.sampleRate),
		dataset.WithTargetLength(shared.targetLength),
		dataset.WithExtension(shared.ext),
		dataset.WithOverflowPolicy(policy),
		dataset.WithWorkers(shared.loaders),
		dataset.WithDecoder(&audio.Loader{TempDir: opts.tempDir}),
	}
	if shared.ignoreCase {
		dsOpts = append(dsOpts, dataset.WithCaseInsensitiveExtension())
	}
	if shared.skipHidden {
		dsOpts = append(dsOpts, dataset.WithSkipHidden())
	}
	if cache != nil {
		dsOpts = append(dsOpts, dataset.WithCache(cache, 0))
	}

	switch {
	case f.manifest != "":
		m, err := dataset.LoadManifest(f.manifest)
		if err != nil {
			return nil, err
		}
		return dataset.NewFromManifest(m, dsOpts...)
	case f.noisyDir != "" && f.cleanDir != "":
		ds, err := dataset.New(f.noisyDir, f.cleanDir, dsOpts...)
		if err != nil {
			return nil, err
		}
		if n, c := ds.Counts(); n != c {
			opts.log.Warnf("%d noisy vs %d clean files: pairing by sorted position uses the first %d; prefer --manifest",
				n, c, ds.Len())
		}
		return ds, nil
	default:
		return nil, errors.New("either --manifest or both --noisy and --clean are required")
	}
}

func openCache(opts *options, dir string) (kv.Store, error) {
	if dir == "" {
		return nil, nil
	}
	store, err := kv.NewBadger(kv.BadgerOptions{Dir: dir, Logger: opts.log.WithPrefix("badger")})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return store, nil
}

func newTrainCmd(opts *options) *cobra.Command {
	var (
		data, eval    datasetFlags
		epochs, batch int
		workers       int
		lr            float64
		seed          uint64
		resume        bool
		out           string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the custom model on paired noisy/clean audio",
		Long: `Train the convolutional denoiser with MSE loss and Adam.

Pairs come from --manifest, or from --noisy and --clean directories paired
by sorted filename position. Weights are saved to --out (default --weights)
after every epoch and each epoch is recorded in the job database.

Example:
  noisereducer train --manifest data/train.yaml --eval-manifest data/dev.yaml \
    --epochs 20 --batch-size 16 --out model/denoiser.msgpack`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				out = opts.weights
			}
			cache, err := openCache(opts, data.cacheDir)
			if err != nil {
				return err
			}
			if cache != nil {
				defer cache.Close()
			}

			ds, err := data.open(opts, &data, cache)
			if err != nil {
				return err
			}
			var evalSet *dataset.Dataset
			if !eval.empty() {
				if evalSet, err = eval.open(opts, &data, cache); err != nil {
					return fmt.Errorf("eval set: %w", err)
				}
			}

			net := denoiser.NewSeeded(seed)
			if resume {
				if net, err = denoiser.LoadFile(out); err != nil {
					return err
				}
				opts.log.Infof("Resuming from %s", out)
			}

			db, err := storage.NewDBClientWithPath(opts.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			runID := uuid.NewString()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run %s: %d pairs, %s parameters\n", runID, ds.Len(), humanize.Comma(int64(net.NumParams())))

			adam := denoiser.DefaultAdamConfig()
			adam.LearningRate = lr
			trainOpts := []training.Option{
				training.WithAdam(adam),
				training.WithSeed(seed),
				training.WithCheckpoint(out),
				training.WithLogger(opts.log),
				training.WithEpochCallback(func(s training.EpochStats) error {
					fmt.Fprintf(w, "epoch %3d  train %.6f  eval %.6f  %s\n", s.Epoch, s.TrainLoss, s.EvalLoss, s.Duration.Round(time.Millisecond))
					return db.RecordEpochs([]models.TrainingEpoch{{
						RunID:     runID,
						Epoch:     s.Epoch,
						TrainLoss: s.TrainLoss,
						EvalLoss:  s.EvalLoss,
						Duration:  s.Duration,
						CreatedAt: time.Now(),
					}})
				}),
			}
			if workers > 0 {
				trainOpts = append(trainOpts, training.WithWorkers(workers))
			}
			if evalSet != nil {
				trainOpts = append(trainOpts, training.WithEvalSet(evalSet))
			}

			tr, err := training.New(net, trainOpts...)
			if err != nil {
				return err
			}
			history, err := tr.Fit(cmd.Context(), ds, epochs, batch)
			if err != nil {
				if errors.Is(err, context.Canceled) && len(history) > 0 {
					opts.log.Warnf("interrupted after %d epochs; last checkpoint at %s", len(history), out)
				}
				return err
			}
			fmt.Fprintf(w, "Saved weights to %s after %d steps\n", out, tr.Steps())
			return nil
		},
	}

	fs := cmd.Flags()
	data.register(fs, "")
	eval.register(fs, "eval-")
	data.registerShared(fs)
	fs.IntVar(&epochs, "epochs", 10, "Passes over the training set")
	fs.IntVar(&batch, "batch-size", 8, "Pairs per optimizer step")
	fs.IntVar(&workers, "workers", 0, "Goroutines computing gradients (default GOMAXPROCS)")
	fs.Float64Var(&lr, "lr", denoiser.DefaultAdamConfig().LearningRate, "Adam learning rate")
	fs.Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "Seed for initialisation and shuffling")
	fs.BoolVar(&resume, "resume", false, "Continue from the weights in --out")
	fs.StringVar(&out, "out", "", "Where to save weights (default --weights)")
	return cmd
}

func newEvaluateCmd(opts *options) *cobra.Command {
	var (
		data  datasetFlags
		batch int
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the custom model on a paired dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			net, err := denoiser.LoadFile(opts.weights)
			if err != nil {
				return err
			}
			cache, err := openCache(opts, data.cacheDir)
			if err != nil {
				return err
			}
			if cache != nil {
				defer cache.Close()
			}
			ds, err := data.open(opts, &data, cache)
			if err != nil {
				return err
			}

			var (
				sum     metrics.Report
				loss    float64
				n, skip int
			)
			for b, err := range ds.Batches(cmd.Context(), batch, nil) {
				if err != nil {
					return err
				}
				for _, p := range b.Pairs {
					den, err := net.Denoise(p.NoisyWave)
					if err != nil {
						return fmt.Errorf("%s: %w", p.ID, err)
					}
					l, err := net.Loss(p.NoisyWave, p.CleanWave)
					if err != nil {
						return fmt.Errorf("%s: %w", p.ID, err)
					}
					r, err := metrics.Evaluate(p.CleanWave, p.NoisyWave, den)
					if err != nil {
						opts.log.Warnf("skipping %s: %v", p.ID, err)
						skip++
						continue
					}
					loss += l
					sum.InputSNR += r.InputSNR
					sum.OutputSNR += r.OutputSNR
					sum.InputSISDR += r.InputSISDR
					sum.OutputSISDR += r.OutputSISDR
					sum.LSD += r.LSD
					n++
				}
			}
			if n == 0 {
				return errors.New("no pairs could be scored")
			}

			f := float64(n)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "pairs\t%d\t(skipped %d)\n", n, skip)
			fmt.Fprintf(tw, "mse\t%.6f\n", loss/f)
			fmt.Fprintf(tw, "snr\t%.2f dB -> %.2f dB\n", sum.InputSNR/f, sum.OutputSNR/f)
			fmt.Fprintf(tw, "si-sdr\t%.2f dB -> %.2f dB\n", sum.InputSISDR/f, sum.OutputSISDR/f)
			fmt.Fprintf(tw, "lsd\t%.2f dB\n", sum.LSD/f)
			return tw.Flush()
		},
	}
	data.register(cmd.Flags(), "")
	data.registerShared(cmd.Flags())
	cmd.Flags().IntVar(&batch, "batch-size", 16, "Pairs loaded per batch")
	return cmd
}

func newManifestCmd(opts *options) *cobra.Command {
	var noisy, clean, ext, out string

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Pair files in two directories by name and write a manifest",
		Long: `Match noisy and clean files by file name and write a YAML manifest.
Any file without a counterpart fails the whole build and is listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noisy == "" || clean == "" {
				return errors.New("--noisy and --clean are required")
			}
			m, err := dataset.ManifestFromDirs(noisy, clean, ext)
			if err != nil {
				return err
			}
			if err := m.Save(out); err != nil {
				return err
			}
			opts.log.Infof("Paired %d files", len(m.Entries))
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries to %s\n", len(m.Entries), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&noisy, "noisy", "", "Directory of noisy audio")
	cmd.Flags().StringVar(&clean, "clean", "", "Directory of clean audio")
	cmd.Flags().StringVar(&ext, "ext", dataset.DefaultExtension, "Audio file extension")
	cmd.Flags().StringVarP(&out, "out", "o", "manifest.yaml", "Manifest file to write")
	return cmd
}
