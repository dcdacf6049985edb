package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/NoiseReducer/internal/filestore"
	"github.com/himanishpuri/NoiseReducer/pkg/logger"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/audio"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/separation"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/storage"
)

// options holds the global flags shared by every command.
type options struct {
	configPath    string
	dbPath        string
	weights       string
	outputDir     string
	tempDir       string
	sampleRate    int
	logLevel      string
	demucsBinary  string
	demucsModel   string
	demucsTimeout time.Duration
	s3            filestore.S3Config

	log *logger.Logger
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "noisereducer",
		Short: "Speech denoising with a small convolutional model or demucs",
		Long: `noisereducer cleans noisy speech recordings.

Two backends are available:
  custom  a four-layer 1-D convolutional network (weights from --weights)
  demucs  the htdemucs source separation model, run as an external tool

Settings come from flags, then the --config YAML file, then NOISE_*
environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", os.Getenv("NOISE_CONFIG"), "YAML config file")
	pf.StringVar(&opts.dbPath, "db", getEnvOrDefault("NOISE_DB_PATH", storage.DefaultDBFile), "Path to the SQLite job database")
	pf.StringVar(&opts.weights, "weights", getEnvOrDefault("NOISE_WEIGHTS", filepath.Join("model", "denoiser.msgpack")), "Custom model weights file")
	pf.StringVar(&opts.outputDir, "output", getEnvOrDefault("NOISE_OUTPUT_DIR", filepath.Join("output", "enhanced_audio")), "Directory for denoised audio and plots")
	pf.StringVar(&opts.tempDir, "temp", getEnvOrDefault("NOISE_TEMP_DIR", os.TempDir()), "Directory for intermediate files")
	pf.IntVar(&opts.sampleRate, "rate", audio.DefaultSampleRate, "Processing sample rate in Hz")
	pf.StringVar(&opts.logLevel, "log-level", os.Getenv(logger.EnvLevel), "Log level (debug, info, warn, error)")
	pf.StringVar(&opts.demucsBinary, "demucs-bin", getEnvOrDefault("NOISE_DEMUCS_BIN", separation.DefaultBinary), "demucs executable")
	pf.StringVar(&opts.demucsModel, "demucs-model", separation.DefaultModel, "demucs model name")
	pf.DurationVar(&opts.demucsTimeout, "demucs-timeout", 10*time.Minute, "Timeout for one demucs run")
	pf.StringVar(&opts.s3.Bucket, "s3-bucket", os.Getenv("NOISE_S3_BUCKET"), "Store artifacts in this S3 bucket instead of --output")
	pf.StringVar(&opts.s3.Prefix, "s3-prefix", os.Getenv("NOISE_S3_PREFIX"), "Key prefix for S3 artifacts")
	pf.StringVar(&opts.s3.Region, "s3-region", os.Getenv("AWS_REGION"), "S3 region")
	pf.StringVar(&opts.s3.Endpoint, "s3-endpoint", os.Getenv("NOISE_S3_ENDPOINT"), "Custom S3 endpoint (MinIO, R2)")

	root.AddCommand(
		newDenoiseCmd(opts),
		newSeparateCmd(opts),
		newTrainCmd(opts),
		newEvaluateCmd(opts),
		newInspectCmd(opts),
		newJobsCmd(opts),
		newPlotCmd(opts),
		newManifestCmd(opts),
	)
	return root
}

func (o *options) separator() *separation.Demucs {
	d := separation.NewDemucs(filepath.Join(o.tempDir, "separated"))
	d.Binary = o.demucsBinary
	d.Model = o.demucsModel
	d.Timeout = o.demucsTimeout
	return d
}

func (o *options) artifactStore() (filestore.Store, error) {
	if o.s3.Bucket != "" {
		if o.s3.AccessKey == "" {
			o.s3.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
			o.s3.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		}
		return filestore.NewS3FromConfig(o.s3)
	}
	return filestore.NewLocal(o.outputDir)
}

// newService builds the service from the global options.
func (o *options) newService() (noisereducer.Service, error) {
	artifacts, err := o.artifactStore()
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	return noisereducer.NewService(
		noisereducer.WithDBPath(o.dbPath),
		noisereducer.WithWeightsPath(o.weights),
		noisereducer.WithTempDir(o.tempDir),
		noisereducer.WithSampleRate(o.sampleRate),
		noisereducer.WithSeparator(o.separator()),
		noisereducer.WithArtifactStore(artifacts),
		noisereducer.WithLogger(o.log),
	)
}
