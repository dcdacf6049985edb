package noisereducer

import (
	"os"
	"path/filepath"

	"github.com/himanishpuri/NoiseReducer/internal/filestore"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/audio"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/denoiser"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/separation"
)

type Config struct {
	WeightsPath string
	Network     *denoiser.Network
	OutputDir   string
	DBPath      string
	TempDir     string
	SampleRate  int
	Separator   separation.Separator
	Artifacts   filestore.Store
	Jobs        JobStore
	Logger      Logger
}

type Option func(*Config)

// WithWeightsPath loads the custom model from path. A load failure leaves
// the custom backend unavailable without failing NewService.
func WithWeightsPath(path string) Option {
	return func(c *Config) {
		c.WeightsPath = path
	}
}

// WithNetwork uses net directly and skips loading weights.
func WithNetwork(net *denoiser.Network) Option {
	return func(c *Config) {
		c.Network = net
	}
}

// WithOutputDir sets the local artifact directory. Ignored when an
// artifact store is given.
func WithOutputDir(dir string) Option {
	return func(c *Config) {
		c.OutputDir = dir
	}
}

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithSeparator(sep separation.Separator) Option {
	return func(c *Config) {
		c.Separator = sep
	}
}

func WithArtifactStore(store filestore.Store) Option {
	return func(c *Config) {
		c.Artifacts = store
	}
}

func WithJobStore(store JobStore) Option {
	return func(c *Config) {
		c.Jobs = store
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func defaultConfig() *Config {
	return &Config{
		WeightsPath: filepath.Join("model", "denoiser.msgpack"),
		OutputDir:   filepath.Join("output", "enhanced_audio"),
		DBPath:      "noisereducer.sqlite3",
		TempDir:     os.TempDir(),
		SampleRate:  audio.DefaultSampleRate,
	}
}
