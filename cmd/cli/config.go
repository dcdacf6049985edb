package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/himanishpuri/NoiseReducer/internal/filestore"
	"github.com/himanishpuri/NoiseReducer/pkg/logger"
)

// fileConfig is the --config YAML document.
//
//	db_path: jobs.sqlite3
//	weights: model/denoiser.msgpack
//	output_dir: output
//	sample_rate: 16000
//	log_level: debug
//	demucs:
//	  binary: /opt/demucs/bin/demucs
//	  model: htdemucs
//	  timeout: 5m
//	s3:
//	  bucket: denoised
//	  endpoint: http://localhost:9000
//	  path_style: true
type fileConfig struct {
	DBPath     string `yaml:"db_path"`
	Weights    string `yaml:"weights"`
	OutputDir  string `yaml:"output_dir"`
	TempDir    string `yaml:"temp_dir"`
	SampleRate int    `yaml:"sample_rate"`
	LogLevel   string `yaml:"log_level"`
	Demucs     struct {
		Binary  string `yaml:"binary"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"demucs"`
	S3 filestore.S3Config `yaml:"s3"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// load applies the config file to flags the user did not set and
// configures the logger.
func (o *options) load(cmd *cobra.Command) error {
	if o.configPath != "" {
		cfg, err := loadFileConfig(o.configPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		set := func(name, value string) error {
			if value == "" || flags.Changed(name) {
				return nil
			}
			if err := flags.Set(name, value); err != nil {
				return fmt.Errorf("config %s: %w", name, err)
			}
			return nil
		}
		values := []struct{ flag, value string }{
			{"db", cfg.DBPath},
			{"weights", cfg.Weights},
			{"output", cfg.OutputDir},
			{"temp", cfg.TempDir},
			{"log-level", cfg.LogLevel},
			{"demucs-bin", cfg.Demucs.Binary},
			{"demucs-model", cfg.Demucs.Model},
			{"demucs-timeout", cfg.Demucs.Timeout},
			{"s3-bucket", cfg.S3.Bucket},
			{"s3-prefix", cfg.S3.Prefix},
			{"s3-region", cfg.S3.Region},
			{"s3-endpoint", cfg.S3.Endpoint},
		}
		if cfg.SampleRate > 0 {
			values = append(values, struct{ flag, value string }{"rate", strconv.Itoa(cfg.SampleRate)})
		}
		for _, v := range values {
			if err := set(v.flag, v.value); err != nil {
				return err
			}
		}
		if cfg.S3.AccessKey != "" {
			o.s3.AccessKey = cfg.S3.AccessKey
			o.s3.SecretKey = cfg.S3.SecretKey
		}
		o.s3.PathStyle = o.s3.PathStyle || cfg.S3.PathStyle
	}

	if o.sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", o.sampleRate)
	}
	if o.demucsTimeout <= 0 {
		o.demucsTimeout = 10 * time.Minute
	}

	o.log = logger.GetLogger()
	if o.logLevel != "" {
		level, ok := logger.ParseLevel(o.logLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", o.logLevel)
		}
		o.log.SetLevel(level)
	}
	return nil
}
