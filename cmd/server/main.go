//go:build !js && !wasm

// Command server exposes the denoising service over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/himanishpuri/NoiseReducer/internal/filestore"
	"github.com/himanishpuri/NoiseReducer/pkg/logger"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/separation"
)

var (
	port           int
	dbPath         string
	weightsPath    string
	outputDir      string
	tempDir        string
	sampleRate     int
	allowedOrigins string
	logLevel       string
	accessLog      bool
	demucsBinary   string
	demucsTimeout  time.Duration
	denoiseTimeout time.Duration
	s3Config       filestore.S3Config
)

func init() {
	pflag.IntVar(&port, "port", 8080, "HTTP server port")
	pflag.StringVar(&dbPath, "db", getEnvOrDefault("NOISE_DB_PATH", "noisereducer.sqlite3"), "Path to SQLite database")
	pflag.StringVar(&weightsPath, "weights", getEnvOrDefault("NOISE_WEIGHTS", filepath.Join("model", "denoiser.msgpack")), "Trained denoiser weights")
	pflag.StringVar(&outputDir, "output", getEnvOrDefault("NOISE_OUTPUT_DIR", filepath.Join("output", "enhanced_audio")), "Artifact directory")
	pflag.StringVar(&tempDir, "temp", getEnvOrDefault("NOISE_TEMP_DIR", os.TempDir()), "Temporary directory")
	pflag.IntVar(&sampleRate, "rate", 16000, "Model sample rate")
	pflag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
	pflag.StringVar(&logLevel, "log-level", getEnvOrDefault("NOISE_LOG_LEVEL", "info"), "debug, info, warn or error")
	pflag.BoolVar(&accessLog, "access-log", false, "Log every request")
	pflag.StringVar(&demucsBinary, "demucs-bin", separation.DefaultBinary, "demucs executable")
	pflag.DurationVar(&demucsTimeout, "demucs-timeout", 10*time.Minute, "Timeout for one demucs run")
	pflag.DurationVar(&denoiseTimeout, "denoise-timeout", 15*time.Minute, "Timeout for one denoise request")
	pflag.StringVar(&s3Config.Bucket, "s3-bucket", os.Getenv("NOISE_S3_BUCKET"), "Store artifacts in this S3 bucket instead of --output")
	pflag.StringVar(&s3Config.Prefix, "s3-prefix", os.Getenv("NOISE_S3_PREFIX"), "Key prefix for S3 artifacts")
	pflag.StringVar(&s3Config.Region, "s3-region", os.Getenv("AWS_REGION"), "S3 region")
	pflag.StringVar(&s3Config.Endpoint, "s3-endpoint", os.Getenv("NOISE_S3_ENDPOINT"), "Custom S3 endpoint")
	pflag.BoolVar(&s3Config.PathStyle, "s3-path-style", false, "Use path-style S3 addressing")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseOrigins(s string) []string {
	if s == "*" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func artifactStore() (filestore.Store, error) {
	if s3Config.Bucket == "" {
		return filestore.NewLocal(outputDir)
	}
	s3Config.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	s3Config.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	return filestore.NewS3FromConfig(s3Config)
}

func main() {
	pflag.Parse()

	log := logger.GetLogger()
	level, ok := logger.ParseLevel(logLevel)
	if !ok {
		log.Fatalf("Unknown log level %q", logLevel)
	}
	log.SetLevel(level)

	artifacts, err := artifactStore()
	if err != nil {
		log.Fatalf("Failed to open artifact store: %v", err)
	}

	demucs := separation.NewDemucs(filepath.Join(tempDir, "separated"))
	demucs.Binary = demucsBinary
	demucs.Timeout = demucsTimeout

	service, err := noisereducer.NewService(
		noisereducer.WithDBPath(dbPath),
		noisereducer.WithWeightsPath(weightsPath),
		noisereducer.WithTempDir(tempDir),
		noisereducer.WithSampleRate(sampleRate),
		noisereducer.WithSeparator(demucs),
		noisereducer.WithArtifactStore(artifacts),
		noisereducer.WithLogger(log),
	)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		TempDir:        tempDir,
		AllowedOrigins: parseOrigins(allowedOrigins),
		DenoiseTimeout: denoiseTimeout,
		AccessLog:      accessLog,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(service, config, log)
	if err := server.Start(ctx); err != nil {
		log.Errorf("Server failed: %v", err)
		os.Exit(1)
	}
}
