// Package dataset pairs noisy and clean recordings and serves them as
// fixed-length float32 waveforms for training and evaluation.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/himanishpuri/NoiseReducer/internal/kv"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/audio"
	"github.com/himanishpuri/NoiseReducer/pkg/utils"
)

const (
	DefaultSampleRate   = 16000
	DefaultTargetLength = 50000
	DefaultExtension    = ".wav"
)

var (
	ErrIndexOutOfRange   = errors.New("dataset: index out of range")
	ErrWaveformTooLong   = errors.New("dataset: waveform longer than target length")
	ErrUnmatchedManifest = errors.New("dataset: unmatched sample")
)

// OverflowPolicy decides what happens to a waveform longer than the target.
type OverflowPolicy int

const (
	// OverflowReject fails the load with ErrWaveformTooLong.
	OverflowReject OverflowPolicy = iota
	// OverflowTruncate keeps the first target samples.
	OverflowTruncate
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowReject:
		return "reject"
	case OverflowTruncate:
		return "truncate"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

// ParseOverflowPolicy maps "reject" and "truncate" to policies.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(s) {
	case "", "reject":
		return OverflowReject, nil
	case "truncate":
		return OverflowTruncate, nil
	}
	return OverflowReject, fmt.Errorf("dataset: unknown overflow policy %q", s)
}

// Decoder loads an audio file as mono samples at rate.
type Decoder interface {
	Load(ctx context.Context, path string, rate int) ([]float32, error)
}

// Entry names the two files of one training pair.
type Entry struct {
	ID    string `yaml:"id" json:"id"`
	Noisy string `yaml:"noisy" json:"noisy"`
	Clean string `yaml:"clean" json:"clean"`
}

// Pair is a loaded entry. Noisy and Clean are exactly TargetLength long.
type Pair struct {
	Index int
	Entry
	NoisyWave []float32
	CleanWave []float32
}

type config struct {
	sampleRate   int
	targetLength int
	listing      listing
	decoder      Decoder
	overflow     OverflowPolicy
	workers      int
	cache        kv.Store
	cacheTTL     time.Duration
}

type Option func(*config)

func WithSampleRate(rate int) Option {
	return func(c *config) { c.sampleRate = rate }
}

func WithTargetLength(n int) Option {
	return func(c *config) { c.targetLength = n }
}

// WithExtension sets the file name suffix filter. Matching is
// case-sensitive unless WithCaseInsensitiveExtension is given.
func WithExtension(ext string) Option {
	return func(c *config) {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.listing.ext = ext
	}
}

// WithCaseInsensitiveExtension accepts "B.WAV" under a ".wav" filter.
func WithCaseInsensitiveExtension() Option {
	return func(c *config) { c.listing.foldCase = true }
}

// WithSkipHidden leaves dot files out of directory listings.
func WithSkipHidden() Option {
	return func(c *config) { c.listing.skipHidden = true }
}

func WithDecoder(d Decoder) Option {
	return func(c *config) { c.decoder = d }
}

func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(c *config) { c.overflow = p }
}

// WithWorkers bounds the number of concurrent loads in Prefetch and Batches.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithCache stores decoded waveforms in store. A positive ttl expires them.
func WithCache(store kv.Store, ttl time.Duration) Option {
	return func(c *config) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

func defaultConfig() config {
	return config{
		sampleRate:   DefaultSampleRate,
		targetLength: DefaultTargetLength,
		listing:      listing{ext: DefaultExtension},
		overflow:     OverflowReject,
		workers:      runtime.NumCPU(),
	}
}

func buildConfig(opts []Option) (config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return cfg, fmt.Errorf("dataset: invalid sample rate %d", cfg.sampleRate)
	}
	if cfg.targetLength <= 0 {
		return cfg, fmt.Errorf("dataset: invalid target length %d", cfg.targetLength)
	}
	if cfg.decoder == nil {
		cfg.decoder = audio.NewLoader()
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	return cfg, nil
}

// Dataset is an immutable, indexable view over noisy/clean pairs. It is
// safe for concurrent use; every Get reads its own files.
type Dataset struct {
	cfg     config
	entries []Entry

	noisyCount int
	cleanCount int
}

// New lists noisyDir and cleanDir, sorts both listings by file name and
// pairs them by position. When the directories hold different numbers of
// files the extra files of the longer listing are not used.
func New(noisyDir, cleanDir string, opts ...Option) (*Dataset, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	noisy, err := cfg.listing.list(noisyDir)
	if err != nil {
		return nil, err
	}
	clean, err := cfg.listing.list(cleanDir)
	if err != nil {
		return nil, err
	}

	n := min(len(noisy), len(clean))
	entries := make([]Entry, n)
	for i := range n {
		entries[i] = Entry{
			ID:    utils.FileStem(noisy[i]),
			Noisy: noisy[i],
			Clean: clean[i],
		}
	}

	return &Dataset{
		cfg:        cfg,
		entries:    entries,
		noisyCount: len(noisy),
		cleanCount: len(clean),
	}, nil
}

// NewFromManifest builds a dataset from explicitly keyed pairs. Entries are
// served in ID order.
func NewFromManifest(m Manifest, opts ...Option) (*Dataset, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	entries := slices.Clone(m.Entries)
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.ID, b.ID) })

	return &Dataset{
		cfg:        cfg,
		entries:    entries,
		noisyCount: len(entries),
		cleanCount: len(entries),
	}, nil
}

// listing selects the audio files of one directory. The zero options keep
// every file whose name ends in ext, dot files included, and follow
// symlinks to regular files.
type listing struct {
	ext        string
	foldCase   bool
	skipHidden bool
}

func (l listing) matches(name string) bool {
	if l.skipHidden && strings.HasPrefix(name, ".") {
		return false
	}
	if l.ext == "" {
		return true
	}
	if l.foldCase {
		return len(name) >= len(l.ext) && strings.EqualFold(name[len(name)-len(l.ext):], l.ext)
	}
	return strings.HasSuffix(name, l.ext)
}

func (l listing) list(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset: list %s: %w", dir, err)
	}
	var paths []string
	for _, de := range des {
		if !l.matches(de.Name()) {
			continue
		}
		path := filepath.Join(dir, de.Name())
		switch {
		case de.Type().IsRegular():
		case de.Type()&fs.ModeSymlink != 0:
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		default:
			continue
		}
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths, nil
}

// Len is the number of usable pairs.
func (d *Dataset) Len() int {
	return len(d.entries)
}

// Counts reports how many files each side listed, before pairing.
func (d *Dataset) Counts() (noisy, clean int) {
	return d.noisyCount, d.cleanCount
}

func (d *Dataset) SampleRate() int   { return d.cfg.sampleRate }
func (d *Dataset) TargetLength() int { return d.cfg.targetLength }

// Entry returns the file names of pair i without loading them.
func (d *Dataset) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(d.entries) {
		return Entry{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(d.entries))
	}
	return d.entries[i], nil
}

// Get loads pair i at the configured sample rate, both sides padded to the
// target length.
func (d *Dataset) Get(ctx context.Context, i int) (Pair, error) {
	e, err := d.Entry(i)
	if err != nil {
		return Pair{}, err
	}

	noisy, err := d.loadFixed(ctx, e.Noisy)
	if err != nil {
		return Pair{}, err
	}
	clean, err := d.loadFixed(ctx, e.Clean)
	if err != nil {
		return Pair{}, err
	}

	return Pair{Index: i, Entry: e, NoisyWave: noisy, CleanWave: clean}, nil
}

func (d *Dataset) loadFixed(ctx context.Context, path string) ([]float32, error) {
	samples, err := d.load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("dataset: load %s: %w", path, err)
	}
	padded, err := Pad(samples, d.cfg.targetLength, d.cfg.overflow)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return padded, nil
}

func (d *Dataset) load(ctx context.Context, path string) ([]float32, error) {
	if d.cfg.cache == nil {
		return d.cfg.decoder.Load(ctx, path, d.cfg.sampleRate)
	}

	key, err := cacheKey(path, d.cfg.sampleRate)
	if err != nil {
		return nil, err
	}
	if b, err := d.cfg.cache.Get(ctx, key); err == nil {
		if samples, ok := decodeSamples(b); ok {
			return samples, nil
		}
	}

	samples, err := d.cfg.decoder.Load(ctx, path, d.cfg.sampleRate)
	if err != nil {
		return nil, err
	}
	// A failed cache write only costs a decode next time.
	_ = d.cfg.cache.Set(ctx, key, encodeSamples(samples), d.cfg.cacheTTL)
	return samples, nil
}

// Pad returns a new slice of exactly target samples: samples followed by
// zeros. Longer input is rejected or truncated according to policy.
func Pad(samples []float32, target int, policy OverflowPolicy) ([]float32, error) {
	if target <= 0 {
		return nil, fmt.Errorf("dataset: invalid target length %d", target)
	}
	if len(samples) > target {
		if policy != OverflowTruncate {
			return nil, fmt.Errorf("%w: %d samples, target %d", ErrWaveformTooLong, len(samples), target)
		}
		samples = samples[:target]
	}
	out := make([]float32, target)
	copy(out, samples)
	return out, nil
}
