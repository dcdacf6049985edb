// Package training fits the denoiser network to a paired dataset with MSE
// loss and Adam.
package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/himanishpuri/NoiseReducer/pkg/logger"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/dataset"
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/denoiser"
)

var ErrEmptyBatch = errors.New("training: empty batch")

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
}

// EpochStats summarises one pass over the training set. EvalLoss is zero
// when no evaluation set is configured.
type EpochStats struct {
	Epoch     int
	TrainLoss float64
	EvalLoss  float64
	Batches   int
	Samples   int
	Duration  time.Duration
}

type config struct {
	adam       denoiser.AdamConfig
	workers    int
	seed       uint64
	shuffle    bool
	eval       *dataset.Dataset
	checkpoint string
	onEpoch    func(EpochStats) error
	log        Logger
}

type Option func(*config)

// WithAdam replaces the optimizer settings. Start from
// denoiser.DefaultAdamConfig.
func WithAdam(cfg denoiser.AdamConfig) Option {
	return func(c *config) { c.adam = cfg }
}

// WithWorkers bounds the goroutines computing per-sample gradients.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithSeed fixes the shuffle order.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}

func WithShuffle(on bool) Option {
	return func(c *config) { c.shuffle = on }
}

// WithEvalSet scores the network on ds after every epoch.
func WithEvalSet(ds *dataset.Dataset) Option {
	return func(c *config) { c.eval = ds }
}

// WithCheckpoint saves the weights to path after every epoch.
func WithCheckpoint(path string) Option {
	return func(c *config) { c.checkpoint = path }
}

// WithEpochCallback is called after each epoch. A non-nil error stops Fit.
func WithEpochCallback(fn func(EpochStats) error) Option {
	return func(c *config) { c.onEpoch = fn }
}

func WithLogger(l Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// Trainer owns a network and its optimizer state. It is not safe for
// concurrent use.
type Trainer struct {
	net   *denoiser.Network
	opt   *denoiser.Adam
	cfg   config
	rng   *rand.Rand
	grads []*denoiser.Gradients
	total *denoiser.Gradients
	epoch int
}

func New(net *denoiser.Network, opts ...Option) (*Trainer, error) {
	if net == nil {
		return nil, errors.New("training: nil network")
	}
	cfg := config{
		adam:    denoiser.DefaultAdamConfig(),
		workers: runtime.GOMAXPROCS(0),
		seed:    uint64(time.Now().UnixNano()),
		shuffle: true,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		return nil, fmt.Errorf("training: invalid worker count %d", cfg.workers)
	}

	opt, err := denoiser.NewAdam(net, cfg.adam)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}

	t := &Trainer{
		net:   net,
		opt:   opt,
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15)),
		grads: make([]*denoiser.Gradients, cfg.workers),
		total: net.NewGradients(),
	}
	for i := range t.grads {
		t.grads[i] = net.NewGradients()
	}
	return t, nil
}

func (t *Trainer) Network() *denoiser.Network { return t.net }

// Steps returns the number of optimizer updates applied so far.
func (t *Trainer) Steps() int { return t.opt.Steps() }

// Step runs one optimizer update on the batch and returns its mean loss
// measured before the update.
func (t *Trainer) Step(b dataset.Batch) (float64, error) {
	if len(b.Pairs) == 0 {
		return 0, ErrEmptyBatch
	}
	loss, err := t.accumulate(b.Noisy(), b.Clean())
	if err != nil {
		return 0, err
	}
	t.total.Scale(1 / float32(len(b.Pairs)))
	t.opt.Step(t.total)
	return loss, nil
}

// accumulate fills t.total with the summed per-sample gradients. Sample i
// is handled by worker i mod workers, so results do not depend on
// scheduling.
func (t *Trainer) accumulate(noisy, clean [][]float32) (float64, error) {
	workers := min(t.cfg.workers, len(noisy))
	losses := make([]float64, len(noisy))
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		g := t.grads[w]
		g.Zero()
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(noisy); i += workers {
				l, err := t.net.LossAndGradients(noisy[i], clean[i], g)
				if err != nil {
					errs[w] = fmt.Errorf("sample %d: %w", i, err)
					return
				}
				losses[i] = l
			}
		}(w)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return 0, err
	}

	t.total.Zero()
	for w := 0; w < workers; w++ {
		t.total.Add(t.grads[w])
	}
	var sum float64
	for _, l := range losses {
		sum += l
	}
	return sum / float64(len(losses)), nil
}

// Evaluate returns the mean per-pair loss over ds without updating the
// network.
func (t *Trainer) Evaluate(ctx context.Context, ds *dataset.Dataset, batchSize int) (float64, error) {
	return Evaluate(ctx, t.net, ds, batchSize)
}

// Evaluate scores net on every pair of ds.
func Evaluate(ctx context.Context, net *denoiser.Network, ds *dataset.Dataset, batchSize int) (float64, error) {
	if ds.Len() == 0 {
		return 0, errors.New("training: empty evaluation set")
	}
	var sum float64
	var n int
	for b, err := range ds.Batches(ctx, batchSize, nil) {
		if err != nil {
			return 0, err
		}
		for _, p := range b.Pairs {
			l, err := net.Loss(p.NoisyWave, p.CleanWave)
			if err != nil {
				return 0, fmt.Errorf("pair %d: %w", p.Index, err)
			}
			sum += l
			n++
		}
	}
	return sum / float64(n), nil
}

// Fit trains for the given number of epochs. Cancellation is checked
// between steps; the stats of completed epochs are returned alongside
// any error.
func (t *Trainer) Fit(ctx context.Context, ds *dataset.Dataset, epochs, batchSize int) ([]EpochStats, error) {
	if epochs < 1 {
		return nil, fmt.Errorf("training: invalid epoch count %d", epochs)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("training: invalid batch size %d", batchSize)
	}
	if ds.Len() == 0 {
		return nil, errors.New("training: empty dataset")
	}

	history := make([]EpochStats, 0, epochs)
	for range epochs {
		stats, err := t.runEpoch(ctx, ds, batchSize)
		if err != nil {
			return history, err
		}
		history = append(history, stats)

		t.cfg.log.Infof("epoch %d: train_loss=%.6f eval_loss=%.6f batches=%d (%s)",
			stats.Epoch, stats.TrainLoss, stats.EvalLoss, stats.Batches, stats.Duration.Round(time.Millisecond))

		if t.cfg.checkpoint != "" {
			if err := t.net.SaveFile(t.cfg.checkpoint); err != nil {
				return history, fmt.Errorf("training: checkpoint: %w", err)
			}
			t.cfg.log.Debugf("checkpoint written to %s", t.cfg.checkpoint)
		}
		if t.cfg.onEpoch != nil {
			if err := t.cfg.onEpoch(stats); err != nil {
				return history, err
			}
		}
	}
	return history, nil
}

func (t *Trainer) runEpoch(ctx context.Context, ds *dataset.Dataset, batchSize int) (EpochStats, error) {
	start := time.Now()
	t.epoch++
	stats := EpochStats{Epoch: t.epoch}

	var rng *rand.Rand
	if t.cfg.shuffle {
		rng = t.rng
	}

	var weighted float64
	for b, err := range ds.Batches(ctx, batchSize, rng) {
		if err != nil {
			return stats, err
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		loss, err := t.Step(b)
		if err != nil {
			return stats, err
		}
		weighted += loss * float64(len(b.Pairs))
		stats.Batches++
		stats.Samples += len(b.Pairs)
		t.cfg.log.Debugf("epoch %d batch %d: loss=%.6f", stats.Epoch, stats.Batches, loss)
	}
	if stats.Samples > 0 {
		stats.TrainLoss = weighted / float64(stats.Samples)
	}

	if t.cfg.eval != nil {
		eval, err := Evaluate(ctx, t.net, t.cfg.eval, batchSize)
		if err != nil {
			return stats, fmt.Errorf("training: evaluate: %w", err)
		}
		stats.EvalLoss = eval
	}
	stats.Duration = time.Since(start)
	return stats, nil
}
