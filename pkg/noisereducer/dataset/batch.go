package dataset

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
)

// Batch is a group of loaded pairs of equal length.
type Batch struct {
	Pairs []Pair
}

// Noisy returns the noisy waveforms of the batch.
func (b Batch) Noisy() [][]float32 {
	out := make([][]float32, len(b.Pairs))
	for i, p := range b.Pairs {
		out[i] = p.NoisyWave
	}
	return out
}

// Clean returns the clean waveforms of the batch.
func (b Batch) Clean() [][]float32 {
	out := make([][]float32, len(b.Pairs))
	for i, p := range b.Pairs {
		out[i] = p.CleanWave
	}
	return out
}

type loaded struct {
	pair Pair
	err  error
}

// Prefetch loads the pairs at indices with a bounded pool of workers and
// yields them in the order given. Iteration stops at the first error.
func (d *Dataset) Prefetch(ctx context.Context, indices []int) iter.Seq2[Pair, error] {
	return func(yield func(Pair, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// pending preserves order; each channel is filled by exactly one
		// goroutine and buffered so workers never block on a gone consumer.
		pending := make(chan chan loaded, d.cfg.workers)
		go func() {
			defer close(pending)
			sem := make(chan struct{}, d.cfg.workers)
			for _, idx := range indices {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				ch := make(chan loaded, 1)
				go func() {
					defer func() { <-sem }()
					p, err := d.Get(ctx, idx)
					ch <- loaded{pair: p, err: err}
				}()
				select {
				case pending <- ch:
				case <-ctx.Done():
					return
				}
			}
		}()

		delivered := 0
		for ch := range pending {
			r := <-ch
			if !yield(r.pair, r.err) || r.err != nil {
				return
			}
			delivered++
		}
		// pending only closes early when ctx was cancelled.
		if delivered < len(indices) {
			yield(Pair{}, ctx.Err())
		}
	}
}

// Batches walks the whole dataset once in groups of batchSize. A non-nil
// rng shuffles the order. The last batch may be smaller.
func (d *Dataset) Batches(ctx context.Context, batchSize int, rng *rand.Rand) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		if batchSize < 1 {
			yield(Batch{}, fmt.Errorf("dataset: invalid batch size %d", batchSize))
			return
		}

		indices := make([]int, d.Len())
		for i := range indices {
			indices[i] = i
		}
		if rng != nil {
			rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		}

		batch := Batch{Pairs: make([]Pair, 0, batchSize)}
		for p, err := range d.Prefetch(ctx, indices) {
			if err != nil {
				yield(Batch{}, err)
				return
			}
			batch.Pairs = append(batch.Pairs, p)
			if len(batch.Pairs) == batchSize {
				if !yield(batch, nil) {
					return
				}
				batch = Batch{Pairs: make([]Pair, 0, batchSize)}
			}
		}
		if len(batch.Pairs) > 0 {
			yield(batch, nil)
		}
	}
}
