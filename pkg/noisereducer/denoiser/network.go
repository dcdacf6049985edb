// Package denoiser implements the fixed-topology 1-D convolutional
// encoder/decoder used to remove noise from 16 kHz mono waveforms.
//
// Layer names, shapes and weight layout follow the conventional
// (out, in, kernel) convolution layout so trained parameters can be
// exchanged with other tooling through the weights file.
package denoiser

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	// InputChannels is the channel count the network accepts and produces.
	InputChannels = 1
	// KernelSize is the kernel width of every layer.
	KernelSize = 15
	// Padding is the zero padding applied on both sides by every layer,
	// which keeps output length equal to input length.
	Padding = 7
)

var (
	ErrShapeMismatch       = errors.New("denoiser: shape mismatch")
	ErrIncompatibleWeights = errors.New("denoiser: incompatible weights")
)

type layerSpec struct {
	name string
	in   int
	out  int
	relu bool
}

// topology is the exact layer stack. Names match the parameter keys of the
// reference checkpoints (activations occupy the odd indices).
var topology = []layerSpec{
	{name: "encoder.0", in: 1, out: 16, relu: true},
	{name: "encoder.2", in: 16, out: 8, relu: true},
	{name: "decoder.0", in: 8, out: 16, relu: true},
	{name: "decoder.2", in: 16, out: 1, relu: false},
}

// LayerInfo describes one layer for inspection tools.
type LayerInfo struct {
	Name    string
	In      int
	Out     int
	Kernel  int
	Padding int
	ReLU    bool
	Params  int
}

// Network is the denoising model. Parameters are only mutated by an
// optimizer; Forward and Denoise never write to the network and are safe for
// concurrent use.
type Network struct {
	layers []*Conv1D
}

func newEmpty() *Network {
	n := &Network{layers: make([]*Conv1D, len(topology))}
	for i, spec := range topology {
		n.layers[i] = newConv1D(spec.in, spec.out, KernelSize, Padding)
	}
	return n
}

// New creates a network with randomly initialised parameters drawn from
// rng. A nil rng seeds from the clock.
func New(rng *rand.Rand) *Network {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	n := newEmpty()
	for _, l := range n.layers {
		l.initUniform(rng)
	}
	return n
}

// NewSeeded is New with a deterministic PCG source.
func NewSeeded(seed uint64) *Network {
	return New(rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15)))
}

// Layers reports the topology with per-layer parameter counts.
func (n *Network) Layers() []LayerInfo {
	out := make([]LayerInfo, len(n.layers))
	for i, l := range n.layers {
		out[i] = LayerInfo{
			Name:    topology[i].name,
			In:      l.In,
			Out:     l.Out,
			Kernel:  l.Kernel,
			Padding: l.Padding,
			ReLU:    topology[i].relu,
			Params:  len(l.Weight) + len(l.Bias),
		}
	}
	return out
}

// NumParams returns the total number of trainable parameters.
func (n *Network) NumParams() int {
	total := 0
	for _, l := range n.layers {
		total += len(l.Weight) + len(l.Bias)
	}
	return total
}

// Clone returns a deep copy.
func (n *Network) Clone() *Network {
	cp := &Network{layers: make([]*Conv1D, len(n.layers))}
	for i, l := range n.layers {
		cp.layers[i] = l.clone()
	}
	return cp
}

// Forward maps a (batch, 1, L) tensor to a (batch, 1, L) tensor.
func (n *Network) Forward(x *Tensor) (*Tensor, error) {
	if err := checkInput(x); err != nil {
		return nil, err
	}
	batch, length := x.Shape[0], x.Shape[2]
	y := NewTensor(batch, InputChannels, length)
	for b := 0; b < batch; b++ {
		out, _ := n.forwardItem(x.Row(b, 0), length, false)
		copy(y.Row(b, 0), out)
	}
	return y, nil
}

// DenoiseChunk is the number of output samples Denoise computes per pass.
// Long clips are split so activations stay bounded.
const DenoiseChunk = 1 << 16

// receptiveRadius is how far an output sample sees on each side.
const receptiveRadius = Padding * 4

// Denoise runs a single waveform through the network and returns a new
// waveform of the same length.
func (n *Network) Denoise(samples []float32) ([]float32, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty waveform", ErrShapeMismatch)
	}
	return n.denoiseChunked(samples, DenoiseChunk), nil
}

// denoiseChunked evaluates samples in windows of chunk outputs, each padded
// with receptiveRadius real samples per side, so the result equals a single
// pass over the whole clip.
func (n *Network) denoiseChunked(samples []float32, chunk int) []float32 {
	total := len(samples)
	if total <= chunk+2*receptiveRadius {
		out, _ := n.forwardItem(samples, total, false)
		return out
	}
	out := make([]float32, total)
	for start := 0; start < total; start += chunk {
		end := min(start+chunk, total)
		lo := max(0, start-receptiveRadius)
		hi := min(total, end+receptiveRadius)
		y, _ := n.forwardItem(samples[lo:hi], hi-lo, false)
		copy(out[start:end], y[start-lo:end-lo])
	}
	return out
}

// forwardItem runs one batch item. When keep is set the input of every
// layer is returned for the backward pass.
func (n *Network) forwardItem(x []float32, length int, keep bool) ([]float32, [][]float32) {
	var acts [][]float32
	if keep {
		acts = make([][]float32, len(n.layers))
	}
	h := x
	for i, l := range n.layers {
		if keep {
			acts[i] = h
		}
		h = l.forward(h, length)
		if topology[i].relu {
			relu(h)
		}
	}
	return h, acts
}
