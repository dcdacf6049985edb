package denoiser

import "fmt"

type layerGrad struct {
	Weight []float32
	Bias   []float32
}

// Gradients holds one accumulator per network parameter. A Gradients value
// is owned by a single goroutine; combine results from several with Add.
type Gradients struct {
	layers []layerGrad
}

// NewGradients allocates zeroed accumulators shaped like n.
func (n *Network) NewGradients() *Gradients {
	g := &Gradients{layers: make([]layerGrad, len(n.layers))}
	for i, l := range n.layers {
		g.layers[i] = layerGrad{
			Weight: make([]float32, len(l.Weight)),
			Bias:   make([]float32, len(l.Bias)),
		}
	}
	return g
}

// Zero resets every accumulator.
func (g *Gradients) Zero() {
	for _, s := range g.slices() {
		clear(s)
	}
}

// Add accumulates other into g.
func (g *Gradients) Add(other *Gradients) {
	dst, src := g.slices(), other.slices()
	for i := range dst {
		for j, v := range src[i] {
			dst[i][j] += v
		}
	}
}

// Scale multiplies every accumulator by f.
func (g *Gradients) Scale(f float32) {
	for _, s := range g.slices() {
		for j := range s {
			s[j] *= f
		}
	}
}

// slices lists the accumulators in the same order as Network.params.
func (g *Gradients) slices() [][]float32 {
	out := make([][]float32, 0, 2*len(g.layers))
	for i := range g.layers {
		out = append(out, g.layers[i].Weight, g.layers[i].Bias)
	}
	return out
}

func (n *Network) params() [][]float32 {
	out := make([][]float32, 0, 2*len(n.layers))
	for _, l := range n.layers {
		out = append(out, l.Weight, l.Bias)
	}
	return out
}

// Loss returns the mean squared error between the network output for noisy
// and the clean target.
func (n *Network) Loss(noisy, clean []float32) (float64, error) {
	if err := checkPair(noisy, clean); err != nil {
		return 0, err
	}
	out, _ := n.forwardItem(noisy, len(noisy), false)
	return mse(out, clean), nil
}

// LossAndGradients computes the mean squared error for one training pair
// and adds its parameter gradients into g.
func (n *Network) LossAndGradients(noisy, clean []float32, g *Gradients) (float64, error) {
	if err := checkPair(noisy, clean); err != nil {
		return 0, err
	}
	length := len(noisy)
	out, acts := n.forwardItem(noisy, length, true)
	loss := mse(out, clean)

	grad := make([]float32, length)
	scale := 2 / float32(length)
	for t := range out {
		grad[t] = scale * (out[t] - clean[t])
	}

	for i := len(n.layers) - 1; i >= 0; i-- {
		gradIn := n.layers[i].backward(acts[i], length, grad, &g.layers[i], i > 0)
		if i > 0 {
			// acts[i] is the post-activation output of layer i-1.
			if topology[i-1].relu {
				reluBackward(gradIn, acts[i])
			}
			grad = gradIn
		}
	}
	return loss, nil
}

func checkPair(noisy, clean []float32) error {
	if len(noisy) == 0 {
		return fmt.Errorf("%w: empty waveform", ErrShapeMismatch)
	}
	if len(noisy) != len(clean) {
		return fmt.Errorf("%w: noisy has %d samples, clean has %d", ErrShapeMismatch, len(noisy), len(clean))
	}
	return nil
}

func mse(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum / float64(len(a))
}
