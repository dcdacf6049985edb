package denoiser

import (
	"math"
	"math/rand/v2"
)

// Conv1D is a stride-1, dilation-1 one-dimensional convolution with
// symmetric zero padding. It computes cross-correlation (the kernel is not
// flipped), matching the conventional deep-learning definition:
//
//	out[o][t] = bias[o] + sum_c sum_k weight[o][c][k] * in[c][t+k-padding]
//
// Weight is stored as [Out][In][Kernel].
type Conv1D struct {
	In      int
	Out     int
	Kernel  int
	Padding int
	Weight  []float32
	Bias    []float32
}

func newConv1D(in, out, kernel, padding int) *Conv1D {
	return &Conv1D{
		In:      in,
		Out:     out,
		Kernel:  kernel,
		Padding: padding,
		Weight:  make([]float32, out*in*kernel),
		Bias:    make([]float32, out),
	}
}

// initUniform fills weights and biases from U(-1/sqrt(fan_in), 1/sqrt(fan_in)),
// the default initialisation for convolution layers in common frameworks.
func (c *Conv1D) initUniform(rng *rand.Rand) {
	bound := float32(1 / math.Sqrt(float64(c.In*c.Kernel)))
	for i := range c.Weight {
		c.Weight[i] = (rng.Float32()*2 - 1) * bound
	}
	for i := range c.Bias {
		c.Bias[i] = (rng.Float32()*2 - 1) * bound
	}
}

func (c *Conv1D) kernel(o, ch int) []float32 {
	off := (o*c.In + ch) * c.Kernel
	return c.Weight[off : off+c.Kernel]
}

// outputLength is the sequence length produced for an input of length n.
func (c *Conv1D) outputLength(n int) int {
	return n + 2*c.Padding - c.Kernel + 1
}

// tapRange returns the output positions [lo, hi) for which kernel tap k
// reads a real (non-padding) input sample, given input length n and output
// length m.
func (c *Conv1D) tapRange(k, n, m int) (shift, lo, hi int) {
	shift = k - c.Padding
	lo = 0
	if -shift > lo {
		lo = -shift
	}
	hi = m
	if n-shift < hi {
		hi = n - shift
	}
	return shift, lo, hi
}

// forward applies the layer to one batch item laid out as [In][n] and
// returns a freshly allocated [Out][m] result.
func (c *Conv1D) forward(x []float32, n int) []float32 {
	m := c.outputLength(n)
	out := make([]float32, c.Out*m)
	for o := 0; o < c.Out; o++ {
		dst := out[o*m : (o+1)*m]
		b := c.Bias[o]
		for t := range dst {
			dst[t] = b
		}
		for ch := 0; ch < c.In; ch++ {
			src := x[ch*n : (ch+1)*n]
			w := c.kernel(o, ch)
			for k, wk := range w {
				if wk == 0 {
					continue
				}
				shift, lo, hi := c.tapRange(k, n, m)
				for t := lo; t < hi; t++ {
					dst[t] += wk * src[t+shift]
				}
			}
		}
	}
	return out
}

// backward accumulates parameter gradients into g and returns the gradient
// with respect to the layer input. x is the [In][n] input seen during the
// forward pass and gradOut is the [Out][m] upstream gradient.
func (c *Conv1D) backward(x []float32, n int, gradOut []float32, g *layerGrad, needInput bool) []float32 {
	m := c.outputLength(n)
	var gradIn []float32
	if needInput {
		gradIn = make([]float32, c.In*n)
	}
	for o := 0; o < c.Out; o++ {
		gy := gradOut[o*m : (o+1)*m]
		var sum float32
		for _, v := range gy {
			sum += v
		}
		g.Bias[o] += sum
		for ch := 0; ch < c.In; ch++ {
			src := x[ch*n : (ch+1)*n]
			w := c.kernel(o, ch)
			gw := g.Weight[(o*c.In+ch)*c.Kernel : (o*c.In+ch+1)*c.Kernel]
			var gx []float32
			if needInput {
				gx = gradIn[ch*n : (ch+1)*n]
			}
			for k := range w {
				shift, lo, hi := c.tapRange(k, n, m)
				var acc float32
				for t := lo; t < hi; t++ {
					acc += gy[t] * src[t+shift]
				}
				gw[k] += acc
				if needInput {
					wk := w[k]
					for t := lo; t < hi; t++ {
						gx[t+shift] += wk * gy[t]
					}
				}
			}
		}
	}
	return gradIn
}

func (c *Conv1D) clone() *Conv1D {
	cp := newConv1D(c.In, c.Out, c.Kernel, c.Padding)
	copy(cp.Weight, c.Weight)
	copy(cp.Bias, c.Bias)
	return cp
}

func relu(v []float32) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

// reluBackward zeroes gradient entries whose activation was clamped.
func reluBackward(grad, activation []float32) {
	for i, a := range activation {
		if a <= 0 {
			grad[i] = 0
		}
	}
}
