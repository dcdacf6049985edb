package denoiser

import (
	"fmt"
	"math"
)

// AdamConfig holds optimizer hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdamConfig returns lr 1e-3, betas (0.9, 0.999), eps 1e-8.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam is the Adam optimizer bound to one network's parameters.
type Adam struct {
	cfg  AdamConfig
	net  *Network
	step int
	m    [][]float64
	v    [][]float64
}

// Validate checks lr > 0, 0 <= beta < 1 and eps > 0. A zero Beta1 is
// allowed and gives RMSProp-style updates.
func (c AdamConfig) Validate() error {
	switch {
	case !(c.LearningRate > 0):
		return fmt.Errorf("denoiser: adam learning rate must be positive, got %g", c.LearningRate)
	case !(c.Beta1 >= 0 && c.Beta1 < 1):
		return fmt.Errorf("denoiser: adam beta1 must be in [0, 1), got %g", c.Beta1)
	case !(c.Beta2 >= 0 && c.Beta2 < 1):
		return fmt.Errorf("denoiser: adam beta2 must be in [0, 1), got %g", c.Beta2)
	case !(c.Epsilon > 0):
		return fmt.Errorf("denoiser: adam epsilon must be positive, got %g", c.Epsilon)
	}
	return nil
}

// NewAdam creates an optimizer for net. Start from DefaultAdamConfig and
// override fields; cfg is used as given.
func NewAdam(net *Network, cfg AdamConfig) (*Adam, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params := net.params()
	a := &Adam{
		cfg: cfg,
		net: net,
		m:   make([][]float64, len(params)),
		v:   make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p))
		a.v[i] = make([]float64, len(p))
	}
	return a, nil
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.step
}

// Step applies one update using g.
func (a *Adam) Step(g *Gradients) {
	a.step++
	c := a.cfg
	bc1 := 1 - math.Pow(c.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(c.Beta2, float64(a.step))

	params, grads := a.net.params(), g.slices()
	for i, p := range params {
		m, v, gr := a.m[i], a.v[i], grads[i]
		for j := range p {
			gj := float64(gr[j])
			m[j] = c.Beta1*m[j] + (1-c.Beta1)*gj
			v[j] = c.Beta2*v[j] + (1-c.Beta2)*gj*gj
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p[j] -= float32(c.LearningRate * mHat / (math.Sqrt(vHat) + c.Epsilon))
		}
	}
}
