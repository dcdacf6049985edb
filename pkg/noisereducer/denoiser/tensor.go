package denoiser

import "fmt"

// Tensor is a dense float32 array in row-major order.
// The network consumes rank-3 tensors shaped (batch, channels, length).
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zero-filled tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{Shape: s, Data: make([]float32, n)}
}

// FromWaveform wraps a single waveform as a (1, 1, len) tensor.
// The samples are copied.
func FromWaveform(samples []float32) *Tensor {
	t := NewTensor(1, 1, len(samples))
	copy(t.Data, samples)
	return t
}

// FromBatch stacks equally long waveforms into a (len(batch), 1, L) tensor.
func FromBatch(batch [][]float32) (*Tensor, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShapeMismatch)
	}
	length := len(batch[0])
	t := NewTensor(len(batch), 1, length)
	for i, w := range batch {
		if len(w) != length {
			return nil, fmt.Errorf("%w: batch item %d has length %d, want %d", ErrShapeMismatch, i, len(w), length)
		}
		copy(t.Data[i*length:], w)
	}
	return t, nil
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Row returns the slice view of one (batch, channel) row of a rank-3 tensor.
func (t *Tensor) Row(b, c int) []float32 {
	channels, length := t.Shape[1], t.Shape[2]
	off := (b*channels + c) * length
	return t.Data[off : off+length]
}

// Waveform returns a copy of batch item b of a single-channel tensor.
func (t *Tensor) Waveform(b int) []float32 {
	row := t.Row(b, 0)
	out := make([]float32, len(row))
	copy(out, row)
	return out
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

// checkInput validates a network input: rank 3, one channel, non-empty
// sequence, and a backing array matching the shape.
func checkInput(x *Tensor) error {
	if x == nil {
		return fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}
	if x.Rank() != 3 {
		return fmt.Errorf("%w: got rank %d %v, want (batch, 1, length)", ErrShapeMismatch, x.Rank(), x.Shape)
	}
	if x.Shape[0] < 1 {
		return fmt.Errorf("%w: batch size %d", ErrShapeMismatch, x.Shape[0])
	}
	if x.Shape[1] != InputChannels {
		return fmt.Errorf("%w: got %d channels, want %d", ErrShapeMismatch, x.Shape[1], InputChannels)
	}
	if x.Shape[2] < 1 {
		return fmt.Errorf("%w: sequence length %d", ErrShapeMismatch, x.Shape[2])
	}
	if len(x.Data) != x.Shape[0]*x.Shape[1]*x.Shape[2] {
		return fmt.Errorf("%w: shape %v does not match %d values", ErrShapeMismatch, x.Shape, len(x.Data))
	}
	return nil
}
