package denoiser

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/himanishpuri/NoiseReducer/pkg/utils"
)

const (
	weightsFormat  = "noisereducer/conv1d-denoiser"
	weightsVersion = 1
)

type weightsFile struct {
	Format  string        `msgpack:"format"`
	Version int           `msgpack:"version"`
	Layers  []layerRecord `msgpack:"layers"`
}

type layerRecord struct {
	Name    string    `msgpack:"name"`
	In      int       `msgpack:"in"`
	Out     int       `msgpack:"out"`
	Kernel  int       `msgpack:"kernel"`
	Padding int       `msgpack:"padding"`
	Weight  []float32 `msgpack:"weight"`
	Bias    []float32 `msgpack:"bias"`
}

// Save encodes the parameters as a msgpack weights document.
func (n *Network) Save(w io.Writer) error {
	doc := weightsFile{
		Format:  weightsFormat,
		Version: weightsVersion,
		Layers:  make([]layerRecord, len(n.layers)),
	}
	for i, l := range n.layers {
		doc.Layers[i] = layerRecord{
			Name:    topology[i].name,
			In:      l.In,
			Out:     l.Out,
			Kernel:  l.Kernel,
			Padding: l.Padding,
			Weight:  l.Weight,
			Bias:    l.Bias,
		}
	}
	bw := bufio.NewWriter(w)
	if err := msgpack.NewEncoder(bw).Encode(&doc); err != nil {
		return fmt.Errorf("denoiser: encode weights: %w", err)
	}
	return bw.Flush()
}

// SaveFile writes the weights to path atomically.
func (n *Network) SaveFile(path string) error {
	return utils.WriteFileAtomic(path, n.Save)
}

// Load decodes a weights document and returns a network holding its
// parameters. Every layer is validated against the fixed topology before
// anything is built, so a rejected document never yields a network.
func Load(r io.Reader) (*Network, error) {
	var doc weightsFile
	if err := msgpack.NewDecoder(bufio.NewReader(r)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrIncompatibleWeights, err)
	}
	if doc.Format != weightsFormat {
		return nil, fmt.Errorf("%w: unknown format %q", ErrIncompatibleWeights, doc.Format)
	}
	if doc.Version != weightsVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIncompatibleWeights, doc.Version)
	}
	if len(doc.Layers) != len(topology) {
		return nil, fmt.Errorf("%w: got %d layers, want %d", ErrIncompatibleWeights, len(doc.Layers), len(topology))
	}
	for i, rec := range doc.Layers {
		if err := validateLayer(i, rec); err != nil {
			return nil, err
		}
	}

	n := newEmpty()
	for i, rec := range doc.Layers {
		copy(n.layers[i].Weight, rec.Weight)
		copy(n.layers[i].Bias, rec.Bias)
	}
	return n, nil
}

// LoadFile opens path and calls Load.
func LoadFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("denoiser: open weights: %w", err)
	}
	defer f.Close()

	n, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

func validateLayer(i int, rec layerRecord) error {
	spec := topology[i]
	if rec.Name != spec.name {
		return fmt.Errorf("%w: layer %d is named %q, want %q", ErrIncompatibleWeights, i, rec.Name, spec.name)
	}
	if rec.In != spec.in || rec.Out != spec.out || rec.Kernel != KernelSize || rec.Padding != Padding {
		return fmt.Errorf("%w: layer %s has (in=%d out=%d kernel=%d padding=%d), want (in=%d out=%d kernel=%d padding=%d)",
			ErrIncompatibleWeights, spec.name,
			rec.In, rec.Out, rec.Kernel, rec.Padding,
			spec.in, spec.out, KernelSize, Padding)
	}
	if want := spec.out * spec.in * KernelSize; len(rec.Weight) != want {
		return fmt.Errorf("%w: layer %s weight has %d values, want %d", ErrIncompatibleWeights, spec.name, len(rec.Weight), want)
	}
	if len(rec.Bias) != spec.out {
		return fmt.Errorf("%w: layer %s bias has %d values, want %d", ErrIncompatibleWeights, spec.name, len(rec.Bias), spec.out)
	}
	return nil
}
