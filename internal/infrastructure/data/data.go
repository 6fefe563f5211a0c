// Package data provides labeled-batch iteration and synthetic task datasets
// for continual-learning experiments.
package data

import (
	"fmt"
	"math/rand"

	rng "github.com/leesper/go_rng"
)

// Iterator yields labeled batches and can be rewound for another pass.
type Iterator interface {
	Reset()
	Next() (inputs [][]float64, labels []int, ok bool)
}

// SliceIterator walks an in-memory dataset in fixed-size batches. The final
// batch may be short.
type SliceIterator struct {
	inputs    [][]float64
	labels    []int
	batchSize int
	pos       int
}

// NewSliceIterator wraps parallel input/label slices.
func NewSliceIterator(inputs [][]float64, labels []int, batchSize int) (*SliceIterator, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("data: %d inputs but %d labels", len(inputs), len(labels))
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("data: batch size must be positive, got %d", batchSize)
	}
	return &SliceIterator{inputs: inputs, labels: labels, batchSize: batchSize}, nil
}

// Len returns the number of samples.
func (it *SliceIterator) Len() int { return len(it.inputs) }

// Reset rewinds to the first batch.
func (it *SliceIterator) Reset() { it.pos = 0 }

// Next returns the next batch, or ok=false when exhausted.
func (it *SliceIterator) Next() ([][]float64, []int, bool) {
	if it.pos >= len(it.inputs) {
		return nil, nil, false
	}
	end := it.pos + it.batchSize
	if end > len(it.inputs) {
		end = len(it.inputs)
	}
	inputs := it.inputs[it.pos:end]
	labels := it.labels[it.pos:end]
	it.pos = end
	return inputs, labels, true
}

// TaskDataset is an in-memory labeled dataset for one task. Labels are
// global class IDs.
type TaskDataset struct {
	Inputs [][]float64
	Labels []int
}

// Iterator returns a batch iterator over the dataset.
func (d TaskDataset) Iterator(batchSize int) (*SliceIterator, error) {
	return NewSliceIterator(d.Inputs, d.Labels, batchSize)
}

// Shuffle permutes the dataset in place.
func (d TaskDataset) Shuffle(seed int64) {
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(d.Inputs), func(i, j int) {
		d.Inputs[i], d.Inputs[j] = d.Inputs[j], d.Inputs[i]
		d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
	})
}

// SyntheticClusters builds a dataset of Gaussian clusters, one per class:
// each class gets a random center and perClass samples scattered around it
// with the given spread. Interleaves classes so unshuffled batches still mix
// them.
func SyntheticClusters(classes []int, perClass, dim int, spread float64, seed int64) TaskDataset {
	gauss := rng.NewGaussianGenerator(seed)

	centers := make(map[int][]float64, len(classes))
	for _, c := range classes {
		center := make([]float64, dim)
		for i := range center {
			center[i] = gauss.Gaussian(0, 1)
		}
		centers[c] = center
	}

	n := len(classes) * perClass
	ds := TaskDataset{
		Inputs: make([][]float64, 0, n),
		Labels: make([]int, 0, n),
	}
	for s := 0; s < perClass; s++ {
		for _, c := range classes {
			x := make([]float64, dim)
			for i, v := range centers[c] {
				x[i] = v + gauss.Gaussian(0, spread)
			}
			ds.Inputs = append(ds.Inputs, x)
			ds.Labels = append(ds.Labels, c)
		}
	}
	return ds
}
