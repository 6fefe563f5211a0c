// Package trainers implements the per-task training strategies of the
// continual-learning sequence: EWC regularization and generative memory.
package trainers

import (
	"errors"
	"fmt"

	"github.com/universome/czsl/internal/domain/continual"
	"github.com/universome/czsl/internal/infrastructure/data"
	"github.com/universome/czsl/internal/infrastructure/nn"
)

// ErrEmptyEpoch is returned when an epoch's iterator yields no batches.
var ErrEmptyEpoch = errors.New("trainers: data iterator yielded no batches")

// runEpoch drives one pass over the iterator, calling step per batch.
func runEpoch(it data.Iterator, step func(inputs [][]float64, labels []int) error) error {
	it.Reset()
	batches := 0
	for {
		inputs, labels, ok := it.Next()
		if !ok {
			break
		}
		if err := step(inputs, labels); err != nil {
			return err
		}
		batches++
	}
	if batches == 0 {
		return ErrEmptyEpoch
	}
	return nil
}

func checkBatch(inputs [][]float64, labels []int) error {
	if len(inputs) == 0 {
		return errors.New("trainers: empty batch")
	}
	if len(inputs) != len(labels) {
		return fmt.Errorf("trainers: %d inputs but %d labels", len(inputs), len(labels))
	}
	return nil
}

// EvaluateClassifier measures accuracy of a classification function over an
// iterator, with predictions restricted to the given output mask. Labels
// are global class IDs and must fall inside the mask.
func EvaluateClassifier(classify func(x []float64) []float64, it data.Iterator, mask continual.OutputMask) (float64, error) {
	var correct, total int
	it.Reset()
	for {
		inputs, labels, ok := it.Next()
		if !ok {
			break
		}
		remapped, err := continual.RemapLabels(labels, mask)
		if err != nil {
			return 0, err
		}
		for i, x := range inputs {
			pruned := continual.PruneVector(classify(x), mask)
			if nn.ArgMax(pruned) == remapped[i] {
				correct++
			}
			total++
		}
	}
	if total == 0 {
		return 0, errors.New("trainers: no evaluation samples")
	}
	return float64(correct) / float64(total), nil
}
