// Package importance estimates per-parameter importance scores used to
// protect previously learned weights from catastrophic forgetting.
package importance

import (
	"errors"
	"math/rand"

	"github.com/universome/czsl/internal/domain/continual"
	"github.com/universome/czsl/internal/infrastructure/nn"
)

// ErrNoSamples is returned when the batch source yields no data; importance
// scores from zero samples would be garbage, so estimation fails explicitly.
var ErrNoSamples = errors.New("importance: batch source yielded no samples")

// Model is the differentiable-classifier surface the estimators need. The
// gradient order of Backprop defines the alignment of the returned
// importance vector; estimators never mutate parameters.
type Model interface {
	ParameterCount() int
	Forward(x []float64) []float64
	Backprop(x, gradOut []float64) (paramGrad, inputGrad []float64)
}

// BatchSource yields labeled batches and can be rewound. The data package's
// iterators satisfy it.
type BatchSource interface {
	Reset()
	Next() (inputs [][]float64, labels []int, ok bool)
}

// DiagonalFisher approximates the diagonal of the Fisher information matrix:
// for each sample, the model's logits are restricted to the given output
// mask, a label is drawn from the resulting predictive distribution, and the
// squared components of the negative-log-likelihood gradient are accumulated
// as a running mean (stable over arbitrarily long sources).
func DiagonalFisher(m Model, batches BatchSource, mask continual.OutputMask, seed int64) ([]float64, error) {
	if mask.NumActive() == 0 {
		return nil, errors.New("importance: output mask selects no classes")
	}

	rng := rand.New(rand.NewSource(seed))
	fisher := make([]float64, m.ParameterCount())
	var n float64

	batches.Reset()
	for {
		inputs, _, ok := batches.Next()
		if !ok {
			break
		}
		for _, x := range inputs {
			logits := m.Forward(x)
			pruned := continual.PruneVector(logits, mask)
			probs := nn.Softmax(pruned)
			sampled := sampleIndex(rng, probs)

			// d(-log p_y)/d logits = probs - onehot(y), scattered back
			// into the full class space.
			gradPruned := append([]float64(nil), probs...)
			gradPruned[sampled] -= 1
			gradFull := continual.ScatterVector(gradPruned, mask)

			paramGrad, _ := m.Backprop(x, gradFull)
			n++
			accumulateSquaredMean(fisher, paramGrad, n)
		}
	}

	if n == 0 {
		return nil, ErrNoSamples
	}
	return fisher, nil
}

// MeanSquaredGradient approximates parameter importance as the mean squared
// gradient of the model's output magnitude: per sample, the gradient of the
// squared L2 norm of the mask-restricted logits.
func MeanSquaredGradient(m Model, batches BatchSource, mask continual.OutputMask) ([]float64, error) {
	if mask.NumActive() == 0 {
		return nil, errors.New("importance: output mask selects no classes")
	}

	msg := make([]float64, m.ParameterCount())
	var n float64

	batches.Reset()
	for {
		inputs, _, ok := batches.Next()
		if !ok {
			break
		}
		for _, x := range inputs {
			logits := m.Forward(x)

			// d(sum of masked logits squared)/d logit_c = 2 * logit_c.
			gradFull := make([]float64, len(logits))
			for c, on := range mask {
				if on && c < len(logits) {
					gradFull[c] = 2 * logits[c]
				}
			}

			paramGrad, _ := m.Backprop(x, gradFull)
			n++
			accumulateSquaredMean(msg, paramGrad, n)
		}
	}

	if n == 0 {
		return nil, ErrNoSamples
	}
	return msg, nil
}

// accumulateSquaredMean folds the squared gradient into the running mean:
// F = ((n-1)/n) * F + (1/n) * g^2.
func accumulateSquaredMean(acc, grad []float64, n float64) {
	for i, g := range grad {
		acc[i] = ((n-1)/n)*acc[i] + (1/n)*g*g
	}
}

func sampleIndex(rng *rand.Rand, probs []float64) int {
	r := rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if r < cum {
			return i
		}
	}
	return len(probs) - 1
}
