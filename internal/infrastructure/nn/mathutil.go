// Package nn provides flat-parameter neural networks with hand-written
// forward and backward passes, and the optimizers that drive them.
package nn

import "math"

// Softmax returns the softmax of the logits, computed stably.
func Softmax(logits []float64) []float64 {
	probs := make([]float64, len(logits))
	if len(logits) == 0 {
		return probs
	}
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// ArgMax returns the index of the largest element, or -1 for an empty slice.
func ArgMax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// CrossEntropy computes the softmax cross-entropy of a logits vector against
// an integer label, and the gradient of the loss with respect to the logits
// (probabilities minus the one-hot target).
func CrossEntropy(logits []float64, label int) (loss float64, grad []float64) {
	probs := Softmax(logits)
	grad = probs
	loss = -math.Log(probs[label] + 1e-12)
	grad[label] -= 1
	return loss, grad
}

// MSE computes the mean squared error between two equal-length vectors and
// the gradient with respect to the first argument.
func MSE(a, b []float64) (loss float64, grad []float64) {
	grad = make([]float64, len(a))
	n := float64(len(a))
	for i := range a {
		diff := a[i] - b[i]
		loss += diff * diff / n
		grad[i] = 2 * diff / n
	}
	return loss, grad
}
