package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Optimizer applies a gradient to a flat parameter slice in place. An
// optimizer instance owns exactly one parameter partition and must not be
// shared across partitions.
type Optimizer interface {
	Step(params, grad []float64)
}

// OptimConfig selects and configures an optimizer.
type OptimConfig struct {
	// Kind is "sgd" or "adam".
	Kind string `json:"kind"`

	// LR is the learning rate.
	LR float64 `json:"lr"`

	// Momentum is the SGD momentum coefficient.
	Momentum float64 `json:"momentum"`

	// Beta1, Beta2 and Eps are the Adam moment coefficients.
	Beta1 float64 `json:"beta1"`
	Beta2 float64 `json:"beta2"`
	Eps   float64 `json:"eps"`
}

// DefaultSGDConfig returns momentum SGD defaults.
func DefaultSGDConfig(lr float64) OptimConfig {
	return OptimConfig{Kind: "sgd", LR: lr, Momentum: 0.9}
}

// DefaultAdamConfig returns Adam defaults.
func DefaultAdamConfig(lr float64) OptimConfig {
	return OptimConfig{Kind: "adam", LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

// NewOptimizer constructs the configured optimizer for a parameter partition
// of the given size.
func NewOptimizer(cfg OptimConfig, size int) (Optimizer, error) {
	switch cfg.Kind {
	case "sgd":
		return &SGD{LR: cfg.LR, Momentum: cfg.Momentum, velocity: make([]float64, size)}, nil
	case "adam":
		return &Adam{
			LR: cfg.LR, Beta1: cfg.Beta1, Beta2: cfg.Beta2, Eps: cfg.Eps,
			m: make([]float64, size), v: make([]float64, size),
		}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer kind: %q", cfg.Kind)
	}
}

// SGD is stochastic gradient descent with exponential momentum.
type SGD struct {
	LR       float64
	Momentum float64
	velocity []float64
}

// Step updates params in place.
func (s *SGD) Step(params, grad []float64) {
	for i := range params {
		s.velocity[i] = s.Momentum*s.velocity[i] + (1-s.Momentum)*grad[i]
		params[i] -= s.LR * s.velocity[i]
	}
}

// Adam is adaptive moment estimation with bias correction.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	m, v  []float64
	t     int
}

// Step updates params in place.
func (a *Adam) Step(params, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i := range params {
		a.m[i] = a.Beta1*a.m[i] + (1-a.Beta1)*grad[i]
		a.v[i] = a.Beta2*a.v[i] + (1-a.Beta2)*grad[i]*grad[i]
		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		params[i] -= a.LR * mHat / (math.Sqrt(vHat) + a.Eps)
	}
}

// ClipGradNorm rescales grad in place so its L2 norm does not exceed
// maxNorm, and returns the norm before clipping.
func ClipGradNorm(grad []float64, maxNorm float64) float64 {
	norm := floats.Norm(grad, 2)
	if norm > maxNorm && norm > 0 {
		floats.Scale(maxNorm/norm, grad)
	}
	return norm
}
