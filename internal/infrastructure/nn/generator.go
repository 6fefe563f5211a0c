package nn

import (
	"fmt"

	rng "github.com/leesper/go_rng"
)

// Generator maps a Gaussian noise vector plus a class-conditioning vector to
// a synthetic latent embedding. Conditioning vectors are either fixed
// per-class attribute vectors or one-hot class indicators.
type Generator struct {
	net      *MLP
	noiseDim int
	cond     [][]float64
	gauss    *rng.GaussianGenerator
}

// NewGenerator builds a conditional generator. When attrs is nil, classes
// are conditioned on one-hot vectors of length numClasses; otherwise attrs
// must hold one conditioning vector per class, all of equal length.
func NewGenerator(noiseDim, latentDim int, hidden []int, numClasses int, attrs [][]float64, seed int64) (*Generator, error) {
	if noiseDim <= 0 || latentDim <= 0 || numClasses <= 0 {
		return nil, fmt.Errorf("nn: generator dimensions must be positive")
	}

	var cond [][]float64
	if attrs != nil {
		if len(attrs) != numClasses {
			return nil, fmt.Errorf("nn: got %d attribute vectors for %d classes", len(attrs), numClasses)
		}
		condDim := len(attrs[0])
		cond = make([][]float64, numClasses)
		for c, a := range attrs {
			if len(a) != condDim {
				return nil, fmt.Errorf("nn: attribute vector %d has length %d, want %d", c, len(a), condDim)
			}
			cond[c] = append([]float64(nil), a...)
		}
	} else {
		cond = make([][]float64, numClasses)
		for c := range cond {
			oneHot := make([]float64, numClasses)
			oneHot[c] = 1
			cond[c] = oneHot
		}
	}

	sizes := append([]int{noiseDim + len(cond[0])}, hidden...)
	sizes = append(sizes, latentDim)

	return &Generator{
		net:      NewMLP(sizes, seed),
		noiseDim: noiseDim,
		cond:     cond,
		gauss:    rng.NewGaussianGenerator(seed),
	}, nil
}

// NoiseDim returns the length of the noise vectors the generator consumes.
func (g *Generator) NoiseDim() int { return g.noiseDim }

// OutputDim returns the latent embedding length.
func (g *Generator) OutputDim() int { return g.net.OutputDim() }

// NumClasses returns the number of conditioning classes.
func (g *Generator) NumClasses() int { return len(g.cond) }

// CondVector returns a copy of the conditioning vector for a class.
func (g *Generator) CondVector(class int) []float64 {
	return append([]float64(nil), g.cond[class]...)
}

// SampleNoise draws one standard-Gaussian noise vector.
func (g *Generator) SampleNoise() []float64 {
	z := make([]float64, g.noiseDim)
	for i := range z {
		z[i] = g.gauss.Gaussian(0, 1)
	}
	return z
}

// Forward generates an embedding from noise conditioned on a class label.
func (g *Generator) Forward(z []float64, class int) []float64 {
	return g.net.Forward(joinVec(z, g.cond[class]))
}

// ForwardCond generates an embedding from noise and an explicit conditioning
// vector, as used when interpolating between class attributes.
func (g *Generator) ForwardCond(z, cond []float64) []float64 {
	return g.net.Forward(joinVec(z, cond))
}

// Backprop backpropagates a gradient with respect to the generated embedding
// through the generator and returns the gradient of its flat parameters.
func (g *Generator) Backprop(z []float64, class int, gradOut []float64) []float64 {
	paramGrad, _ := g.net.Backprop(joinVec(z, g.cond[class]), gradOut)
	return paramGrad
}

// BackpropCond is Backprop with an explicit conditioning vector.
func (g *Generator) BackpropCond(z, cond, gradOut []float64) []float64 {
	paramGrad, _ := g.net.Backprop(joinVec(z, cond), gradOut)
	return paramGrad
}

// ParameterCount returns the number of flat parameters.
func (g *Generator) ParameterCount() int { return g.net.ParameterCount() }

// Params returns the live flat parameter slice.
func (g *Generator) Params() []float64 { return g.net.Params() }

// CopyParams returns a value copy of the flat parameters.
func (g *Generator) CopyParams() []float64 { return g.net.CopyParams() }

// Clone returns a deep copy sharing no state. The clone's noise source is
// reseeded; frozen copies are only ever used for forward evaluation on
// externally supplied noise.
func (g *Generator) Clone(seed int64) *Generator {
	cond := make([][]float64, len(g.cond))
	for c, v := range g.cond {
		cond[c] = append([]float64(nil), v...)
	}
	return &Generator{
		net:      g.net.Clone(),
		noiseDim: g.noiseDim,
		cond:     cond,
		gauss:    rng.NewGaussianGenerator(seed),
	}
}

func joinVec(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
