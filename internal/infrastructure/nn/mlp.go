package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// MLP is a fully connected network with ReLU hidden activations and a linear
// output layer. All parameters live in one flat slice in a fixed order: for
// each layer, the weight rows (one contiguous row per output unit) followed
// by the biases. Every flattened view of the parameters (snapshots,
// importance vectors, optimizer state) shares this order.
type MLP struct {
	sizes  []int
	params []float64
}

// NewMLP creates a network with the given layer widths. sizes must contain
// at least an input and an output width. Weights are initialized with
// He-style scaling, biases at zero.
func NewMLP(sizes []int, seed int64) *MLP {
	if len(sizes) < 2 {
		panic(fmt.Sprintf("nn: MLP needs at least 2 layer sizes, got %d", len(sizes)))
	}
	m := &MLP{
		sizes:  append([]int(nil), sizes...),
		params: make([]float64, countParams(sizes)),
	}
	m.init(rand.New(rand.NewSource(seed)))
	return m
}

func countParams(sizes []int) int {
	total := 0
	for l := 0; l < len(sizes)-1; l++ {
		total += sizes[l]*sizes[l+1] + sizes[l+1]
	}
	return total
}

func (m *MLP) init(rng *rand.Rand) {
	offset := 0
	for l := 0; l < len(m.sizes)-1; l++ {
		in, out := m.sizes[l], m.sizes[l+1]
		scale := math.Sqrt(2.0 / float64(in))
		for i := 0; i < in*out; i++ {
			m.params[offset+i] = (rng.Float64() - 0.5) * scale
		}
		for i := 0; i < out; i++ {
			m.params[offset+in*out+i] = 0
		}
		offset += in*out + out
	}
}

// Reinit re-randomizes all parameters, as when a head is reset between tasks.
func (m *MLP) Reinit(seed int64) {
	m.init(rand.New(rand.NewSource(seed)))
}

// InputDim returns the width of the input layer.
func (m *MLP) InputDim() int { return m.sizes[0] }

// OutputDim returns the width of the output layer.
func (m *MLP) OutputDim() int { return m.sizes[len(m.sizes)-1] }

// ParameterCount returns the number of flattened parameters.
func (m *MLP) ParameterCount() int { return len(m.params) }

// Params returns the live flat parameter slice. Mutating it mutates the
// network; optimizers step it in place.
func (m *MLP) Params() []float64 { return m.params }

// CopyParams returns a value copy of the flat parameters.
func (m *MLP) CopyParams() []float64 {
	cp := make([]float64, len(m.params))
	copy(cp, m.params)
	return cp
}

// SetParams overwrites the parameters from a flat slice of matching length.
func (m *MLP) SetParams(p []float64) error {
	if len(p) != len(m.params) {
		return fmt.Errorf("nn: parameter length mismatch: got %d, want %d", len(p), len(m.params))
	}
	copy(m.params, p)
	return nil
}

// Clone returns a deep, value-independent copy.
func (m *MLP) Clone() *MLP {
	return &MLP{
		sizes:  append([]int(nil), m.sizes...),
		params: m.CopyParams(),
	}
}

// HeadSize returns the parameter count of the final layer (weights plus
// biases), the portion treated as the classification head.
func (m *MLP) HeadSize() int {
	n := len(m.sizes)
	return m.sizes[n-2]*m.sizes[n-1] + m.sizes[n-1]
}

// Forward evaluates the network on a single input vector.
func (m *MLP) Forward(x []float64) []float64 {
	act := x
	offset := 0
	for l := 0; l < len(m.sizes)-1; l++ {
		in, out := m.sizes[l], m.sizes[l+1]
		next := make([]float64, out)
		for j := 0; j < out; j++ {
			row := m.params[offset+j*in : offset+(j+1)*in]
			next[j] = floats.Dot(row, act) + m.params[offset+in*out+j]
		}
		if l < len(m.sizes)-2 {
			relu(next)
		}
		act = next
		offset += in*out + out
	}
	return act
}

// Backprop evaluates the network on x and backpropagates gradOut (the loss
// gradient with respect to the output) through it. It returns the gradient
// with respect to the flat parameters and with respect to the input. The
// parameters themselves are not touched.
func (m *MLP) Backprop(x, gradOut []float64) (paramGrad, inputGrad []float64) {
	numLayers := len(m.sizes) - 1

	// Forward, keeping pre-activations and the post-activation inputs of
	// every layer.
	acts := make([][]float64, numLayers+1)
	pres := make([][]float64, numLayers)
	acts[0] = x
	offset := 0
	for l := 0; l < numLayers; l++ {
		in, out := m.sizes[l], m.sizes[l+1]
		pre := make([]float64, out)
		for j := 0; j < out; j++ {
			row := m.params[offset+j*in : offset+(j+1)*in]
			pre[j] = floats.Dot(row, acts[l]) + m.params[offset+in*out+j]
		}
		pres[l] = pre
		if l < numLayers-1 {
			activated := append([]float64(nil), pre...)
			relu(activated)
			acts[l+1] = activated
		} else {
			acts[l+1] = pre
		}
		offset += in*out + out
	}

	paramGrad = make([]float64, len(m.params))
	delta := append([]float64(nil), gradOut...)

	for l := numLayers - 1; l >= 0; l-- {
		in, out := m.sizes[l], m.sizes[l+1]
		offset -= in*out + out

		for j := 0; j < out; j++ {
			gradRow := paramGrad[offset+j*in : offset+(j+1)*in]
			floats.AddScaled(gradRow, delta[j], acts[l])
			paramGrad[offset+in*out+j] += delta[j]
		}

		prev := make([]float64, in)
		for j := 0; j < out; j++ {
			row := m.params[offset+j*in : offset+(j+1)*in]
			floats.AddScaled(prev, delta[j], row)
		}
		if l > 0 {
			// Gradient of the ReLU applied to the previous layer's
			// pre-activation.
			for i := range prev {
				if pres[l-1][i] <= 0 {
					prev[i] = 0
				}
			}
		}
		delta = prev
	}

	return paramGrad, delta
}

func relu(v []float64) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}
