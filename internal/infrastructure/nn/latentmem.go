package nn

import (
	"fmt"
)

// Sub-network role names. Each role owns a disjoint parameter partition with
// its own optimizer; partitions are queried once at optimizer construction.
const (
	RoleEmbedder      = "embedder"
	RoleGenerator     = "generator"
	RoleDiscriminator = "discriminator"
	RoleClassifier    = "classifier"
)

// Roles lists the four partitions in a fixed order.
var Roles = []string{RoleEmbedder, RoleGenerator, RoleDiscriminator, RoleClassifier}

// LatentMemoryConfig configures the generative-memory model.
type LatentMemoryConfig struct {
	// InputDim is the raw input width.
	InputDim int `json:"inputDim"`

	// LatentDim is the embedding width shared by the embedder output, the
	// generator output and the discriminator inputs.
	LatentDim int `json:"latentDim"`

	// NoiseDim is the generator noise width.
	NoiseDim int `json:"noiseDim"`

	// NumClasses is the full class-space size.
	NumClasses int `json:"numClasses"`

	// Hidden layer widths per sub-network. Empty means a single linear map.
	EmbedderHidden  []int `json:"embedderHidden,omitempty"`
	GeneratorHidden []int `json:"generatorHidden,omitempty"`
	AdvHidden       []int `json:"advHidden,omitempty"`
	ClsHidden       []int `json:"clsHidden,omitempty"`

	// Attrs optionally conditions the generator on fixed per-class
	// attribute vectors instead of one-hot indicators.
	Attrs [][]float64 `json:"attrs,omitempty"`

	// Seed seeds parameter initialization and the noise source.
	Seed int64 `json:"seed"`
}

// LatentMemory is the jointly trained generative-memory model: an embedder
// mapping raw inputs to latent embeddings, a conditional generator producing
// synthetic embeddings, and a dual-head discriminator over embeddings whose
// adversarial head and classification head hold disjoint parameters.
type LatentMemory struct {
	cfg       LatentMemoryConfig
	Embedder  *MLP
	Generator *Generator
	AdvHead   *MLP
	ClsHead   *MLP
}

// NewLatentMemory constructs the four sub-networks.
func NewLatentMemory(cfg LatentMemoryConfig) (*LatentMemory, error) {
	if cfg.InputDim <= 0 || cfg.LatentDim <= 0 || cfg.NoiseDim <= 0 || cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("nn: latent memory dimensions must be positive")
	}

	gen, err := NewGenerator(cfg.NoiseDim, cfg.LatentDim, cfg.GeneratorHidden, cfg.NumClasses, cfg.Attrs, cfg.Seed+1)
	if err != nil {
		return nil, err
	}

	return &LatentMemory{
		cfg:       cfg,
		Embedder:  NewMLP(layerSizes(cfg.InputDim, cfg.EmbedderHidden, cfg.LatentDim), cfg.Seed),
		Generator: gen,
		AdvHead:   NewMLP(layerSizes(cfg.LatentDim, cfg.AdvHidden, 1), cfg.Seed+2),
		ClsHead:   NewMLP(layerSizes(cfg.LatentDim, cfg.ClsHidden, cfg.NumClasses), cfg.Seed+3),
	}, nil
}

func layerSizes(in int, hidden []int, out int) []int {
	sizes := append([]int{in}, hidden...)
	return append(sizes, out)
}

// Config returns the construction configuration.
func (m *LatentMemory) Config() LatentMemoryConfig { return m.cfg }

// Clone returns a deep, value-independent copy, as used for the frozen
// previous-task teacher.
func (m *LatentMemory) Clone() *LatentMemory {
	return &LatentMemory{
		cfg:       m.cfg,
		Embedder:  m.Embedder.Clone(),
		Generator: m.Generator.Clone(m.cfg.Seed + 4),
		AdvHead:   m.AdvHead.Clone(),
		ClsHead:   m.ClsHead.Clone(),
	}
}

// ParamsByRole returns the live flat parameter slice of a sub-network. The
// four partitions are disjoint by construction: the adversarial and
// classification heads are separate networks over the shared latent space.
func (m *LatentMemory) ParamsByRole(role string) ([]float64, error) {
	switch role {
	case RoleEmbedder:
		return m.Embedder.Params(), nil
	case RoleGenerator:
		return m.Generator.Params(), nil
	case RoleDiscriminator:
		return m.AdvHead.Params(), nil
	case RoleClassifier:
		return m.ClsHead.Params(), nil
	default:
		return nil, fmt.Errorf("nn: unknown sub-network role: %q", role)
	}
}

// ResetClsHead reinitializes the classification head, leaving every other
// partition untouched.
func (m *LatentMemory) ResetClsHead(seed int64) {
	m.ClsHead.Reinit(seed)
}

// Classify runs the classification path on a raw input: embedder followed by
// the classification head. Returns full-space logits.
func (m *LatentMemory) Classify(x []float64) []float64 {
	return m.ClsHead.Forward(m.Embedder.Forward(x))
}

// ClassifyLatent runs the classification head directly on a latent
// embedding, as used on generated samples.
func (m *LatentMemory) ClassifyLatent(h []float64) []float64 {
	return m.ClsHead.Forward(h)
}

// Sample draws a synthetic latent embedding for a class.
func (m *LatentMemory) Sample(class int) []float64 {
	return m.Generator.Forward(m.Generator.SampleNoise(), class)
}

// ClassifierView exposes the classification path (embedder parameters
// followed by classification-head parameters) as a single differentiable
// model, for importance estimation. The embedder occupies the first
// Embedder.ParameterCount() entries of the flattened view.
func (m *LatentMemory) ClassifierView() *ClassifierView {
	return &ClassifierView{m: m}
}

// ClassifierView is the flattened embedder+classifier path of a
// LatentMemory.
type ClassifierView struct {
	m *LatentMemory
}

// ParameterCount returns the combined embedder and classification-head
// parameter count.
func (v *ClassifierView) ParameterCount() int {
	return v.m.Embedder.ParameterCount() + v.m.ClsHead.ParameterCount()
}

// Forward returns full-space logits for a raw input.
func (v *ClassifierView) Forward(x []float64) []float64 {
	return v.m.Classify(x)
}

// Backprop backpropagates a logits gradient through the classification path
// and returns the gradient over the combined flat parameters (embedder
// prefix, then head) and over the input.
func (v *ClassifierView) Backprop(x, gradOut []float64) (paramGrad, inputGrad []float64) {
	h := v.m.Embedder.Forward(x)
	clsGrad, latentGrad := v.m.ClsHead.Backprop(h, gradOut)
	embGrad, inputGrad := v.m.Embedder.Backprop(x, latentGrad)

	paramGrad = make([]float64, 0, v.ParameterCount())
	paramGrad = append(paramGrad, embGrad...)
	paramGrad = append(paramGrad, clsGrad...)
	return paramGrad, inputGrad
}
