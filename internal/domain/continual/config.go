package continual

import (
	"fmt"
)

// RegStrategy selects the importance-weighting scheme used to protect
// previously learned parameters.
type RegStrategy string

const (
	// RegStrategyEWC uses the diagonal Fisher information approximation.
	RegStrategyEWC RegStrategy = "ewc"
	// RegStrategyMAS uses the mean-squared-gradient (memory aware synapses)
	// approximation.
	RegStrategyMAS RegStrategy = "mas"
)

// LossCoefs weights the generator-side loss terms of the generative-memory
// trainer.
type LossCoefs struct {
	// GP scales the gradient penalty in the discriminator loss.
	GP float64 `json:"gp"`

	// Distill scales the generator knowledge-distillation loss.
	Distill float64 `json:"distill"`

	// GenCls scales the classification loss on generated samples.
	GenCls float64 `json:"genCls"`
}

// ClsDistillConfig configures classifier-level knowledge distillation
// against the frozen previous-task model.
type ClsDistillConfig struct {
	// BatchSize is the number of fake samples drawn per distillation step.
	BatchSize int `json:"batchSize"`

	// LossCoef scales the distillation term in the classifier loss.
	LossCoef float64 `json:"lossCoef"`
}

// CreativityConfig configures the experimental creativity step: hallucinating
// samples between two seen classes and pushing the generator toward outputs
// that look real to the discriminator while confusing the classifier.
// Disabled by default; functional parity does not depend on it.
type CreativityConfig struct {
	// Enabled turns the creativity step on.
	Enabled bool `json:"enabled"`

	// StartIter is the first iteration at which the step may run.
	StartIter int64 `json:"startIter"`

	// HallBatchSize is the number of hallucinated samples per step.
	HallBatchSize int `json:"hallBatchSize"`

	// AdvCoef scales the adversarial realism term.
	AdvCoef float64 `json:"advCoef"`

	// EntropyCoef scales the classifier-entropy term.
	EntropyCoef float64 `json:"entropyCoef"`
}

// Config carries the hyper-parameters of the task trainers. A Config is
// validated once at trainer construction; optional fields resolve to their
// documented defaults rather than being probed at use sites.
type Config struct {
	// NumClasses is the size of the full class space.
	NumClasses int `json:"numClasses"`

	// Splits assigns class IDs to tasks, in task order.
	Splits ClassSplits `json:"splits"`

	// SynapticStrength scales the importance-weighted quadratic penalty.
	SynapticStrength float64 `json:"synapticStrength"`

	// FisherKeepProb is the per-component keep probability for stochastic
	// thinning of the body importance weights. 1 disables thinning.
	// The classification head is never thinned.
	FisherKeepProb float64 `json:"fisherKeepProb"`

	// RegStrategy selects the importance estimator ("ewc" or "mas").
	RegStrategy RegStrategy `json:"regStrategy"`

	// NumGANEpochs is the epoch threshold separating the GAN phase from
	// the classifier phase.
	NumGANEpochs int `json:"numGanEpochs"`

	// NumDiscrStepsPerGenStep throttles the generator: a generator update
	// runs only on iterations divisible by this value. Must be >= 1.
	NumDiscrStepsPerGenStep int64 `json:"numDiscrStepsPerGenStep"`

	// DistillBatchSize is the total noise-sample budget for generator
	// knowledge distillation, divided evenly across learned classes.
	DistillBatchSize int `json:"distillBatchSize"`

	// LossCoefs weights the generator/discriminator loss terms.
	LossCoefs LossCoefs `json:"lossCoefs"`

	// ClsDistill configures classifier-level distillation.
	ClsDistill ClsDistillConfig `json:"clsDistill"`

	// GradClipping maps a sub-network role to its gradient-norm threshold.
	// Roles without an entry are not clipped.
	GradClipping map[string]float64 `json:"gradClipping,omitempty"`

	// ResetHeadBeforeEachTask reinitializes the classification head at the
	// start of every task after the first.
	ResetHeadBeforeEachTask bool `json:"resetHeadBeforeEachTask"`

	// UseEmbedderReg enables the experimental importance-weighted embedder
	// regularization during the classifier phase.
	UseEmbedderReg bool `json:"useEmbedderReg"`

	// Creativity configures the experimental creativity step.
	Creativity CreativityConfig `json:"creativity"`

	// Seed seeds the trainer's stochastic machinery (label sampling, noise,
	// importance thinning).
	Seed int64 `json:"seed"`
}

// DefaultConfig returns a Config with the documented defaults for all
// optional fields. NumClasses and Splits are experiment-specific and start
// empty.
func DefaultConfig() Config {
	return Config{
		SynapticStrength:        1.0,
		FisherKeepProb:          1.0,
		RegStrategy:             RegStrategyEWC,
		NumGANEpochs:            0,
		NumDiscrStepsPerGenStep: 1,
		DistillBatchSize:        64,
		LossCoefs:               LossCoefs{GP: 10.0, Distill: 1.0, GenCls: 1.0},
		ClsDistill:              ClsDistillConfig{BatchSize: 64, LossCoef: 1.0},
		Creativity: CreativityConfig{
			HallBatchSize: 32,
			AdvCoef:       1.0,
			EntropyCoef:   1.0,
		},
	}
}

// Validate reports the first configuration defect. It is called once at
// trainer construction so that bad configurations fail before any
// computation is spent.
func (c Config) Validate() error {
	if c.NumClasses <= 0 {
		return fmt.Errorf("numClasses must be positive, got %d", c.NumClasses)
	}
	if len(c.Splits) == 0 {
		return fmt.Errorf("at least one task split is required")
	}
	for i, split := range c.Splits {
		if len(split) == 0 {
			return fmt.Errorf("task %d has no classes assigned", i)
		}
		for _, cls := range split {
			if cls < 0 || cls >= c.NumClasses {
				return fmt.Errorf("task %d: class %d out of range [0, %d)", i, cls, c.NumClasses)
			}
		}
	}
	if c.RegStrategy != RegStrategyEWC && c.RegStrategy != RegStrategyMAS {
		return fmt.Errorf("unknown regularization strategy: %q", c.RegStrategy)
	}
	if c.FisherKeepProb <= 0 || c.FisherKeepProb > 1 {
		return fmt.Errorf("fisherKeepProb must be in (0, 1], got %v", c.FisherKeepProb)
	}
	if c.NumDiscrStepsPerGenStep < 1 {
		return fmt.Errorf("numDiscrStepsPerGenStep must be >= 1, got %d", c.NumDiscrStepsPerGenStep)
	}
	if c.NumGANEpochs < 0 {
		return fmt.Errorf("numGanEpochs must be >= 0, got %d", c.NumGANEpochs)
	}
	if c.DistillBatchSize < 0 {
		return fmt.Errorf("distillBatchSize must be >= 0, got %d", c.DistillBatchSize)
	}
	return nil
}

// MaskForTask returns the output mask for the classes of a single task.
func (c Config) MaskForTask(taskIdx int) (OutputMask, error) {
	if taskIdx < 0 || taskIdx >= len(c.Splits) {
		return nil, fmt.Errorf("task index %d out of range [0, %d)", taskIdx, len(c.Splits))
	}
	return MaskForClasses(c.Splits[taskIdx], c.NumClasses)
}

// LearnedMask returns the mask over classes of all tasks strictly before
// taskIdx.
func (c Config) LearnedMask(taskIdx int) (OutputMask, error) {
	return MaskForClasses(c.Splits.LearnedClasses(taskIdx), c.NumClasses)
}

// SeenMask returns the mask over classes of all tasks up to and including
// taskIdx.
func (c Config) SeenMask(taskIdx int) (OutputMask, error) {
	return MaskForClasses(c.Splits.SeenClasses(taskIdx), c.NumClasses)
}
