package trainers

import (
	"fmt"
	"math/rand"

	"github.com/universome/czsl/internal/domain/continual"
	"github.com/universome/czsl/internal/infrastructure/data"
	"github.com/universome/czsl/internal/infrastructure/importance"
	"github.com/universome/czsl/internal/infrastructure/metrics"
	"github.com/universome/czsl/internal/infrastructure/nn"
)

// ewcPriorState carries exactly the fields a subsequent-task trainer needs:
// the importance vector computed against the previous task's output mask and
// the flat weight snapshot taken before any training on the current task.
// A first-task trainer has none of this (nil).
type ewcPriorState struct {
	fisher      []float64
	weightsPrev []float64
}

// EWCTrainer trains a single classifier on one task, tying its weights to
// the previous task's weights with an importance-weighted quadratic penalty.
type EWCTrainer struct {
	cfg        continual.Config
	taskIdx    int
	model      *nn.MLP
	optim      nn.Optimizer
	sink       metrics.Sink
	rng        *rand.Rand
	outputMask continual.OutputMask
	prior      *ewcPriorState

	itersDone  int64
	epochsDone int
}

// NewEWCTrainer builds the trainer for one task. For tasks after the first,
// prev must carry the preceding trainer's summary: the importance vector is
// estimated on trainData restricted to prev's output mask, and the model's
// current weights are snapshotted before any training step runs. Estimation
// failure is fatal to construction.
func NewEWCTrainer(
	cfg continual.Config,
	taskIdx int,
	model *nn.MLP,
	optim nn.Optimizer,
	trainData data.Iterator,
	prev *continual.PrevTaskSummary,
	sink metrics.Sink,
) (*EWCTrainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mask, err := cfg.MaskForTask(taskIdx)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = metrics.Nop{}
	}

	t := &EWCTrainer{
		cfg:        cfg,
		taskIdx:    taskIdx,
		model:      model,
		optim:      optim,
		sink:       sink,
		rng:        rand.New(rand.NewSource(cfg.Seed + int64(taskIdx))),
		outputMask: mask,
	}

	if taskIdx > 0 {
		if prev == nil {
			return nil, fmt.Errorf("trainers: task %d needs the previous task's summary", taskIdx)
		}
		if trainData == nil {
			return nil, fmt.Errorf("trainers: task %d needs training data for importance estimation", taskIdx)
		}
		fisher, err := importance.DiagonalFisher(model, trainData, prev.OutputMask, cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("trainers: fisher estimation failed: %w", err)
		}
		t.prior = &ewcPriorState{
			fisher:      fisher,
			weightsPrev: model.CopyParams(),
		}
	}

	return t, nil
}

// TaskIdx returns the trainer's position in the task sequence.
func (t *EWCTrainer) TaskIdx() int { return t.taskIdx }

// OutputMask returns the current task's output mask.
func (t *EWCTrainer) OutputMask() continual.OutputMask { return t.outputMask }

// Summary returns the read-only view the next task's trainer consumes.
func (t *EWCTrainer) Summary() *continual.PrevTaskSummary {
	return &continual.PrevTaskSummary{TaskIdx: t.taskIdx, OutputMask: t.outputMask}
}

// Model returns the live model.
func (t *EWCTrainer) Model() *nn.MLP { return t.model }

// TrainOnBatch performs one optimizer step on the batch: pruned-logit
// cross-entropy plus, on subsequent tasks, the synaptic regularization term.
// Labels are global class IDs within the current task's classes.
func (t *EWCTrainer) TrainOnBatch(inputs [][]float64, labels []int) (continual.TaskLoss, error) {
	if err := checkBatch(inputs, labels); err != nil {
		return continual.TaskLoss{}, err
	}
	remapped, err := continual.RemapLabels(labels, t.outputMask)
	if err != nil {
		return continual.TaskLoss{}, err
	}

	grad := make([]float64, t.model.ParameterCount())
	scale := 1 / float64(len(inputs))
	var clsLoss float64

	for i, x := range inputs {
		logits := t.model.Forward(x)
		pruned := continual.PruneVector(logits, t.outputMask)
		loss, gradPruned := nn.CrossEntropy(pruned, remapped[i])
		clsLoss += loss * scale

		for j := range gradPruned {
			gradPruned[j] *= scale
		}
		paramGrad, _ := t.model.Backprop(x, continual.ScatterVector(gradPruned, t.outputMask))
		for j, g := range paramGrad {
			grad[j] += g
		}
	}

	result := continual.TaskLoss{ClsLoss: clsLoss, TotalLoss: clsLoss}

	if t.prior != nil {
		fisher := t.thinnedFisher()
		params := t.model.Params()
		var reg float64
		for i, f := range fisher {
			diff := params[i] - t.prior.weightsPrev[i]
			reg += f * diff * diff
			grad[i] += t.cfg.SynapticStrength * 2 * f * diff
		}
		result.RegLoss = reg
		result.TotalLoss += t.cfg.SynapticStrength * reg
	}

	t.optim.Step(t.model.Params(), grad)

	t.sink.Record("ewc/cls_loss", result.ClsLoss, t.itersDone)
	if t.prior != nil {
		t.sink.Record("ewc/reg_loss", result.RegLoss, t.itersDone)
	}
	t.itersDone++

	return result, nil
}

// RunEpoch drives one pass over the iterator.
func (t *EWCTrainer) RunEpoch(it data.Iterator) error {
	err := runEpoch(it, func(inputs [][]float64, labels []int) error {
		_, err := t.TrainOnBatch(inputs, labels)
		return err
	})
	if err != nil {
		return err
	}
	t.epochsDone++
	return nil
}

// Regularization returns the importance-weighted squared drift of the
// current weights from the previous-task snapshot, using the same thinning
// a training step would apply. Zero on the first task.
func (t *EWCTrainer) Regularization() float64 {
	if t.prior == nil {
		return 0
	}
	params := t.model.Params()
	var reg float64
	for i, f := range t.thinnedFisher() {
		diff := params[i] - t.prior.weightsPrev[i]
		reg += f * diff * diff
	}
	return reg
}

// thinnedFisher applies stochastic thinning to the body portion of the
// importance vector with inverted-dropout scaling. The head's entries are
// never thinned. KeepProb of 1 short-circuits to the stored vector.
func (t *EWCTrainer) thinnedFisher() []float64 {
	keep := t.cfg.FisherKeepProb
	if keep >= 1 {
		return t.prior.fisher
	}

	fisher := append([]float64(nil), t.prior.fisher...)
	bodyLen := len(fisher) - t.model.HeadSize()
	for i := 0; i < bodyLen; i++ {
		if t.rng.Float64() < keep {
			fisher[i] /= keep
		} else {
			fisher[i] = 0
		}
	}
	return fisher
}
