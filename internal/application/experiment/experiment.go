// Package experiment runs full continual-learning sequences over synthetic
// task datasets and reports per-task accuracy and forgetting.
package experiment

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/universome/czsl/internal/application/trainers"
	"github.com/universome/czsl/internal/domain/continual"
	"github.com/universome/czsl/internal/infrastructure/data"
	"github.com/universome/czsl/internal/infrastructure/metrics"
	"github.com/universome/czsl/internal/infrastructure/nn"
)

// Training strategies.
const (
	StrategyEWC    = "ewc"
	StrategyGenMem = "genmem"
)

// Config describes one experiment: a task sequence, a strategy and the
// model/data shapes.
type Config struct {
	// Strategy selects the task trainer ("ewc" or "genmem").
	Strategy string `json:"strategy"`

	// Trainer carries the strategy hyper-parameters, including the class
	// splits that define the task sequence.
	Trainer continual.Config `json:"trainer"`

	// InputDim is the raw input width of the synthetic datasets.
	InputDim int `json:"inputDim"`

	// Hidden lists the hidden layer widths of the classifier (EWC) or of
	// every sub-network (generative memory).
	Hidden []int `json:"hidden,omitempty"`

	// LatentDim and NoiseDim shape the generative-memory model. Ignored by
	// the EWC strategy.
	LatentDim int `json:"latentDim"`
	NoiseDim  int `json:"noiseDim"`

	// SamplesPerClass, BatchSize and Spread shape the synthetic datasets.
	SamplesPerClass int     `json:"samplesPerClass"`
	BatchSize       int     `json:"batchSize"`
	Spread          float64 `json:"spread"`

	// EpochsPerTask is the number of passes over each task's data.
	EpochsPerTask int `json:"epochsPerTask"`

	// Optim configures the optimizer shared by every parameter partition.
	Optim nn.OptimConfig `json:"optim"`
}

// DefaultConfig returns an experiment configuration that exercises both
// strategies on small separable clusters.
func DefaultConfig() Config {
	return Config{
		Strategy:        StrategyEWC,
		Trainer:         continual.DefaultConfig(),
		InputDim:        8,
		Hidden:          []int{16},
		LatentDim:       8,
		NoiseDim:        4,
		SamplesPerClass: 32,
		BatchSize:       8,
		Spread:          0.3,
		EpochsPerTask:   20,
		Optim:           nn.DefaultAdamConfig(0.01),
	}
}

// Result summarizes a finished experiment.
type Result struct {
	// RunID identifies the experiment's rows in a metrics store.
	RunID string `json:"runId"`

	// Accuracies[t][j] is the accuracy on task j's test data after training
	// on tasks 0..t. Entries with j > t are zero.
	Accuracies [][]float64 `json:"accuracies"`

	// FinalAvgAccuracy is the mean of the last row of Accuracies.
	FinalAvgAccuracy float64 `json:"finalAvgAccuracy"`

	// Forgetting is the mean, over all but the last task, of the drop from
	// a task's best accuracy to its final accuracy.
	Forgetting float64 `json:"forgetting"`
}

// Run executes the configured sequence and evaluates after every task.
func Run(cfg Config, sink metrics.Sink) (*Result, error) {
	if err := cfg.Trainer.Validate(); err != nil {
		return nil, err
	}
	if cfg.Strategy != StrategyEWC && cfg.Strategy != StrategyGenMem {
		return nil, fmt.Errorf("experiment: unknown strategy: %q", cfg.Strategy)
	}
	if sink == nil {
		sink = metrics.Nop{}
	}

	numTasks := len(cfg.Trainer.Splits)
	datasets := make([]data.TaskDataset, numTasks)
	for t := 0; t < numTasks; t++ {
		datasets[t] = data.SyntheticClusters(
			cfg.Trainer.Splits[t], cfg.SamplesPerClass, cfg.InputDim, cfg.Spread,
			cfg.Trainer.Seed+int64(t),
		)
		datasets[t].Shuffle(cfg.Trainer.Seed + int64(t))
	}

	run := &sequenceRun{cfg: cfg, sink: sink}
	if err := run.init(); err != nil {
		return nil, err
	}

	result := &Result{
		RunID:      uuid.New().String(),
		Accuracies: make([][]float64, numTasks),
	}

	for t := 0; t < numTasks; t++ {
		it, err := datasets[t].Iterator(cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		if err := run.startTask(t, it); err != nil {
			return nil, fmt.Errorf("experiment: task %d: %w", t, err)
		}
		for epoch := 0; epoch < cfg.EpochsPerTask; epoch++ {
			if err := run.epoch(it); err != nil {
				return nil, fmt.Errorf("experiment: task %d epoch %d: %w", t, epoch, err)
			}
		}
		run.finishTask()

		result.Accuracies[t] = make([]float64, numTasks)
		for j := 0; j <= t; j++ {
			acc, err := run.evaluate(j, datasets[j], cfg.BatchSize)
			if err != nil {
				return nil, err
			}
			result.Accuracies[t][j] = acc
			sink.Record(fmt.Sprintf("eval/task_%d_acc", j), acc, int64(t))
		}
	}

	final := result.Accuracies[numTasks-1]
	for _, acc := range final {
		result.FinalAvgAccuracy += acc / float64(numTasks)
	}
	if numTasks > 1 {
		for j := 0; j < numTasks-1; j++ {
			best := 0.0
			for t := j; t < numTasks; t++ {
				if result.Accuracies[t][j] > best {
					best = result.Accuracies[t][j]
				}
			}
			result.Forgetting += (best - final[j]) / float64(numTasks-1)
		}
	}
	return result, nil
}

// sequenceRun holds the strategy-specific mutable state of one experiment.
type sequenceRun struct {
	cfg  Config
	sink metrics.Sink

	// EWC strategy.
	mlp *nn.MLP
	ewc *trainers.EWCTrainer

	// Generative-memory strategy.
	latent *nn.LatentMemory
	gm     *trainers.GenerativeMemoryTrainer

	prev *continual.PrevTaskSummary
}

func (r *sequenceRun) init() error {
	switch r.cfg.Strategy {
	case StrategyEWC:
		sizes := append([]int{r.cfg.InputDim}, r.cfg.Hidden...)
		sizes = append(sizes, r.cfg.Trainer.NumClasses)
		r.mlp = nn.NewMLP(sizes, r.cfg.Trainer.Seed)
	case StrategyGenMem:
		m, err := nn.NewLatentMemory(nn.LatentMemoryConfig{
			InputDim:        r.cfg.InputDim,
			LatentDim:       r.cfg.LatentDim,
			NoiseDim:        r.cfg.NoiseDim,
			NumClasses:      r.cfg.Trainer.NumClasses,
			EmbedderHidden:  r.cfg.Hidden,
			GeneratorHidden: r.cfg.Hidden,
			ClsHidden:       r.cfg.Hidden,
			Seed:            r.cfg.Trainer.Seed,
		})
		if err != nil {
			return err
		}
		r.latent = m
	}
	return nil
}

func (r *sequenceRun) startTask(taskIdx int, trainData data.Iterator) error {
	switch r.cfg.Strategy {
	case StrategyEWC:
		optim, err := nn.NewOptimizer(r.cfg.Optim, r.mlp.ParameterCount())
		if err != nil {
			return err
		}
		tr, err := trainers.NewEWCTrainer(r.cfg.Trainer, taskIdx, r.mlp, optim, trainData, r.prev, r.sink)
		if err != nil {
			return err
		}
		r.ewc = tr
	case StrategyGenMem:
		optims := make(map[string]nn.OptimConfig, len(nn.Roles))
		for _, role := range nn.Roles {
			optims[role] = r.cfg.Optim
		}
		tr, err := trainers.NewGenerativeMemoryTrainer(r.cfg.Trainer, taskIdx, r.latent, optims, trainData, r.prev, r.sink)
		if err != nil {
			return err
		}
		r.gm = tr
	}
	return nil
}

func (r *sequenceRun) epoch(it data.Iterator) error {
	if r.ewc != nil {
		return r.ewc.RunEpoch(it)
	}
	return r.gm.RunEpoch(it)
}

// finishTask publishes the finished trainer's summary for the next task.
func (r *sequenceRun) finishTask() {
	if r.ewc != nil {
		r.prev = r.ewc.Summary()
	} else {
		r.prev = r.gm.Summary()
	}
}

func (r *sequenceRun) evaluate(taskIdx int, ds data.TaskDataset, batchSize int) (float64, error) {
	mask, err := r.cfg.Trainer.MaskForTask(taskIdx)
	if err != nil {
		return 0, err
	}
	it, err := ds.Iterator(batchSize)
	if err != nil {
		return 0, err
	}
	return trainers.EvaluateClassifier(r.classifyFn(), it, mask)
}

func (r *sequenceRun) classifyFn() func(x []float64) []float64 {
	if r.mlp != nil {
		return r.mlp.Forward
	}
	return r.latent.Classify
}
