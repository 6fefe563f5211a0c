// Package commands provides CLI command implementations.
package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/universome/czsl/internal/application/experiment"
	"github.com/universome/czsl/internal/domain/continual"
	"github.com/universome/czsl/internal/infrastructure/metrics"
	"github.com/universome/czsl/internal/infrastructure/nn"
)

// Flag variables for the train command
var (
	trainStrategy        string
	trainNumClasses      int
	trainNumTasks        int
	trainRegStrategy     string
	trainSynapticLambda  float64
	trainKeepProb        float64
	trainGANEpochs       int
	trainEpochs          int
	trainBatchSize       int
	trainSamplesPerClass int
	trainInputDim        int
	trainLR              float64
	trainSeed            int64
	trainMetricsDB       string
)

// TrainCmd runs a synthetic continual-learning experiment.
var TrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run a continual-learning experiment on synthetic tasks",
	Long: `Train a model over a sequence of tasks on synthetic Gaussian-cluster
data, with classes split evenly across tasks, and report per-task accuracy
and forgetting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if trainNumTasks < 1 || trainNumClasses < trainNumTasks {
			return fmt.Errorf("need at least one class per task, got %d classes over %d tasks",
				trainNumClasses, trainNumTasks)
		}

		cfg := experiment.DefaultConfig()
		cfg.Strategy = trainStrategy
		cfg.Trainer.NumClasses = trainNumClasses
		cfg.Trainer.Splits = evenSplits(trainNumClasses, trainNumTasks)
		cfg.Trainer.RegStrategy = continual.RegStrategy(trainRegStrategy)
		cfg.Trainer.SynapticStrength = trainSynapticLambda
		cfg.Trainer.FisherKeepProb = trainKeepProb
		cfg.Trainer.NumGANEpochs = trainGANEpochs
		cfg.Trainer.Seed = trainSeed
		cfg.InputDim = trainInputDim
		cfg.EpochsPerTask = trainEpochs
		cfg.BatchSize = trainBatchSize
		cfg.SamplesPerClass = trainSamplesPerClass
		cfg.Optim = nn.DefaultAdamConfig(trainLR)

		var sink metrics.Sink = metrics.Nop{}
		if trainMetricsDB != "" {
			sqlSink, err := metrics.NewSQLiteSink(context.Background(), trainMetricsDB)
			if err != nil {
				return fmt.Errorf("failed to open metrics store: %w", err)
			}
			defer sqlSink.Close()
			sink = sqlSink
			fmt.Printf("Recording metrics to %s (run %s)\n", trainMetricsDB, sqlSink.RunID())
		}

		fmt.Printf("Training %s over %d tasks (%d classes)\n", cfg.Strategy, trainNumTasks, trainNumClasses)
		fmt.Println(strings.Repeat("-", 50))

		result, err := experiment.Run(cfg, sink)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprint(w, "after task")
		for j := 0; j < trainNumTasks; j++ {
			fmt.Fprintf(w, "\ttask %d", j)
		}
		fmt.Fprintln(w)
		for t, row := range result.Accuracies {
			fmt.Fprintf(w, "%d", t)
			for j := range row {
				if j > t {
					fmt.Fprint(w, "\t-")
				} else {
					fmt.Fprintf(w, "\t%.3f", row[j])
				}
			}
			fmt.Fprintln(w)
		}
		w.Flush()

		fmt.Println(strings.Repeat("-", 50))
		fmt.Printf("Final average accuracy: %.3f\n", result.FinalAvgAccuracy)
		fmt.Printf("Forgetting:             %.3f\n", result.Forgetting)
		return nil
	},
}

// evenSplits divides the class IDs 0..numClasses-1 over numTasks tasks in
// order, earlier tasks taking the remainder.
func evenSplits(numClasses, numTasks int) continual.ClassSplits {
	splits := make(continual.ClassSplits, numTasks)
	next := 0
	for t := 0; t < numTasks; t++ {
		size := numClasses / numTasks
		if t < numClasses%numTasks {
			size++
		}
		for i := 0; i < size; i++ {
			splits[t] = append(splits[t], next)
			next++
		}
	}
	return splits
}

func init() {
	TrainCmd.Flags().StringVarP(&trainStrategy, "strategy", "s", experiment.StrategyEWC, "Training strategy (ewc or genmem)")
	TrainCmd.Flags().IntVarP(&trainNumClasses, "classes", "c", 10, "Total number of classes")
	TrainCmd.Flags().IntVarP(&trainNumTasks, "tasks", "t", 5, "Number of tasks in the sequence")
	TrainCmd.Flags().StringVar(&trainRegStrategy, "reg", "ewc", "Importance estimator (ewc or mas)")
	TrainCmd.Flags().Float64Var(&trainSynapticLambda, "synaptic-strength", 1.0, "Weight of the synaptic penalty")
	TrainCmd.Flags().Float64Var(&trainKeepProb, "fisher-keep-prob", 1.0, "Keep probability for importance thinning")
	TrainCmd.Flags().IntVar(&trainGANEpochs, "gan-epochs", 10, "Adversarial epochs per task (genmem only)")
	TrainCmd.Flags().IntVarP(&trainEpochs, "epochs", "e", 20, "Epochs per task")
	TrainCmd.Flags().IntVarP(&trainBatchSize, "batch-size", "b", 8, "Batch size")
	TrainCmd.Flags().IntVar(&trainSamplesPerClass, "samples-per-class", 32, "Synthetic samples per class")
	TrainCmd.Flags().IntVar(&trainInputDim, "input-dim", 8, "Synthetic input dimensionality")
	TrainCmd.Flags().Float64Var(&trainLR, "learning-rate", 0.01, "Learning rate")
	TrainCmd.Flags().Int64Var(&trainSeed, "seed", 42, "Random seed")
	TrainCmd.Flags().StringVarP(&trainMetricsDB, "metrics-db", "m", "", "SQLite file to record metrics to")
}
