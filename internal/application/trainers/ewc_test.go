package trainers

import (
	"math"
	"testing"

	"github.com/universome/czsl/internal/domain/continual"
	"github.com/universome/czsl/internal/infrastructure/data"
	"github.com/universome/czsl/internal/infrastructure/metrics"
	"github.com/universome/czsl/internal/infrastructure/nn"
)

func ewcTestConfig() continual.Config {
	cfg := continual.DefaultConfig()
	cfg.NumClasses = 4
	cfg.Splits = continual.ClassSplits{{0, 1}, {2, 3}}
	cfg.SynapticStrength = 1.0
	cfg.Seed = 3
	return cfg
}

func ewcTestModel() *nn.MLP {
	return nn.NewMLP([]int{3, 10, 4}, 1)
}

func taskIterator(t *testing.T, classes []int, seed int64) *data.SliceIterator {
	t.Helper()
	ds := data.SyntheticClusters(classes, 12, 3, 0.3, seed)
	it, err := ds.Iterator(8)
	if err != nil {
		t.Fatalf("iterator failed: %v", err)
	}
	return it
}

func TestEWCFirstTaskHasNoRegularization(t *testing.T) {
	cfg := ewcTestConfig()
	model := ewcTestModel()
	optim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())

	tr, err := NewEWCTrainer(cfg, 0, model, optim, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEWCTrainer failed: %v", err)
	}
	if tr.Regularization() != 0 {
		t.Errorf("first-task regularization = %v, want 0", tr.Regularization())
	}

	loss, err := tr.TrainOnBatch([][]float64{{1, 0, 0}, {0, 1, 0}}, []int{0, 1})
	if err != nil {
		t.Fatalf("TrainOnBatch failed: %v", err)
	}
	if loss.RegLoss != 0 {
		t.Errorf("RegLoss = %v on the first task, want 0", loss.RegLoss)
	}
	if loss.TotalLoss != loss.ClsLoss {
		t.Errorf("TotalLoss = %v, want ClsLoss %v", loss.TotalLoss, loss.ClsLoss)
	}
}

func TestEWCLossDecreasesOverSteps(t *testing.T) {
	cfg := ewcTestConfig()
	model := ewcTestModel()
	optim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())

	tr, err := NewEWCTrainer(cfg, 0, model, optim, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEWCTrainer failed: %v", err)
	}

	inputs := [][]float64{{2, 0, 0}, {0, 2, 0}, {2, 0.1, 0}, {0.1, 2, 0}}
	labels := []int{0, 1, 0, 1}

	first, err := tr.TrainOnBatch(inputs, labels)
	if err != nil {
		t.Fatalf("first step failed: %v", err)
	}
	var last continual.TaskLoss
	for i := 0; i < 20; i++ {
		last, err = tr.TrainOnBatch(inputs, labels)
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}
	if last.ClsLoss >= first.ClsLoss {
		t.Errorf("loss did not decrease: first %v, last %v", first.ClsLoss, last.ClsLoss)
	}
}

func TestEWCSecondTaskRequiresSummary(t *testing.T) {
	cfg := ewcTestConfig()
	model := ewcTestModel()
	optim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())

	if _, err := NewEWCTrainer(cfg, 1, model, optim, taskIterator(t, []int{2, 3}, 5), nil, nil); err == nil {
		t.Error("expected error for missing previous-task summary")
	}
}

func TestEWCSecondTaskRegularizationGrowsWithDrift(t *testing.T) {
	cfg := ewcTestConfig()
	model := ewcTestModel()

	firstOptim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	first, err := NewEWCTrainer(cfg, 0, model, firstOptim, nil, nil, nil)
	if err != nil {
		t.Fatalf("first trainer failed: %v", err)
	}
	if err := first.RunEpoch(taskIterator(t, []int{0, 1}, 5)); err != nil {
		t.Fatalf("first task epoch failed: %v", err)
	}

	secondOptim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	secondData := taskIterator(t, []int{2, 3}, 6)
	second, err := NewEWCTrainer(cfg, 1, model, secondOptim, secondData, first.Summary(), nil)
	if err != nil {
		t.Fatalf("second trainer failed: %v", err)
	}

	// Weights have not moved since the snapshot, so the penalty is zero.
	if got := second.Regularization(); got != 0 {
		t.Errorf("regularization before any step = %v, want 0", got)
	}

	if err := second.RunEpoch(secondData); err != nil {
		t.Fatalf("second task epoch failed: %v", err)
	}
	if got := second.Regularization(); got <= 0 {
		t.Errorf("regularization after training = %v, want > 0", got)
	}
}

func TestEWCRegularizationMatchesAnalyticDotProduct(t *testing.T) {
	cfg := ewcTestConfig()
	model := ewcTestModel()

	firstOptim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	first, err := NewEWCTrainer(cfg, 0, model, firstOptim, nil, nil, nil)
	if err != nil {
		t.Fatalf("first trainer failed: %v", err)
	}
	if err := first.RunEpoch(taskIterator(t, []int{0, 1}, 5)); err != nil {
		t.Fatalf("first task epoch failed: %v", err)
	}

	secondOptim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	second, err := NewEWCTrainer(cfg, 1, model, secondOptim, taskIterator(t, []int{2, 3}, 6), first.Summary(), nil)
	if err != nil {
		t.Fatalf("second trainer failed: %v", err)
	}

	// Perturb every parameter by a known offset and compare the penalty to
	// the importance-weighted squared drift computed directly.
	const delta = 0.01
	params := model.Params()
	for i := range params {
		params[i] += delta
	}
	var want float64
	for _, f := range second.prior.fisher {
		want += f * delta * delta
	}
	got := second.Regularization()
	if math.Abs(got-want) > 1e-9*(1+math.Abs(want)) {
		t.Errorf("regularization = %v, analytic value %v", got, want)
	}
}

func TestEWCThinnedRegularization(t *testing.T) {
	cfg := ewcTestConfig()
	cfg.FisherKeepProb = 0.5
	model := ewcTestModel()

	firstOptim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	first, err := NewEWCTrainer(cfg, 0, model, firstOptim, nil, nil, nil)
	if err != nil {
		t.Fatalf("first trainer failed: %v", err)
	}
	if err := first.RunEpoch(taskIterator(t, []int{0, 1}, 5)); err != nil {
		t.Fatalf("first task epoch failed: %v", err)
	}

	secondOptim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	secondData := taskIterator(t, []int{2, 3}, 6)
	second, err := NewEWCTrainer(cfg, 1, model, secondOptim, secondData, first.Summary(), nil)
	if err != nil {
		t.Fatalf("second trainer failed: %v", err)
	}

	// Thinning zeroes some body entries and upscales the rest; training must
	// proceed and produce finite losses.
	loss, err := second.TrainOnBatch([][]float64{{0, 0, 2}, {0, 0, -2}}, []int{2, 3})
	if err != nil {
		t.Fatalf("TrainOnBatch failed: %v", err)
	}
	if loss.TotalLoss < loss.ClsLoss {
		t.Errorf("total %v below classification loss %v with non-negative penalty", loss.TotalLoss, loss.ClsLoss)
	}
}

func TestEWCThinningNeverTouchesHead(t *testing.T) {
	cfg := ewcTestConfig()
	cfg.FisherKeepProb = 0.5
	model := ewcTestModel()

	firstOptim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	first, err := NewEWCTrainer(cfg, 0, model, firstOptim, nil, nil, nil)
	if err != nil {
		t.Fatalf("first trainer failed: %v", err)
	}
	if err := first.RunEpoch(taskIterator(t, []int{0, 1}, 5)); err != nil {
		t.Fatalf("first task epoch failed: %v", err)
	}

	secondOptim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	second, err := NewEWCTrainer(cfg, 1, model, secondOptim, taskIterator(t, []int{2, 3}, 6), first.Summary(), nil)
	if err != nil {
		t.Fatalf("second trainer failed: %v", err)
	}

	headStart := model.ParameterCount() - model.HeadSize()
	zeroedBody := false
	for trial := 0; trial < 5; trial++ {
		thinned := second.thinnedFisher()
		for i := headStart; i < len(thinned); i++ {
			if thinned[i] != second.prior.fisher[i] {
				t.Fatalf("trial %d: head importance %d was thinned", trial, i)
			}
		}
		for i := 0; i < headStart; i++ {
			if thinned[i] == 0 && second.prior.fisher[i] != 0 {
				zeroedBody = true
			}
		}
	}
	if !zeroedBody {
		t.Error("no body importance was ever zeroed at keep probability 0.5")
	}
}

func TestEWCVanishingKeepProbLeavesHeadPenalty(t *testing.T) {
	cfg := ewcTestConfig()
	cfg.FisherKeepProb = 1e-12
	model := ewcTestModel()

	firstOptim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	first, err := NewEWCTrainer(cfg, 0, model, firstOptim, nil, nil, nil)
	if err != nil {
		t.Fatalf("first trainer failed: %v", err)
	}
	if err := first.RunEpoch(taskIterator(t, []int{0, 1}, 5)); err != nil {
		t.Fatalf("first task epoch failed: %v", err)
	}

	secondOptim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	second, err := NewEWCTrainer(cfg, 1, model, secondOptim, taskIterator(t, []int{2, 3}, 6), first.Summary(), nil)
	if err != nil {
		t.Fatalf("second trainer failed: %v", err)
	}

	// With a vanishing keep probability every body importance is dropped, so
	// the penalty reduces to the head's importance-weighted squared drift.
	const delta = 0.01
	params := model.Params()
	for i := range params {
		params[i] += delta
	}
	headStart := model.ParameterCount() - model.HeadSize()
	var want float64
	for _, f := range second.prior.fisher[headStart:] {
		want += f * delta * delta
	}
	got := second.Regularization()
	if math.Abs(got-want) > 1e-9*(1+math.Abs(want)) {
		t.Errorf("regularization = %v, head-only value %v", got, want)
	}
}

func TestEWCRecordsMetrics(t *testing.T) {
	cfg := ewcTestConfig()
	model := ewcTestModel()
	optim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())
	sink := metrics.NewMemorySink()

	tr, err := NewEWCTrainer(cfg, 0, model, optim, nil, nil, sink)
	if err != nil {
		t.Fatalf("NewEWCTrainer failed: %v", err)
	}
	if _, err := tr.TrainOnBatch([][]float64{{1, 0, 0}}, []int{0}); err != nil {
		t.Fatalf("TrainOnBatch failed: %v", err)
	}
	if got := sink.Series("ewc/cls_loss"); len(got) != 1 {
		t.Errorf("recorded %d cls_loss points, want 1", len(got))
	}
	if got := sink.Series("ewc/reg_loss"); len(got) != 0 {
		t.Errorf("first task recorded %d reg_loss points, want 0", len(got))
	}
}

func TestEWCRejectsLabelsOutsideTask(t *testing.T) {
	cfg := ewcTestConfig()
	model := ewcTestModel()
	optim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())

	tr, err := NewEWCTrainer(cfg, 0, model, optim, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEWCTrainer failed: %v", err)
	}
	if _, err := tr.TrainOnBatch([][]float64{{1, 0, 0}}, []int{2}); err == nil {
		t.Error("expected error for a label belonging to another task")
	}
}

func TestEWCEmptyEpoch(t *testing.T) {
	cfg := ewcTestConfig()
	model := ewcTestModel()
	optim, _ := nn.NewOptimizer(nn.DefaultSGDConfig(0.05), model.ParameterCount())

	tr, err := NewEWCTrainer(cfg, 0, model, optim, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEWCTrainer failed: %v", err)
	}
	empty, err := data.NewSliceIterator(nil, nil, 4)
	if err != nil {
		t.Fatalf("iterator failed: %v", err)
	}
	if err := tr.RunEpoch(empty); err != ErrEmptyEpoch {
		t.Errorf("RunEpoch on empty data = %v, want ErrEmptyEpoch", err)
	}
}
