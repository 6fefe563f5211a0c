package trainers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/universome/czsl/internal/domain/continual"
	"github.com/universome/czsl/internal/infrastructure/data"
	"github.com/universome/czsl/internal/infrastructure/importance"
	"github.com/universome/czsl/internal/infrastructure/metrics"
	"github.com/universome/czsl/internal/infrastructure/nn"
)

// gpEpsilon is the perturbation used by the finite-difference second-order
// pass of the gradient penalty.
const gpEpsilon = 1e-4

// GenerativeMemoryTrainer trains the latent generative-memory model on one
// task. Each epoch is either a GAN epoch (adversarial generator and critic
// updates over latent embeddings) or a classifier epoch (supervised updates
// on real inputs plus distillation on generated samples of learned classes);
// the first NumGANEpochs epochs are GAN epochs.
type GenerativeMemoryTrainer struct {
	cfg     continual.Config
	taskIdx int
	model   *nn.LatentMemory
	frozen  *nn.LatentMemory
	optims  map[string]nn.Optimizer
	sink    metrics.Sink
	rng     *rand.Rand

	outputMask  continual.OutputMask
	learnedMask continual.OutputMask
	seenMask    continual.OutputMask

	embedderImp  []float64
	embedderPrev []float64

	itersDone  int64
	epochsDone int
}

// NewGenerativeMemoryTrainer builds the trainer for one task. For tasks
// after the first, the model is deep-copied into a frozen teacher before
// anything else touches it; the head reset (if configured), the embedder
// weight snapshot and the importance estimation over trainData happen
// afterwards, against the previous task's output mask. The estimate is
// always computed; whether it is applied is decided by UseEmbedderReg.
func NewGenerativeMemoryTrainer(
	cfg continual.Config,
	taskIdx int,
	model *nn.LatentMemory,
	optimCfgs map[string]nn.OptimConfig,
	trainData data.Iterator,
	prev *continual.PrevTaskSummary,
	sink metrics.Sink,
) (*GenerativeMemoryTrainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	outputMask, err := cfg.MaskForTask(taskIdx)
	if err != nil {
		return nil, err
	}
	learnedMask, err := cfg.LearnedMask(taskIdx)
	if err != nil {
		return nil, err
	}
	seenMask, err := cfg.SeenMask(taskIdx)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = metrics.Nop{}
	}

	t := &GenerativeMemoryTrainer{
		cfg:         cfg,
		taskIdx:     taskIdx,
		model:       model,
		sink:        sink,
		rng:         rand.New(rand.NewSource(cfg.Seed + int64(taskIdx))),
		outputMask:  outputMask,
		learnedMask: learnedMask,
		seenMask:    seenMask,
	}

	if taskIdx > 0 {
		if prev == nil {
			return nil, fmt.Errorf("trainers: task %d needs the previous task's summary", taskIdx)
		}
		t.frozen = model.Clone()

		if cfg.ResetHeadBeforeEachTask {
			model.ResetClsHead(cfg.Seed + int64(taskIdx))
		}

		if trainData == nil {
			return nil, fmt.Errorf("trainers: task %d needs training data for importance estimation", taskIdx)
		}
		t.embedderPrev = model.Embedder.CopyParams()
		imp, err := estimateClassifierImportance(cfg, model.ClassifierView(), trainData, prev.OutputMask)
		if err != nil {
			return nil, fmt.Errorf("trainers: embedder importance estimation failed: %w", err)
		}
		t.embedderImp = imp[:model.Embedder.ParameterCount()]
	}

	t.optims = make(map[string]nn.Optimizer, len(nn.Roles))
	for _, role := range nn.Roles {
		params, err := model.ParamsByRole(role)
		if err != nil {
			return nil, err
		}
		ocfg, ok := optimCfgs[role]
		if !ok {
			ocfg = nn.DefaultAdamConfig(1e-3)
		}
		opt, err := nn.NewOptimizer(ocfg, len(params))
		if err != nil {
			return nil, fmt.Errorf("trainers: optimizer for %s: %w", role, err)
		}
		t.optims[role] = opt
	}

	return t, nil
}

// estimateClassifierImportance dispatches on the configured strategy. The
// returned vector is aligned with the classifier view's flat parameters.
func estimateClassifierImportance(cfg continual.Config, view *nn.ClassifierView, batches data.Iterator, mask continual.OutputMask) ([]float64, error) {
	switch cfg.RegStrategy {
	case continual.RegStrategyEWC:
		return importance.DiagonalFisher(view, batches, mask, cfg.Seed)
	case continual.RegStrategyMAS:
		return importance.MeanSquaredGradient(view, batches, mask)
	default:
		return nil, fmt.Errorf("unknown regularization strategy: %q", cfg.RegStrategy)
	}
}

// TaskIdx returns the trainer's position in the task sequence.
func (t *GenerativeMemoryTrainer) TaskIdx() int { return t.taskIdx }

// Model returns the live model.
func (t *GenerativeMemoryTrainer) Model() *nn.LatentMemory { return t.model }

// OutputMask returns the current task's output mask.
func (t *GenerativeMemoryTrainer) OutputMask() continual.OutputMask { return t.outputMask }

// Summary returns the read-only view the next task's trainer consumes.
func (t *GenerativeMemoryTrainer) Summary() *continual.PrevTaskSummary {
	return &continual.PrevTaskSummary{TaskIdx: t.taskIdx, OutputMask: t.outputMask}
}

// InGANPhase reports whether the next epoch is an adversarial one.
func (t *GenerativeMemoryTrainer) InGANPhase() bool {
	return t.epochsDone < t.cfg.NumGANEpochs
}

// TrainOnBatch dispatches one batch to the current phase. During the GAN
// phase the generator runs first, throttled to every NumDiscrStepsPerGenStep
// iterations, and the critic runs on every batch. Labels are global class
// IDs within the current task's classes.
func (t *GenerativeMemoryTrainer) TrainOnBatch(inputs [][]float64, labels []int) error {
	if err := checkBatch(inputs, labels); err != nil {
		return err
	}

	if t.InGANPhase() {
		if t.itersDone%t.cfg.NumDiscrStepsPerGenStep == 0 {
			if err := t.generatorStep(labels); err != nil {
				return err
			}
		}
		if err := t.discriminatorStep(inputs, labels); err != nil {
			return err
		}
		if t.cfg.Creativity.Enabled && t.itersDone >= t.cfg.Creativity.StartIter {
			if err := t.creativityStep(); err != nil {
				return err
			}
		}
	} else {
		if err := t.classifierStep(inputs, labels); err != nil {
			return err
		}
	}

	t.itersDone++
	return nil
}

// RunEpoch drives one pass over the iterator and advances the phase counter.
func (t *GenerativeMemoryTrainer) RunEpoch(it data.Iterator) error {
	err := runEpoch(it, t.TrainOnBatch)
	if err != nil {
		return err
	}
	t.epochsDone++
	return nil
}

// discriminatorStep updates the critic on a Wasserstein objective with a
// gradient penalty on real/fake interpolates.
func (t *GenerativeMemoryTrainer) discriminatorStep(inputs [][]float64, labels []int) error {
	adv := t.model.AdvHead
	grad := make([]float64, adv.ParameterCount())
	n := float64(len(inputs))

	var loss continual.DiscrLoss
	for i, x := range inputs {
		real := t.model.Embedder.Forward(x)
		fake := t.model.Sample(labels[i])

		predReal := adv.Forward(real)[0]
		predFake := adv.Forward(fake)[0]
		loss.MeanPredReal += predReal / n
		loss.MeanPredFake += predFake / n

		gReal, _ := adv.Backprop(real, []float64{-1 / n})
		gFake, _ := adv.Backprop(fake, []float64{1 / n})
		for j := range grad {
			grad[j] += gReal[j] + gFake[j]
		}

		penalty, gpGrad := t.gradientPenalty(real, fake)
		loss.GradPenalty += penalty / n
		for j, g := range gpGrad {
			grad[j] += t.cfg.LossCoefs.GP * g / n
		}
	}

	loss.AdvLoss = loss.MeanPredFake - loss.MeanPredReal
	loss.TotalLoss = loss.AdvLoss + t.cfg.LossCoefs.GP*loss.GradPenalty

	if err := t.optimStep(nn.RoleDiscriminator, grad); err != nil {
		return err
	}

	t.sink.Record("gm/discr/adv_loss", loss.AdvLoss, t.itersDone)
	t.sink.Record("gm/discr/grad_penalty", loss.GradPenalty, t.itersDone)
	t.sink.Record("gm/discr/mean_pred_real", loss.MeanPredReal, t.itersDone)
	t.sink.Record("gm/discr/mean_pred_fake", loss.MeanPredFake, t.itersDone)
	t.sink.Record("gm/discr/total_loss", loss.TotalLoss, t.itersDone)
	return nil
}

// gradientPenalty evaluates (||grad_x D(x_hat)|| - 1)^2 at a random
// interpolate of a real/fake pair, and its gradient with respect to the
// critic parameters. The parameter gradient needs a derivative of the input
// gradient, which the flat networks do not expose directly; it is recovered
// with a central finite difference of the first-order backward pass along
// the penalty's own descent direction.
func (t *GenerativeMemoryTrainer) gradientPenalty(real, fake []float64) (float64, []float64) {
	adv := t.model.AdvHead

	alpha := t.rng.Float64()
	interp := make([]float64, len(real))
	for i := range interp {
		interp[i] = alpha*real[i] + (1-alpha)*fake[i]
	}

	_, inputGrad := adv.Backprop(interp, []float64{1})
	var normSq float64
	for _, g := range inputGrad {
		normSq += g * g
	}
	norm := math.Sqrt(normSq)
	penalty := (norm - 1) * (norm - 1)

	paramGrad := make([]float64, adv.ParameterCount())
	if norm == 0 {
		return penalty, paramGrad
	}

	// d penalty / d inputGrad_i = 2 (norm - 1) / norm * inputGrad_i =: u_i.
	// The parameter gradient of u . inputGrad(theta) is approximated by
	// [grad_theta D(interp + eps u) - grad_theta D(interp - eps u)] / (2 eps).
	u := make([]float64, len(inputGrad))
	scale := 2 * (norm - 1) / norm
	for i, g := range inputGrad {
		u[i] = scale * g
	}

	plus := make([]float64, len(interp))
	minus := make([]float64, len(interp))
	for i := range interp {
		plus[i] = interp[i] + gpEpsilon*u[i]
		minus[i] = interp[i] - gpEpsilon*u[i]
	}
	gPlus, _ := adv.Backprop(plus, []float64{1})
	gMinus, _ := adv.Backprop(minus, []float64{1})
	for i := range paramGrad {
		paramGrad[i] = (gPlus[i] - gMinus[i]) / (2 * gpEpsilon)
	}
	return penalty, paramGrad
}

// generatorStep updates the generator on the adversarial objective plus
// knowledge distillation against the frozen previous-task generator and a
// classification term on its own samples.
func (t *GenerativeMemoryTrainer) generatorStep(labels []int) error {
	gen := t.model.Generator
	grad := make([]float64, gen.ParameterCount())
	n := float64(len(labels))

	remapped, err := continual.RemapLabels(labels, t.outputMask)
	if err != nil {
		return err
	}

	var loss continual.GenLoss
	for i, label := range labels {
		z := gen.SampleNoise()
		fake := gen.Forward(z, label)

		// Adversarial term: maximize the critic score on the sample.
		loss.AdvLoss -= t.model.AdvHead.Forward(fake)[0] / n
		_, advGrad := t.model.AdvHead.Backprop(fake, []float64{-1 / n})

		// Classification term: the sample should look like its class to
		// the live classifier. The head's parameters are not updated here;
		// only its input gradient reaches the generator.
		pruned := continual.PruneVector(t.model.ClassifyLatent(fake), t.outputMask)
		clsLoss, clsGradPruned := nn.CrossEntropy(pruned, remapped[i])
		loss.ClsLoss += clsLoss / n
		if nn.ArgMax(pruned) == remapped[i] {
			loss.ClsAcc += 1 / n
		}
		for j := range clsGradPruned {
			clsGradPruned[j] *= t.cfg.LossCoefs.GenCls / n
		}
		_, clsGrad := t.model.ClsHead.Backprop(fake, continual.ScatterVector(clsGradPruned, t.outputMask))

		outGrad := make([]float64, len(fake))
		for j := range outGrad {
			outGrad[j] = advGrad[j] + clsGrad[j]
		}
		for j, g := range gen.Backprop(z, label, outGrad) {
			grad[j] += g
		}
	}

	// The distillation distance is computed and recorded whenever a frozen
	// generator exists; the coefficient only scales its gradient.
	if t.frozen != nil && t.cfg.DistillBatchSize > 0 {
		distill, err := t.generatorDistillation(grad)
		if err != nil {
			return err
		}
		loss.DistillLoss = distill
	}

	loss.TotalLoss = loss.AdvLoss + t.cfg.LossCoefs.Distill*loss.DistillLoss + t.cfg.LossCoefs.GenCls*loss.ClsLoss

	if err := t.optimStep(nn.RoleGenerator, grad); err != nil {
		return err
	}

	t.sink.Record("gm/gen/adv_loss", loss.AdvLoss, t.itersDone)
	t.sink.Record("gm/gen/distill_loss", loss.DistillLoss, t.itersDone)
	t.sink.Record("gm/gen/cls_loss", loss.ClsLoss, t.itersDone)
	t.sink.Record("gm/gen/cls_acc", loss.ClsAcc, t.itersDone)
	t.sink.Record("gm/gen/total_loss", loss.TotalLoss, t.itersDone)
	return nil
}

// generatorDistillation pushes the live generator to reproduce the frozen
// generator's outputs on shared noise, evenly across learned classes. The
// distillation gradient is accumulated into grad; the mean squared distance
// over samples, normalized by the learned-class count, is returned.
func (t *GenerativeMemoryTrainer) generatorDistillation(grad []float64) (float64, error) {
	gen := t.model.Generator
	learned := t.learnedMask.ActiveClasses()

	perClass := t.cfg.DistillBatchSize / len(learned)
	if perClass == 0 {
		return 0, fmt.Errorf("trainers: distillation batch size %d is too small for %d learned classes",
			t.cfg.DistillBatchSize, len(learned))
	}

	norm := float64(perClass*len(learned)) * float64(len(learned))
	var distill float64
	for _, class := range learned {
		for s := 0; s < perClass; s++ {
			z := gen.SampleNoise()
			live := gen.Forward(z, class)
			target := t.frozen.Generator.Forward(z, class)

			outGrad := make([]float64, len(live))
			for j := range live {
				diff := live[j] - target[j]
				distill += diff * diff / norm
				outGrad[j] = t.cfg.LossCoefs.Distill * 2 * diff / norm
			}
			for j, g := range gen.Backprop(z, class, outGrad) {
				grad[j] += g
			}
		}
	}
	return distill, nil
}

// classifierStep updates the classification head on the current task's real
// inputs, with distillation on generated samples of learned classes. The
// embedder only moves when UseEmbedderReg is set, in which case its gradient
// carries the importance-weighted drift penalty.
func (t *GenerativeMemoryTrainer) classifierStep(inputs [][]float64, labels []int) error {
	clsGrad := make([]float64, t.model.ClsHead.ParameterCount())
	embGrad := make([]float64, t.model.Embedder.ParameterCount())
	n := float64(len(inputs))

	remapped, err := continual.RemapLabels(labels, t.outputMask)
	if err != nil {
		return err
	}

	var loss continual.ClsLoss
	for i, x := range inputs {
		h := t.model.Embedder.Forward(x)
		pruned := continual.PruneVector(t.model.ClassifyLatent(h), t.outputMask)
		ce, ceGradPruned := nn.CrossEntropy(pruned, remapped[i])
		loss.CurrLoss += ce / n
		if nn.ArgMax(pruned) == remapped[i] {
			loss.CurrAcc += 1 / n
		}

		for j := range ceGradPruned {
			ceGradPruned[j] /= n
		}
		headGrad, latentGrad := t.model.ClsHead.Backprop(h, continual.ScatterVector(ceGradPruned, t.outputMask))
		for j, g := range headGrad {
			clsGrad[j] += g
		}
		if t.cfg.UseEmbedderReg {
			bodyGrad, _ := t.model.Embedder.Backprop(x, latentGrad)
			for j, g := range bodyGrad {
				embGrad[j] += g
			}
		}
	}

	// The distillation distance is computed and recorded whenever a frozen
	// model exists; the coefficient only scales its gradient.
	if t.frozen != nil && t.cfg.ClsDistill.BatchSize > 0 {
		loss.DistillLoss, loss.DistillAcc = t.classifierDistillation(clsGrad)
	}

	loss.TotalLoss = loss.CurrLoss + t.cfg.ClsDistill.LossCoef*loss.DistillLoss

	if t.cfg.UseEmbedderReg && t.embedderImp != nil {
		reg := t.applyEmbedderReg(embGrad)
		t.sink.Record("gm/cls/embedder_reg", reg, t.itersDone)
	}

	if err := t.optimStep(nn.RoleClassifier, clsGrad); err != nil {
		return err
	}
	if t.cfg.UseEmbedderReg {
		if err := t.optimStep(nn.RoleEmbedder, embGrad); err != nil {
			return err
		}
	}

	t.sink.Record("gm/cls/curr_loss", loss.CurrLoss, t.itersDone)
	t.sink.Record("gm/cls/curr_acc", loss.CurrAcc, t.itersDone)
	t.sink.Record("gm/cls/distill_loss", loss.DistillLoss, t.itersDone)
	t.sink.Record("gm/cls/distill_acc", loss.DistillAcc, t.itersDone)
	t.sink.Record("gm/cls/total_loss", loss.TotalLoss, t.itersDone)
	return nil
}

// classifierDistillation matches the live classification head to the frozen
// model's predictions on generated samples of learned classes. Both
// prediction vectors are pruned to the seen classes, so the current task's
// columns are matched too; the mean squared error's gradient is accumulated
// into clsGrad.
func (t *GenerativeMemoryTrainer) classifierDistillation(clsGrad []float64) (distillLoss, distillAcc float64) {
	learned := t.learnedMask.ActiveClasses()
	n := float64(t.cfg.ClsDistill.BatchSize)

	for s := 0; s < t.cfg.ClsDistill.BatchSize; s++ {
		class := learned[t.rng.Intn(len(learned))]
		h := t.model.Sample(class)

		livePruned := continual.PruneVector(t.model.ClassifyLatent(h), t.seenMask)
		frozenPruned := continual.PruneVector(t.frozen.ClassifyLatent(h), t.seenMask)

		mse, mseGrad := nn.MSE(livePruned, frozenPruned)
		distillLoss += mse / n
		if nn.ArgMax(livePruned) == nn.ArgMax(frozenPruned) {
			distillAcc += 1 / n
		}

		for j := range mseGrad {
			mseGrad[j] *= t.cfg.ClsDistill.LossCoef / n
		}
		headGrad, _ := t.model.ClsHead.Backprop(h, continual.ScatterVector(mseGrad, t.seenMask))
		for j, g := range headGrad {
			clsGrad[j] += g
		}
	}
	return distillLoss, distillAcc
}

// applyEmbedderReg adds the importance-weighted drift gradient to embGrad
// and returns the unscaled penalty value. Importance weights are thinned
// the same way the task trainer thins them.
func (t *GenerativeMemoryTrainer) applyEmbedderReg(embGrad []float64) float64 {
	imp := t.embedderImp
	keep := t.cfg.FisherKeepProb
	if keep < 1 {
		thinned := append([]float64(nil), imp...)
		for i := range thinned {
			if t.rng.Float64() < keep {
				thinned[i] /= keep
			} else {
				thinned[i] = 0
			}
		}
		imp = thinned
	}

	params := t.model.Embedder.Params()
	var reg float64
	for i, f := range imp {
		diff := params[i] - t.embedderPrev[i]
		reg += f * diff * diff
		embGrad[i] += t.cfg.SynapticStrength * 2 * f * diff
	}
	return reg
}

// creativityStep hallucinates samples between two seen classes and pushes
// the generator toward outputs that look real to the critic while keeping
// the classifier maximally uncertain over seen classes.
func (t *GenerativeMemoryTrainer) creativityStep() error {
	seen := t.seenMask.ActiveClasses()
	if len(seen) < 2 {
		return nil
	}

	gen := t.model.Generator
	grad := make([]float64, gen.ParameterCount())
	n := float64(t.cfg.Creativity.HallBatchSize)

	var advLoss, entropy float64
	for s := 0; s < t.cfg.Creativity.HallBatchSize; s++ {
		a := seen[t.rng.Intn(len(seen))]
		b := seen[t.rng.Intn(len(seen))]
		for b == a {
			b = seen[t.rng.Intn(len(seen))]
		}
		alpha := 0.2 + 0.6*t.rng.Float64()

		condA, condB := gen.CondVector(a), gen.CondVector(b)
		cond := make([]float64, len(condA))
		for i := range cond {
			cond[i] = alpha*condA[i] + (1-alpha)*condB[i]
		}

		z := gen.SampleNoise()
		h := gen.ForwardCond(z, cond)

		advLoss -= t.model.AdvHead.Forward(h)[0] / n
		_, advGrad := t.model.AdvHead.Backprop(h, []float64{-t.cfg.Creativity.AdvCoef / n})

		pruned := continual.PruneVector(t.model.ClassifyLatent(h), t.seenMask)
		probs := nn.Softmax(pruned)
		var ent float64
		for _, p := range probs {
			if p > 0 {
				ent -= p * math.Log(p)
			}
		}
		entropy += ent / n

		// Maximizing entropy: d(-H)/d logit_j = p_j (log p_j + H).
		entGrad := make([]float64, len(probs))
		for j, p := range probs {
			if p > 0 {
				entGrad[j] = t.cfg.Creativity.EntropyCoef * p * (math.Log(p) + ent) / n
			}
		}
		_, clsGrad := t.model.ClsHead.Backprop(h, continual.ScatterVector(entGrad, t.seenMask))

		outGrad := make([]float64, len(h))
		for j := range outGrad {
			outGrad[j] = advGrad[j] + clsGrad[j]
		}
		for j, g := range gen.BackpropCond(z, cond, outGrad) {
			grad[j] += g
		}
	}

	if err := t.optimStep(nn.RoleGenerator, grad); err != nil {
		return err
	}

	t.sink.Record("gm/creativity/adv_loss", advLoss, t.itersDone)
	t.sink.Record("gm/creativity/entropy", entropy, t.itersDone)
	return nil
}

// optimStep clips the gradient of a sub-network when configured, records its
// pre-clip norm and applies the partition's optimizer.
func (t *GenerativeMemoryTrainer) optimStep(role string, grad []float64) error {
	params, err := t.model.ParamsByRole(role)
	if err != nil {
		return err
	}
	if maxNorm, ok := t.cfg.GradClipping[role]; ok {
		norm := nn.ClipGradNorm(grad, maxNorm)
		t.sink.Record("gm/grad_norms/"+role, norm, t.itersDone)
	}
	t.optims[role].Step(params, grad)
	return nil
}
