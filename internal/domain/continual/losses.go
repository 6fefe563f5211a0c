package continual

// TaskLoss breaks down a single EWC training step.
type TaskLoss struct {
	// ClsLoss is the cross-entropy on the current task's pruned logits.
	ClsLoss float64 `json:"clsLoss"`

	// RegLoss is the importance-weighted quadratic penalty, before scaling
	// by the synaptic strength.
	RegLoss float64 `json:"regLoss"`

	// TotalLoss is ClsLoss + synapticStrength * RegLoss.
	TotalLoss float64 `json:"totalLoss"`
}

// DiscrLoss breaks down a discriminator step in the GAN phase.
type DiscrLoss struct {
	// AdvLoss is the Wasserstein critic loss (mean fake minus mean real).
	AdvLoss float64 `json:"advLoss"`

	// GradPenalty is the unscaled gradient penalty on interpolates.
	GradPenalty float64 `json:"gradPenalty"`

	// MeanPredReal is the mean critic score on real embeddings.
	MeanPredReal float64 `json:"meanPredReal"`

	// MeanPredFake is the mean critic score on generated embeddings.
	MeanPredFake float64 `json:"meanPredFake"`

	// TotalLoss is AdvLoss + gpCoef * GradPenalty.
	TotalLoss float64 `json:"totalLoss"`
}

// GenLoss breaks down a generator step in the GAN phase.
type GenLoss struct {
	// AdvLoss is the negated mean critic score on generated embeddings.
	AdvLoss float64 `json:"advLoss"`

	// DistillLoss is the knowledge-distillation loss against the frozen
	// previous-task generator. Zero on the first task.
	DistillLoss float64 `json:"distillLoss"`

	// ClsLoss is the cross-entropy on the pruned logits of generated
	// embeddings.
	ClsLoss float64 `json:"clsLoss"`

	// ClsAcc is the classification accuracy on generated embeddings.
	ClsAcc float64 `json:"clsAcc"`

	// TotalLoss is the coefficient-weighted sum of the three terms.
	TotalLoss float64 `json:"totalLoss"`
}

// ClsLoss breaks down a classifier step.
type ClsLoss struct {
	// CurrLoss is the cross-entropy on the current task's real inputs.
	CurrLoss float64 `json:"currLoss"`

	// CurrAcc is the accuracy on the current task's real inputs.
	CurrAcc float64 `json:"currAcc"`

	// DistillLoss is the MSE between frozen and live predictions on fake
	// samples of learned classes. Zero on the first task.
	DistillLoss float64 `json:"distillLoss"`

	// DistillAcc is the live model's accuracy on those fake samples.
	DistillAcc float64 `json:"distillAcc"`

	// TotalLoss is CurrLoss + distillCoef * DistillLoss.
	TotalLoss float64 `json:"totalLoss"`
}

// PrevTaskSummary is the read-only view a trainer exposes to its successor.
// Trainers are constructed with an optional direct reference to this summary
// instead of a live handle into a trainer collection.
type PrevTaskSummary struct {
	// TaskIdx is the summarized trainer's position in the task sequence.
	TaskIdx int `json:"taskIdx"`

	// OutputMask selects the classes the summarized trainer was trained on.
	OutputMask OutputMask `json:"outputMask"`
}
