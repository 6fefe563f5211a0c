package nn

import (
	"math"
	"testing"
)

func testLatentMemoryConfig() LatentMemoryConfig {
	return LatentMemoryConfig{
		InputDim:        6,
		LatentDim:       4,
		NoiseDim:        3,
		NumClasses:      5,
		EmbedderHidden:  []int{8},
		GeneratorHidden: []int{8},
		ClsHidden:       []int{6},
		Seed:            11,
	}
}

func TestNewLatentMemoryDimensions(t *testing.T) {
	m, err := NewLatentMemory(testLatentMemoryConfig())
	if err != nil {
		t.Fatalf("NewLatentMemory failed: %v", err)
	}
	if m.Embedder.InputDim() != 6 || m.Embedder.OutputDim() != 4 {
		t.Errorf("embedder dims = %d/%d", m.Embedder.InputDim(), m.Embedder.OutputDim())
	}
	if m.AdvHead.InputDim() != 4 || m.AdvHead.OutputDim() != 1 {
		t.Errorf("adversarial head dims = %d/%d", m.AdvHead.InputDim(), m.AdvHead.OutputDim())
	}
	if m.ClsHead.InputDim() != 4 || m.ClsHead.OutputDim() != 5 {
		t.Errorf("classification head dims = %d/%d", m.ClsHead.InputDim(), m.ClsHead.OutputDim())
	}
	if got := m.Sample(2); len(got) != 4 {
		t.Errorf("sample length = %d, want 4", len(got))
	}
}

func TestNewLatentMemoryRejectsBadDims(t *testing.T) {
	cfg := testLatentMemoryConfig()
	cfg.LatentDim = 0
	if _, err := NewLatentMemory(cfg); err == nil {
		t.Error("expected error for zero latent dim")
	}
}

func TestParamsByRoleArePartitions(t *testing.T) {
	m, err := NewLatentMemory(testLatentMemoryConfig())
	if err != nil {
		t.Fatalf("NewLatentMemory failed: %v", err)
	}
	for _, role := range Roles {
		params, err := m.ParamsByRole(role)
		if err != nil {
			t.Fatalf("ParamsByRole(%s) failed: %v", role, err)
		}
		if len(params) == 0 {
			t.Errorf("role %s has no parameters", role)
		}
	}
	if _, err := m.ParamsByRole("attention"); err == nil {
		t.Error("expected error for unknown role")
	}

	// Stepping one partition must not move another.
	before := m.Embedder.CopyParams()
	discr, _ := m.ParamsByRole(RoleDiscriminator)
	for i := range discr {
		discr[i] += 1
	}
	for i, v := range m.Embedder.Params() {
		if v != before[i] {
			t.Fatal("discriminator update leaked into the embedder partition")
		}
	}
}

func TestResetClsHeadLeavesOtherPartsAlone(t *testing.T) {
	m, err := NewLatentMemory(testLatentMemoryConfig())
	if err != nil {
		t.Fatalf("NewLatentMemory failed: %v", err)
	}
	embBefore := m.Embedder.CopyParams()
	clsBefore := m.ClsHead.CopyParams()

	m.ResetClsHead(99)

	changed := false
	for i, v := range m.ClsHead.Params() {
		if v != clsBefore[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("head reset left the classification head unchanged")
	}
	for i, v := range m.Embedder.Params() {
		if v != embBefore[i] {
			t.Fatal("head reset touched the embedder")
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	m, err := NewLatentMemory(testLatentMemoryConfig())
	if err != nil {
		t.Fatalf("NewLatentMemory failed: %v", err)
	}
	x := []float64{1, -0.5, 0.3, 2, 0, -1}
	frozen := m.Clone()
	before := frozen.Classify(x)

	for _, role := range Roles {
		params, _ := m.ParamsByRole(role)
		for i := range params {
			params[i] += 0.5
		}
	}

	after := frozen.Classify(x)
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("frozen clone prediction moved with the live model")
		}
	}
}

func TestClassifierViewGradientMatchesFiniteDifferences(t *testing.T) {
	m, err := NewLatentMemory(testLatentMemoryConfig())
	if err != nil {
		t.Fatalf("NewLatentMemory failed: %v", err)
	}
	view := m.ClassifierView()
	if view.ParameterCount() != m.Embedder.ParameterCount()+m.ClsHead.ParameterCount() {
		t.Fatalf("view parameter count = %d", view.ParameterCount())
	}

	x := []float64{0.2, -0.4, 0.9, 0.1, -1.1, 0.6}
	out := view.Forward(x)
	gradOut := make([]float64, len(out))
	for i := range gradOut {
		gradOut[i] = float64(i) - 1.5
	}
	paramGrad, _ := view.Backprop(x, gradOut)

	loss := func() float64 {
		var l float64
		for i, v := range view.Forward(x) {
			l += gradOut[i] * v
		}
		return l
	}

	const eps = 1e-6
	embCount := m.Embedder.ParameterCount()
	checks := []struct {
		params []float64
		local  int
		flat   int
	}{
		{m.Embedder.Params(), 2, 2},
		{m.ClsHead.Params(), 3, embCount + 3},
	}
	for _, c := range checks {
		orig := c.params[c.local]
		c.params[c.local] = orig + eps
		plus := loss()
		c.params[c.local] = orig - eps
		minus := loss()
		c.params[c.local] = orig

		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-paramGrad[c.flat]) > 1e-4 {
			t.Errorf("flat index %d: analytic %v vs numeric %v", c.flat, paramGrad[c.flat], numeric)
		}
	}
}
