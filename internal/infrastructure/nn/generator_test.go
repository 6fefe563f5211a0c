package nn

import (
	"math"
	"testing"
)

func TestGeneratorOneHotConditioning(t *testing.T) {
	gen, err := NewGenerator(4, 6, []int{8}, 3, nil, 1)
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	if gen.NoiseDim() != 4 || gen.OutputDim() != 6 || gen.NumClasses() != 3 {
		t.Errorf("dims = %d/%d/%d", gen.NoiseDim(), gen.OutputDim(), gen.NumClasses())
	}

	cond := gen.CondVector(1)
	if len(cond) != 3 || cond[1] != 1 || cond[0] != 0 {
		t.Errorf("one-hot conditioning = %v", cond)
	}

	z := gen.SampleNoise()
	if len(z) != 4 {
		t.Fatalf("noise length = %d, want 4", len(z))
	}
	out := gen.Forward(z, 2)
	if len(out) != 6 {
		t.Errorf("output length = %d, want 6", len(out))
	}
}

func TestGeneratorAttributeConditioning(t *testing.T) {
	attrs := [][]float64{{0.1, 0.2}, {0.3, 0.4}}
	gen, err := NewGenerator(2, 3, nil, 2, attrs, 1)
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	cond := gen.CondVector(1)
	if cond[0] != 0.3 || cond[1] != 0.4 {
		t.Errorf("attribute conditioning = %v", cond)
	}

	// Mutating the returned copy must not change the generator's vectors.
	cond[0] = 99
	if gen.CondVector(1)[0] != 0.3 {
		t.Error("CondVector returned live storage")
	}
}

func TestGeneratorAttributeValidation(t *testing.T) {
	if _, err := NewGenerator(2, 3, nil, 2, [][]float64{{1}}, 1); err == nil {
		t.Error("expected error for wrong attribute count")
	}
	if _, err := NewGenerator(2, 3, nil, 2, [][]float64{{1, 2}, {3}}, 1); err == nil {
		t.Error("expected error for ragged attribute vectors")
	}
}

func TestGeneratorClassChangesOutput(t *testing.T) {
	gen, err := NewGenerator(3, 4, []int{6}, 2, nil, 5)
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	z := gen.SampleNoise()
	a := gen.Forward(z, 0)
	b := gen.Forward(z, 1)
	same := true
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-12 {
			same = false
			break
		}
	}
	if same {
		t.Error("conditioning class has no effect on the output")
	}
}

func TestGeneratorCloneIsFrozen(t *testing.T) {
	gen, err := NewGenerator(3, 4, []int{6}, 2, nil, 5)
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	clone := gen.Clone(9)
	z := gen.SampleNoise()
	before := clone.Forward(z, 0)

	// Perturb the live generator; the clone's outputs must not move.
	gen.Params()[0] += 1
	after := clone.Forward(z, 0)
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("clone output changed when the original was perturbed")
		}
	}
}
