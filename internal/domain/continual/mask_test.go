package continual

import (
	"reflect"
	"testing"
)

func TestMaskForClasses(t *testing.T) {
	mask, err := MaskForClasses([]int{1, 3}, 5)
	if err != nil {
		t.Fatalf("MaskForClasses failed: %v", err)
	}
	want := OutputMask{false, true, false, true, false}
	if !reflect.DeepEqual(mask, want) {
		t.Errorf("mask = %v, want %v", mask, want)
	}
	if mask.NumActive() != 2 {
		t.Errorf("NumActive = %d, want 2", mask.NumActive())
	}
	if got := mask.ActiveClasses(); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("ActiveClasses = %v, want [1 3]", got)
	}
}

func TestMaskForClassesOutOfRange(t *testing.T) {
	if _, err := MaskForClasses([]int{5}, 5); err == nil {
		t.Error("expected error for class out of range")
	}
	if _, err := MaskForClasses([]int{-1}, 5); err == nil {
		t.Error("expected error for negative class")
	}
}

func TestPruneVector(t *testing.T) {
	mask := OutputMask{true, false, true, false}
	got := PruneVector([]float64{10, 20, 30, 40}, mask)
	if !reflect.DeepEqual(got, []float64{10, 30}) {
		t.Errorf("PruneVector = %v, want [10 30]", got)
	}
}

func TestPruneLogitsShape(t *testing.T) {
	mask := OutputMask{false, true, true}
	logits := [][]float64{{1, 2, 3}, {4, 5, 6}}
	pruned := PruneLogits(logits, mask)
	if len(pruned) != 2 || len(pruned[0]) != 2 {
		t.Fatalf("pruned shape = %dx%d, want 2x2", len(pruned), len(pruned[0]))
	}
	if pruned[0][0] != 2 || pruned[1][1] != 6 {
		t.Errorf("pruned = %v", pruned)
	}
}

func TestScatterVectorInvertsPrune(t *testing.T) {
	mask := OutputMask{true, false, true, true, false}
	full := []float64{1, 0, 3, 4, 0}
	roundtrip := ScatterVector(PruneVector(full, mask), mask)
	if !reflect.DeepEqual(roundtrip, full) {
		t.Errorf("scatter(prune(x)) = %v, want %v", roundtrip, full)
	}
}

func TestRemapLabels(t *testing.T) {
	mask := OutputMask{false, true, false, true}
	remapped, err := RemapLabels([]int{3, 1, 3}, mask)
	if err != nil {
		t.Fatalf("RemapLabels failed: %v", err)
	}
	if !reflect.DeepEqual(remapped, []int{1, 0, 1}) {
		t.Errorf("remapped = %v, want [1 0 1]", remapped)
	}
}

func TestRemapLabelsOutsideMask(t *testing.T) {
	mask := OutputMask{true, false}
	if _, err := RemapLabels([]int{1}, mask); err == nil {
		t.Error("expected error for label outside mask")
	}
}

func TestClassSplits(t *testing.T) {
	splits := ClassSplits{{0, 1}, {2, 3}, {1, 4}}

	if got := splits.LearnedClasses(0); len(got) != 0 {
		t.Errorf("LearnedClasses(0) = %v, want empty", got)
	}
	if got := splits.LearnedClasses(2); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Errorf("LearnedClasses(2) = %v, want [0 1 2 3]", got)
	}
	// Class 1 repeats across tasks and must be deduplicated.
	if got := splits.SeenClasses(2); !reflect.DeepEqual(got, []int{0, 1, 2, 3, 4}) {
		t.Errorf("SeenClasses(2) = %v, want [0 1 2 3 4]", got)
	}
}
