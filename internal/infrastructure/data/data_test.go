package data

import (
	"testing"
)

func TestSliceIteratorBatching(t *testing.T) {
	inputs := [][]float64{{1}, {2}, {3}, {4}, {5}}
	labels := []int{0, 1, 0, 1, 0}
	it, err := NewSliceIterator(inputs, labels, 2)
	if err != nil {
		t.Fatalf("NewSliceIterator failed: %v", err)
	}
	if it.Len() != 5 {
		t.Errorf("Len = %d, want 5", it.Len())
	}

	var sizes []int
	for {
		batch, batchLabels, ok := it.Next()
		if !ok {
			break
		}
		if len(batch) != len(batchLabels) {
			t.Fatalf("batch has %d inputs but %d labels", len(batch), len(batchLabels))
		}
		sizes = append(sizes, len(batch))
	}
	want := []int{2, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("batch sizes = %v, want %v", sizes, want)
		}
	}

	// A second pass after Reset yields the same number of batches.
	it.Reset()
	count := 0
	for {
		if _, _, ok := it.Next(); !ok {
			break
		}
		count++
	}
	if count != 3 {
		t.Errorf("second pass yielded %d batches, want 3", count)
	}
}

func TestSliceIteratorValidation(t *testing.T) {
	if _, err := NewSliceIterator([][]float64{{1}}, []int{0, 1}, 2); err == nil {
		t.Error("expected error for mismatched lengths")
	}
	if _, err := NewSliceIterator(nil, nil, 0); err == nil {
		t.Error("expected error for non-positive batch size")
	}
}

func TestSyntheticClusters(t *testing.T) {
	ds := SyntheticClusters([]int{3, 7}, 5, 4, 0.1, 1)
	if len(ds.Inputs) != 10 || len(ds.Labels) != 10 {
		t.Fatalf("dataset size = %d/%d, want 10/10", len(ds.Inputs), len(ds.Labels))
	}
	counts := map[int]int{}
	for i, x := range ds.Inputs {
		if len(x) != 4 {
			t.Fatalf("input %d has dim %d, want 4", i, len(x))
		}
		counts[ds.Labels[i]]++
	}
	if counts[3] != 5 || counts[7] != 5 {
		t.Errorf("class counts = %v, want 5 each for 3 and 7", counts)
	}
}

func TestShuffleKeepsPairsAligned(t *testing.T) {
	// Encode the label in the input so alignment survives shuffling checks.
	ds := TaskDataset{}
	for i := 0; i < 20; i++ {
		ds.Inputs = append(ds.Inputs, []float64{float64(i % 3)})
		ds.Labels = append(ds.Labels, i%3)
	}
	ds.Shuffle(42)
	for i, x := range ds.Inputs {
		if int(x[0]) != ds.Labels[i] {
			t.Fatalf("pair %d misaligned after shuffle", i)
		}
	}
}
