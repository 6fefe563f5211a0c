// Package continual provides domain types for continual-learning task sequences.
package continual

import (
	"fmt"
	"sort"
)

// OutputMask is a boolean selector over the full class space. An entry is
// true when the class participates in the current loss/prediction surface.
type OutputMask []bool

// MaskForClasses builds an output mask of length numClasses with the given
// classes set to true.
func MaskForClasses(classes []int, numClasses int) (OutputMask, error) {
	mask := make(OutputMask, numClasses)
	for _, c := range classes {
		if c < 0 || c >= numClasses {
			return nil, fmt.Errorf("class %d out of range [0, %d)", c, numClasses)
		}
		mask[c] = true
	}
	return mask, nil
}

// NumActive returns the number of selected classes.
func (m OutputMask) NumActive() int {
	n := 0
	for _, on := range m {
		if on {
			n++
		}
	}
	return n
}

// ActiveClasses returns the selected class IDs in ascending order.
func (m OutputMask) ActiveClasses() []int {
	classes := make([]int, 0, m.NumActive())
	for c, on := range m {
		if on {
			classes = append(classes, c)
		}
	}
	return classes
}

// PruneLogits restricts a [batch, numClasses] logits matrix to the columns
// selected by the mask, preserving column order. The result has shape
// [batch, mask.NumActive()]. Pruning is a pure column selection; applying it
// twice against the original index space is not an identity operation, since
// the second application would index into the already-compacted columns.
func PruneLogits(logits [][]float64, mask OutputMask) [][]float64 {
	pruned := make([][]float64, len(logits))
	for i, row := range logits {
		pruned[i] = PruneVector(row, mask)
	}
	return pruned
}

// PruneVector restricts a single logits vector to the masked-in columns.
func PruneVector(logits []float64, mask OutputMask) []float64 {
	out := make([]float64, 0, mask.NumActive())
	for c, on := range mask {
		if on && c < len(logits) {
			out = append(out, logits[c])
		}
	}
	return out
}

// ScatterVector is the inverse of PruneVector: it places the entries of a
// pruned vector back at their masked-in positions in a full-length vector,
// with zeros elsewhere.
func ScatterVector(pruned []float64, mask OutputMask) []float64 {
	full := make([]float64, len(mask))
	k := 0
	for c, on := range mask {
		if on && k < len(pruned) {
			full[c] = pruned[k]
			k++
		}
	}
	return full
}

// RemapLabels maps global class IDs into the compacted index space produced
// by PruneLogits under the same mask. Labels fed to a loss over pruned
// logits must be indices into the pruned column set, not global class IDs.
// A label outside the mask is an error.
func RemapLabels(labels []int, mask OutputMask) ([]int, error) {
	lookup := make(map[int]int, mask.NumActive())
	next := 0
	for c, on := range mask {
		if on {
			lookup[c] = next
			next++
		}
	}

	remapped := make([]int, len(labels))
	for i, label := range labels {
		idx, ok := lookup[label]
		if !ok {
			return nil, fmt.Errorf("label %d is not selected by the output mask", label)
		}
		remapped[i] = idx
	}
	return remapped, nil
}

// ClassSplits assigns a set of class IDs to each task in the sequence.
type ClassSplits [][]int

// LearnedClasses returns the deduplicated, sorted classes of all tasks
// strictly before taskIdx.
func (s ClassSplits) LearnedClasses(taskIdx int) []int {
	return s.uniqueClasses(taskIdx)
}

// SeenClasses returns the deduplicated, sorted classes of all tasks up to
// and including taskIdx.
func (s ClassSplits) SeenClasses(taskIdx int) []int {
	return s.uniqueClasses(taskIdx + 1)
}

func (s ClassSplits) uniqueClasses(numTasks int) []int {
	if numTasks > len(s) {
		numTasks = len(s)
	}
	seen := make(map[int]struct{})
	for _, split := range s[:numTasks] {
		for _, c := range split {
			seen[c] = struct{}{}
		}
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes
}
