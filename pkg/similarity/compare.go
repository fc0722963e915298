// Package similarity provides set comparison and overlap utilities for word families.
package similarity

// Partition is the three-way split of two sorted word sequences.
type Partition struct {
	Left   []string // only in the left input
	Right  []string // only in the right input
	Common []string // in both inputs
}

// Compare partitions two ascending, duplicate-free sequences with a single merge scan.
// The result slices are freshly allocated and never alias the inputs.
func Compare(left, right []string) Partition {
	var p Partition

	var li, ri int
	for li < len(left) && ri < len(right) {
		switch {
		case left[li] == right[ri]:
			p.Common = append(p.Common, left[li])
			li++
			ri++
		case left[li] < right[ri]:
			p.Left = append(p.Left, left[li])
			li++
		default:
			p.Right = append(p.Right, right[ri])
			ri++
		}
	}

	// Whatever remains on either side has no partner.
	p.Left = append(p.Left, left[li:]...)
	p.Right = append(p.Right, right[ri:]...)

	return p
}

// IsSubset reports whether every word of the right input is also in the left input.
func (p Partition) IsSubset() bool {
	return len(p.Right) == 0
}

// IsSuperset reports whether every word of the left input is also in the right input.
func (p Partition) IsSuperset() bool {
	return len(p.Left) == 0
}

// LeftCoverage is the fraction of the left input that is shared with the right input.
func (p Partition) LeftCoverage() float64 {
	return Coverage(len(p.Common), len(p.Left))
}

// RightCoverage is the fraction of the right input that is shared with the left input.
func (p Partition) RightCoverage() float64 {
	return Coverage(len(p.Common), len(p.Right))
}

// Jaccard returns |common| / |union| for the partitioned pair.
// Returns a value between 0 (no overlap) and 1 (identical).
func (p Partition) Jaccard() float64 {
	return Coverage(len(p.Common), len(p.Left)+len(p.Right))
}

// Coverage returns common / (common + unique), or 0 when both are zero.
func Coverage(common, unique int) float64 {
	total := common + unique
	if total == 0 {
		return 0.0
	}
	return float64(common) / float64(total)
}
