// Package consolidation merges overlapping meaning families into larger, non-redundant ones.
//
// Merging runs in three phases:
//   - Normalize: families of exactly two words are dropped, the rest are sorted and deduplicated
//   - Reduce: every pair (i, j) with i < j is compared; subsets are eliminated and families whose
//     overlap reaches the similarity threshold are folded into the lower-indexed family
//   - Filter: only families with more than MinimumOutputSize words are emitted
//
// The result depends on input order. The lower-indexed family always absorbs.
package consolidation

import (
	"sort"

	"github.com/thebtf/smallmerge/pkg/models"
	"github.com/thebtf/smallmerge/pkg/similarity"
)

const (
	// DefaultSimilarityThreshold is the overlap ratio at which two families are merged.
	DefaultSimilarityThreshold = 0.5
	// DefaultMinimumOutputSize drops families with this many words or fewer from the output.
	DefaultMinimumOutputSize = 10
)

// Options controls a merge.
type Options struct {
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MinimumOutputSize   int     `json:"minimum_output_size"`
}

// DefaultOptions returns the options that work best for families produced by single-word expansion.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MinimumOutputSize:   DefaultMinimumOutputSize,
	}
}

// Stats counts what happened during one merge call.
type Stats struct {
	SubsetsEliminated int `json:"subsets_eliminated"`
	MergesPerformed   int `json:"merges_performed"`
}

// Result is the outcome of one merge call.
type Result struct {
	Families []models.Family `json:"families"`
	Stats    Stats           `json:"stats"`
}

// slotState tracks whether a family still takes part in the merge.
type slotState uint8

const (
	slotActive slotState = iota
	slotMerged
)

// Merger merges family collections. It holds no per-call state and is safe for concurrent use
// on distinct collections.
type Merger struct {
	opts   Options
	tracer Tracer
}

// New creates a Merger. tracer may be nil.
func New(opts Options, tracer Tracer) *Merger {
	return &Merger{opts: opts, tracer: tracer}
}

// Options returns the options the merger was created with.
func (m *Merger) Options() Options {
	return m.opts
}

// Merge consolidates families using opts and no tracing.
func Merge(families []models.Family, opts Options) Result {
	return New(opts, nil).Merge(families)
}

// Merge consolidates families in place and returns the surviving families.
//
// The input slice is scratch space afterwards: absorbed families are emptied and absorbing
// families are grown. Returned families are copies in ascending input order.
func (m *Merger) Merge(families []models.Family) Result {
	var stats Stats

	states := normalize(families)

	for i := range families {
		// Each merge grows families[i], so every later family has to be compared again.
		for changed := true; changed && states[i] == slotActive; {
			changed = false

			for j := i + 1; j < len(families); j++ {
				if states[j] != slotActive {
					continue
				}

				p := similarity.Compare(families[i], families[j])

				if p.IsSubset() {
					if m.tracer != nil {
						m.tracer.Subset(i, j, families[i], families[j])
					}
					families[j] = nil
					states[j] = slotMerged
					stats.SubsetsEliminated++
					continue
				}

				if p.IsSuperset() {
					if m.tracer != nil {
						m.tracer.Subset(j, i, families[j], families[i])
					}
					families[i] = nil
					states[i] = slotMerged
					stats.SubsetsEliminated++
					break
				}

				lratio := p.LeftCoverage()
				rratio := p.RightCoverage()
				if lratio < m.opts.SimilarityThreshold && rratio < m.opts.SimilarityThreshold {
					continue
				}

				merged := union(families[i], p.Right)
				if m.tracer != nil {
					ratio := lratio
					if ratio < m.opts.SimilarityThreshold {
						ratio = rratio
					}
					m.tracer.Merge(i, j, ratio, families[i], families[j], merged)
				}

				families[i] = merged
				families[j] = nil
				states[j] = slotMerged
				stats.MergesPerformed++
				changed = true
				break
			}
		}
	}

	out := make([]models.Family, 0)
	for i, f := range families {
		if states[i] == slotActive && len(f) > m.opts.MinimumOutputSize {
			out = append(out, f.Clone())
		}
	}

	return Result{Families: out, Stats: stats}
}

// Normalize sorts and deduplicates every family in place and empties the ones left with
// exactly two words. Words are deduplicated before counting, so {b, a, b} counts as two
// words and is emptied. Running it twice gives the same result as running it once.
func Normalize(families []models.Family) {
	normalize(families)
}

func normalize(families []models.Family) []slotState {
	states := make([]slotState, len(families))
	for i, f := range families {
		f = dedupe(f)
		// Two-word families are nearly always obscure near-synonym pairs.
		if len(f) == 2 || len(f) == 0 {
			families[i] = nil
			states[i] = slotMerged
			continue
		}
		families[i] = f
	}
	return states
}

// dedupe sorts f in place and drops repeated words.
func dedupe(f models.Family) models.Family {
	if len(f) == 0 {
		return f
	}
	sort.Strings(f)
	n := 1
	for k := 1; k < len(f); k++ {
		if f[k] != f[n-1] {
			f[n] = f[k]
			n++
		}
	}
	return f[:n]
}

// union merges the sorted family with the sorted words it is missing.
func union(f models.Family, missing []string) models.Family {
	out := make(models.Family, 0, len(f)+len(missing))
	var a, b int
	for a < len(f) && b < len(missing) {
		if f[a] < missing[b] {
			out = append(out, f[a])
			a++
		} else {
			out = append(out, missing[b])
			b++
		}
	}
	out = append(out, f[a:]...)
	return append(out, missing[b:]...)
}
