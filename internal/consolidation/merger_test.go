package consolidation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/smallmerge/pkg/models"
	"github.com/thebtf/smallmerge/pkg/similarity"
)

type MergerSuite struct {
	suite.Suite
}

func TestMergerSuite(t *testing.T) {
	suite.Run(t, new(MergerSuite))
}

// recordingTracer keeps every decision in memory.
type recordingTracer struct {
	subsets [][2]int
	merges  [][2]int
	onMerge func(intoWords, fromWords, merged models.Family)
}

func (r *recordingTracer) Subset(kept, cleared int, _, _ models.Family) {
	r.subsets = append(r.subsets, [2]int{kept, cleared})
}

func (r *recordingTracer) Merge(into, from int, _ float64, intoWords, fromWords, merged models.Family) {
	r.merges = append(r.merges, [2]int{into, from})
	if r.onMerge != nil {
		r.onMerge(intoWords, fromWords, merged)
	}
}

func words(prefix string, n int) models.Family {
	f := make(models.Family, n)
	for i := range f {
		f[i] = fmt.Sprintf("%s%02d", prefix, i)
	}
	return f
}

func opts(threshold float64, minSize int) Options {
	return Options{SimilarityThreshold: threshold, MinimumOutputSize: minSize}
}

func (s *MergerSuite) TestDefaultOptions() {
	o := DefaultOptions()
	s.Equal(0.5, o.SimilarityThreshold)
	s.Equal(10, o.MinimumOutputSize)
}

func (s *MergerSuite) TestFelineScenario() {
	families := models.FromStrings([][]string{
		{"cat", "dog"},
		{"cat", "feline", "kitty"},
		{"feline", "kitty", "tabby", "puss"},
	})

	res := Merge(families, opts(0.5, 2))

	s.Require().Len(res.Families, 1)
	s.Equal(models.Family{"cat", "feline", "kitty", "puss", "tabby"}, res.Families[0])
	s.Equal(Stats{SubsetsEliminated: 0, MergesPerformed: 1}, res.Stats)

	// The input is left behind as scratch state.
	s.Empty(families[0])
	s.Equal(models.Family{"cat", "feline", "kitty", "puss", "tabby"}, families[1])
	s.Empty(families[2])
}

func (s *MergerSuite) TestDisjointFamiliesStaySeparate() {
	a := words("a", 15)
	b := words("b", 15)

	res := Merge([]models.Family{a.Clone(), b.Clone()}, DefaultOptions())

	s.Require().Len(res.Families, 2)
	s.Equal(a, res.Families[0])
	s.Equal(b, res.Families[1])
	s.Equal(Stats{}, res.Stats)
}

func (s *MergerSuite) TestLaterSubsetIsCleared() {
	families := models.FromStrings([][]string{
		{"a", "b", "c", "d", "e"},
		{"a", "b", "c"},
	})

	res := Merge(families, DefaultOptions())

	s.Equal(models.Family{"a", "b", "c", "d", "e"}, families[0])
	s.Empty(families[1])
	s.Equal(1, res.Stats.SubsetsEliminated)
	s.Equal(0, res.Stats.MergesPerformed)
	s.Empty(res.Families)
}

func (s *MergerSuite) TestEarlierSubsetIsCleared() {
	families := models.FromStrings([][]string{
		{"a", "b", "c"},
		{"a", "b", "c", "d", "e"},
	})

	res := Merge(families, opts(0.5, 0))

	s.Empty(families[0])
	s.Equal(models.Family{"a", "b", "c", "d", "e"}, families[1])
	s.Equal(Stats{SubsetsEliminated: 1}, res.Stats)
	s.Equal([]models.Family{{"a", "b", "c", "d", "e"}}, res.Families)
}

func (s *MergerSuite) TestIdenticalFamiliesKeepFirst() {
	families := models.FromStrings([][]string{
		{"c", "b", "a"},
		{"a", "b", "c"},
	})

	res := Merge(families, opts(0.5, 0))

	s.Equal(models.Family{"a", "b", "c"}, families[0])
	s.Empty(families[1])
	s.Equal(1, res.Stats.SubsetsEliminated)
}

func (s *MergerSuite) TestSubsetOfLaterFamilyStopsScanForThatFamily() {
	families := models.FromStrings([][]string{
		{"a", "b", "c"},
		{"a", "b", "c", "d"},
		{"a", "b", "c", "e"},
	})
	tr := &recordingTracer{}

	res := New(opts(0.5, 0), tr).Merge(families)

	s.Equal([][2]int{{1, 0}}, tr.subsets)
	s.Equal([][2]int{{1, 2}}, tr.merges)
	s.Equal(Stats{SubsetsEliminated: 1, MergesPerformed: 1}, res.Stats)
	s.Equal([]models.Family{{"a", "b", "c", "d", "e"}}, res.Families)
}

func (s *MergerSuite) TestMergeRestartsScanForGrownFamily() {
	// families[1] shares nothing with families[0] until families[2] is absorbed.
	families := models.FromStrings([][]string{
		{"a", "b", "c"},
		{"d", "e", "f", "g"},
		{"a", "b", "d", "e"},
	})
	tr := &recordingTracer{}

	res := New(opts(0.5, 0), tr).Merge(families)

	s.Equal([][2]int{{0, 2}, {0, 1}}, tr.merges)
	s.Equal(2, res.Stats.MergesPerformed)
	s.Equal([]models.Family{{"a", "b", "c", "d", "e", "f", "g"}}, res.Families)
}

func (s *MergerSuite) TestRatioAtThresholdMerges() {
	input := [][]string{
		{"a", "b", "c", "d"},
		{"a", "b", "x", "y"},
	}

	res := Merge(models.FromStrings(input), opts(0.5, 0))
	s.Equal(1, res.Stats.MergesPerformed)
	s.Equal([]models.Family{{"a", "b", "c", "d", "x", "y"}}, res.Families)

	res = Merge(models.FromStrings(input), opts(0.51, 0))
	s.Equal(0, res.Stats.MergesPerformed)
	s.Len(res.Families, 2)
}

func (s *MergerSuite) TestEitherRatioTriggersMerge() {
	// Only the small family is mostly covered: lratio 0.2, rratio 2/3.
	big := append(words("w", 8), "x", "y")
	small := models.Family{"x", "y", "z"}

	res := Merge([]models.Family{big, small}, opts(0.5, 0))

	s.Equal(1, res.Stats.MergesPerformed)
	s.Require().Len(res.Families, 1)
	s.Len(res.Families[0], 11)
}

func (s *MergerSuite) TestThresholdBoundary() {
	families := []models.Family{
		words("in", 11),
		words("out", 10),
	}

	res := Merge(families, DefaultOptions())

	s.Require().Len(res.Families, 1)
	s.Equal(words("in", 11), res.Families[0])
}

func (s *MergerSuite) TestTwoWordFamiliesDroppedBeforeComparison() {
	families := models.FromStrings([][]string{
		{"a", "b"},
		{"a", "b", "c"},
	})
	tr := &recordingTracer{}

	res := New(opts(0.5, 0), tr).Merge(families)

	// Had {a,b} survived normalization it would have been eliminated as a subset.
	s.Empty(tr.subsets)
	s.Equal(Stats{}, res.Stats)
	s.Empty(families[0])
	s.Equal([]models.Family{{"a", "b", "c"}}, res.Families)
}

func (s *MergerSuite) TestTwoWordFamilyNeverInOutput() {
	res := Merge(models.FromStrings([][]string{{"cat", "dog"}}), opts(0.5, 0))
	s.Empty(res.Families)
}

func (s *MergerSuite) TestMergeLosesNoWords() {
	families := models.FromStrings([][]string{
		{"quick", "fast", "rapid", "swift"},
		{"fast", "rapid", "speedy", "hasty"},
		{"speedy", "hasty", "brisk", "rapid", "nimble"},
		{"slow", "sluggish", "leisurely"},
		{"sluggish", "leisurely", "unhurried", "slow", "lazy"},
	})
	tr := &recordingTracer{
		onMerge: func(intoWords, fromWords, merged models.Family) {
			p := similarity.Compare(merged, intoWords)
			s.Empty(p.Right, "merged family lost words of the absorbing family")
			p = similarity.Compare(merged, fromWords)
			s.Empty(p.Right, "merged family lost words of the absorbed family")
			s.True(merged.IsSorted())
		},
	}

	res := New(opts(0.5, 0), tr).Merge(families)

	s.NotEmpty(tr.merges)
	for _, f := range res.Families {
		s.True(f.IsSorted())
	}
}

func (s *MergerSuite) TestSubsetEliminationKeepsUnion() {
	a := models.Family{"k", "l", "m"}
	b := models.Family{"j", "k", "l", "m", "n"}

	families := []models.Family{a.Clone(), b.Clone()}
	Merge(families, opts(0.5, 0))

	var survivors []models.Family
	for _, f := range families {
		if len(f) > 0 {
			survivors = append(survivors, f)
		}
	}
	s.Require().Len(survivors, 1)
	s.Equal(b, survivors[0])
}

func (s *MergerSuite) TestNormalizeIdempotent() {
	families := models.FromStrings([][]string{
		{"zeta", "alpha", "mu"},
		{"x", "y"},
		{"b", "a", "b"},
		{"q", "q", "r", "p", "p"},
		{},
		{"solo"},
	})

	Normalize(families)
	once := models.CloneAll(families)
	Normalize(families)

	s.Equal(once, families)
	s.Equal(models.Family{"alpha", "mu", "zeta"}, families[0])
	s.Empty(families[1])
	s.Empty(families[2])
	s.Equal(models.Family{"p", "q", "r"}, families[3])
	s.Empty(families[4])
	s.Equal(models.Family{"solo"}, families[5])
}

func (s *MergerSuite) TestOutputDoesNotAliasInput() {
	families := []models.Family{{"a", "b", "c"}}

	res := Merge(families, opts(0.5, 0))
	res.Families[0][0] = "changed"

	s.Equal("a", families[0][0])
}

func (s *MergerSuite) TestEmptyInput() {
	res := Merge(nil, DefaultOptions())
	s.NotNil(res.Families)
	s.Empty(res.Families)
	s.Equal(Stats{}, res.Stats)
}

func (s *MergerSuite) TestStatsAreScopedToCall() {
	m := New(opts(0.5, 0), nil)

	first := m.Merge(models.FromStrings([][]string{{"a", "b", "c"}, {"a", "b", "c"}}))
	second := m.Merge(models.FromStrings([][]string{{"a", "b", "c"}, {"d", "e", "f"}}))

	s.Equal(1, first.Stats.SubsetsEliminated)
	s.Equal(Stats{}, second.Stats)
	s.Equal(opts(0.5, 0), m.Options())
}
