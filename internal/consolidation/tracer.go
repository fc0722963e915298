package consolidation

import (
	"github.com/rs/zerolog"

	"github.com/thebtf/smallmerge/pkg/models"
)

// Tracer observes individual merge decisions.
// Families passed to a Tracer must not be retained or modified.
type Tracer interface {
	// Subset is called when the family at cleared is found inside the family at kept.
	Subset(kept, cleared int, keptWords, clearedWords models.Family)
	// Merge is called when the family at from is folded into the family at into.
	Merge(into, from int, ratio float64, intoWords, fromWords, merged models.Family)
}

// LogTracer writes merge decisions to a zerolog logger at debug level.
type LogTracer struct {
	logger  zerolog.Logger
	subsets bool
	merges  bool
}

// NewLogTracer returns a tracer for the enabled decision kinds, or nil when both are off
// so that the merger skips tracing entirely.
func NewLogTracer(logger zerolog.Logger, subsets, merges bool) Tracer {
	if !subsets && !merges {
		return nil
	}
	return &LogTracer{logger: logger, subsets: subsets, merges: merges}
}

// Subset implements Tracer.
func (t *LogTracer) Subset(kept, cleared int, keptWords, clearedWords models.Family) {
	if !t.subsets {
		return
	}
	t.logger.Debug().
		Int("kept", kept).
		Int("cleared", cleared).
		Strs("lhs", keptWords).
		Strs("rhs", clearedWords).
		Msg("Subset eliminated")
}

// Merge implements Tracer.
func (t *LogTracer) Merge(into, from int, ratio float64, intoWords, fromWords, merged models.Family) {
	if !t.merges {
		return
	}
	t.logger.Debug().
		Int("into", into).
		Int("from", from).
		Float64("ratio", ratio).
		Strs("lhs", intoWords).
		Strs("rhs", fromWords).
		Strs("merged", merged).
		Msg("Families merged")
}
