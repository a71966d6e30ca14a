package archive

import (
	"sort"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
)

// FactKind discriminates the two kinds of temporal fact recorded about a
// participant during ingestion.
type FactKind int

const (
	FactStart FactKind = iota
	FactEnd
)

// Fact is one join/leave observation for a participant in a conversation.
// Facts accumulate in per-participant lists during ingestion and are only
// interpreted once the whole history is known.
type Fact struct {
	Kind FactKind
	Time string
}

// Interval is a participant's reconciled presence in a conversation. Empty
// Start means "present since before recorded history"; empty End means they
// never left.
type Interval struct {
	Start string
	End   string
}

// ResolveInterval reconciles a participant's scattered facts into one
// canonical interval. Joins and leaves happen in pairs in that order, so the
// true start can only be the earliest fact and only if that fact is a join
// (a leading leave means the real join predates the recorded history);
// symmetrically the true end can only be the latest fact and only if it is a
// leave. Synthetic "before all history" starts (recorded when a participant
// was only revealed by a snapshot) lose to any genuine join fact, and when no
// genuine join exists they resolve to the unknown value rather than the
// literal sentinel.
func ResolveInterval(facts []Fact) Interval {
	ordered := make([]Fact, 0, len(facts))
	genuineStart := false
	for _, f := range facts {
		if f.Kind == FactStart && f.Time != models.TimeZeroes {
			genuineStart = true
		}
	}
	for _, f := range facts {
		if f.Kind == FactStart && f.Time == models.TimeZeroes && genuineStart {
			continue
		}
		ordered = append(ordered, f)
	}
	if len(ordered) == 0 {
		return Interval{}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Time < ordered[j].Time
	})

	var iv Interval
	if first := ordered[0]; first.Kind == FactStart && first.Time != models.TimeZeroes {
		iv.Start = first.Time
	}
	if last := ordered[len(ordered)-1]; last.Kind == FactEnd {
		iv.End = last.Time
	}
	return iv
}
