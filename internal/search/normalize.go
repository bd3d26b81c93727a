package search

// degenerateRange is the spread below which a signal is treated as flat.
const degenerateRange = 1e-12

// Normalize min-max scales a ranked list into [0,1] keyed by doc id.
// A flat list (max-min < 1e-12) maps every document to 1.0 so that an
// uninformative signal cannot zero out a combined score.
func Normalize(list RankedList) map[string]float64 {
	return NormalizeScores(list.Scores())
}

// NormalizeScores is Normalize over an unordered score map.
func NormalizeScores(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	first := true
	var lo, hi float64
	for _, s := range scores {
		if first {
			lo, hi = s, s
			first = false
			continue
		}
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	span := hi - lo
	if span < degenerateRange {
		for id := range scores {
			out[id] = 1.0
		}
		return out
	}
	for id, s := range scores {
		out[id] = (s - lo) / span
	}
	return out
}
