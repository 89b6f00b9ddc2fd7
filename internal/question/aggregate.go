package question

import (
	"sort"

	"github.com/p-n-ai/pai-elements/internal/qdata"
)

// FormatErrorNames returns the sorted answer names carrying a non-empty
// format error.
func FormatErrorNames(data qdata.Data) []string {
	var names []string
	for name, v := range data.FormatErrors() {
		if len(qdata.FormatErrorMessages(v)) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Gradable reports whether no answer name carries a format error.
func Gradable(data qdata.Data) bool {
	return len(FormatErrorNames(data)) == 0
}

// WeightedScore is the weighted mean of the defined partial scores. ok is
// false when no entry has a score.
func WeightedScore(data qdata.Data) (score float64, ok bool) {
	names := make([]string, 0, len(data.PartialScores()))
	for name := range data.PartialScores() {
		names = append(names, name)
	}
	// Fixed order keeps the float sum reproducible.
	sort.Strings(names)

	var total, weights float64
	for _, name := range names {
		p, found := data.PartialScore(name)
		if !found || p.Score == nil {
			continue
		}
		w := p.EffectiveWeight()
		total += w * *p.Score
		weights += w
	}
	if weights == 0 {
		return 0, false
	}
	return total / weights, true
}

// aggregate sets gradable and, when no controller assigned the score, the
// weighted mean of the partial scores.
func aggregate(data qdata.Data) {
	if _, ok := data[qdata.KeyGradable]; ok {
		data[qdata.KeyGradable] = Gradable(data)
	}
	if _, ok := data[qdata.KeyScore]; !ok || data.ScoreSet() {
		return
	}
	s, ok := WeightedScore(data)
	if !ok {
		s, _ = data.Score()
	}
	data.SetScore(s)
}
