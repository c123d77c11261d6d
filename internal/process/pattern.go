package process

import "schedcal/internal/model"

// Pattern classifies a run of same-group events by their overnight mix.
type Pattern string

const (
	PatternUniform24h Pattern = "uniform_24h"
	PatternUniformDay Pattern = "uniform_day"
	PatternMixed      Pattern = "mixed"
)

// DetectPattern returns uniform_24h when every event is overnight,
// uniform_day when none is (including the empty list), mixed otherwise.
func DetectPattern(events []model.Event) Pattern {
	overnight := 0
	for _, e := range events {
		if IsOvernight(e) {
			overnight++
		}
	}
	switch {
	case overnight == 0:
		return PatternUniformDay
	case overnight == len(events):
		return PatternUniform24h
	default:
		return PatternMixed
	}
}
