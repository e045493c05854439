package collab

import (
	"math"
	"strings"
)

const (
	minHeuristicConfidence = 0.1
	maxHeuristicConfidence = 0.95
)

var hedgingPhrases = []string{
	"i'm not sure",
	"i am not sure",
	"not certain",
	"uncertain",
	"i think",
	"i believe",
	"possibly",
	"perhaps",
	"might be",
	"may be",
	"it's unclear",
	"it is unclear",
	"hard to say",
}

// Confidence scores a contribution. Token log probabilities are used when
// the provider returned them; otherwise the text is scored heuristically.
func Confidence(text string, logprobs []float64) float64 {
	if c, ok := LogprobConfidence(logprobs); ok {
		return c
	}
	return HeuristicConfidence(text)
}

// LogprobConfidence is the mean token probability, exp(logprob), in [0, 1].
// ok is false when there are no usable log probabilities.
func LogprobConfidence(logprobs []float64) (float64, bool) {
	var sum float64
	n := 0
	for _, lp := range logprobs {
		if math.IsNaN(lp) || math.IsInf(lp, 1) {
			continue
		}
		sum += math.Exp(lp)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return clamp(sum/float64(n), 0, 1), true
}

// HeuristicConfidence scores text on length and hedging language
func HeuristicConfidence(text string) float64 {
	score := 0.5
	n := len([]rune(strings.TrimSpace(text)))
	if n > 200 {
		score += 0.1
	}
	if n > 800 {
		score += 0.1
	}

	lower := strings.ToLower(text)
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			score -= 0.2
			break
		}
	}
	return clamp(score, minHeuristicConfidence, maxHeuristicConfidence)
}

// MeanConfidence averages contribution scores; an empty list scores 0
func MeanConfidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
