// Package prediction derives the digit statistics shown next to a tick stream.
// Every function here is a pure mapping of the current window.
package prediction

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

const (
	// WindowSize is the number of most recent observations analyzed.
	WindowSize = 30
	// MinObservations is the number of observations below which no signal exists.
	MinObservations = 10

	minConfidence = 55
	maxConfidence = 95

	overShare  = 0.58
	underShare = 0.42
)

var (
	overRange  = [...]int{4, 5, 6, 7}
	underRange = [...]int{2, 3, 4, 5}
)

// Rand is the random source behind the range fallback and run counts.
// *math/rand/v2.Rand satisfies it. Implementations need not be safe for
// concurrent use, so each SignalWriter should get its own.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// NewRand returns a randomly seeded source for one stream.
func NewRand() Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// ParitySignal is the even/odd majority of the window.
type ParitySignal struct {
	Prediction string `json:"prediction"`
	Confidence int    `json:"confidence"`
}

// RangeSignal is the over/under lean of the window.
type RangeSignal struct {
	Prediction      string `json:"prediction"`
	Label           string `json:"label"`
	Confidence      int    `json:"confidence"`
	RecommendedRuns int    `json:"recommendedRuns"`
}

// MatchSignal is the most frequent digit of the window.
type MatchSignal struct {
	Prediction int `json:"prediction"`
	Confidence int `json:"confidence"`
}

// Digit returns the first decimal digit of quote.
func Digit(quote float64) int {
	return int(math.Floor(quote*10)) % 10
}

// Digits maps the last WindowSize quotes to their digits.
func Digits(quotes []float64) []int {
	if len(quotes) > WindowSize {
		quotes = quotes[len(quotes)-WindowSize:]
	}
	digits := make([]int, len(quotes))
	for i, q := range quotes {
		digits[i] = Digit(q)
	}
	return digits
}

func clampConfidence(v float64) int {
	return int(math.Round(math.Max(minConfidence, math.Min(maxConfidence, v))))
}

func recommendedRuns(confidence int, rng Rand) int {
	normalized := float64(confidence-85) / 14
	switch {
	case normalized > 0.85:
		return rng.IntN(5) + 11
	case normalized > 0.55:
		return rng.IntN(6) + 8
	default:
		return rng.IntN(6) + 5
	}
}

// AnalyzeEvenOdd returns the parity signal, or nil below MinObservations.
func AnalyzeEvenOdd(quotes []float64) *ParitySignal {
	if len(quotes) < MinObservations {
		return nil
	}
	return ParityOf(Digits(quotes))
}

// ParityOf computes the parity signal of a digit window. Ties go to ODD.
func ParityOf(digits []int) *ParitySignal {
	if len(digits) == 0 {
		return nil
	}
	even := 0
	for _, d := range digits {
		if d%2 == 0 {
			even++
		}
	}
	odd := len(digits) - even

	prediction := "ODD"
	if even > odd {
		prediction = "EVEN"
	}
	ratio := float64(max(even, odd)) / float64(len(digits))
	return &ParitySignal{Prediction: prediction, Confidence: clampConfidence(ratio * 100)}
}

// AnalyzeOverUnder returns the range signal, or nil below MinObservations or
// when neither side leans far enough.
func AnalyzeOverUnder(quotes []float64, rng Rand) *RangeSignal {
	if len(quotes) < MinObservations {
		return nil
	}
	return RangeOf(Digits(quotes), rng)
}

// RangeOf computes the range signal of a digit window. Digits 4 and 5 count
// toward both sides.
func RangeOf(digits []int, rng Rand) *RangeSignal {
	if len(digits) == 0 {
		return nil
	}
	over, under := 0, 0
	for _, d := range digits {
		if slices.Contains(overRange[:], d) {
			over++
		}
		if slices.Contains(underRange[:], d) {
			under++
		}
	}
	total := over + under

	if total == 0 {
		prediction, digit := "UNDER", 3
		if rng.Float64() > 0.5 {
			prediction, digit = "OVER", 6
		}
		return &RangeSignal{
			Prediction:      prediction,
			Label:           fmt.Sprintf("%s %d", prediction, digit),
			Confidence:      minConfidence,
			RecommendedRuns: 5,
		}
	}

	var prediction string
	var digit int
	overRatio := float64(over) / float64(total)
	switch {
	case overRatio > overShare:
		prediction = "OVER"
		digit = bandDigit(over, 7, 6, 5)
	case overRatio < underShare:
		prediction = "UNDER"
		digit = bandDigit(under, 2, 3, 4)
	default:
		return nil
	}

	diff := over - under
	if diff < 0 {
		diff = -diff
	}
	confidence := clampConfidence(float64(diff) / float64(len(digits)) * 100)
	return &RangeSignal{
		Prediction:      prediction,
		Label:           fmt.Sprintf("%s %d", prediction, digit),
		Confidence:      confidence,
		RecommendedRuns: recommendedRuns(confidence, rng),
	}
}

func bandDigit(count, high, mid, low int) int {
	switch {
	case count > 18:
		return high
	case count > 13:
		return mid
	default:
		return low
	}
}

// AnalyzeDigitMatch returns the match signal, or nil below MinObservations.
func AnalyzeDigitMatch(quotes []float64) *MatchSignal {
	if len(quotes) < MinObservations {
		return nil
	}
	return MatchOf(Digits(quotes))
}

// MatchOf returns the most frequent digit. Digits are scanned from 0 to 9 and
// the first one to reach the maximum count wins.
func MatchOf(digits []int) *MatchSignal {
	if len(digits) == 0 {
		return nil
	}
	var freq [10]int
	for _, d := range digits {
		if d >= 0 && d < 10 {
			freq[d]++
		}
	}

	best, bestCount := 0, 0
	for d, n := range freq {
		if n > bestCount {
			best, bestCount = d, n
		}
	}
	ratio := float64(bestCount) / float64(len(digits))
	return &MatchSignal{Prediction: best, Confidence: clampConfidence(ratio * 100)}
}
