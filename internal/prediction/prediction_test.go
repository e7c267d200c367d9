package prediction

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRand always returns the same values.
type fixedRand struct {
	n int
	f float64
}

func (r fixedRand) IntN(n int) int {
	if r.n >= n {
		return n - 1
	}
	return r.n
}

func (r fixedRand) Float64() float64 { return r.f }

// quotesFor builds quotes whose first decimal digit is each of digits.
func quotesFor(digits ...int) []float64 {
	quotes := make([]float64, len(digits))
	for i, d := range digits {
		quotes[i] = 10 + float64(d)/10 + 0.02
	}
	return quotes
}

func repeat(d, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = d
	}
	return out
}

func TestDigit(t *testing.T) {
	assert.Equal(t, 3, Digit(100.37))
	assert.Equal(t, 1, Digit(0.12))
	assert.Equal(t, 0, Digit(5.0))
	assert.Equal(t, 9, Digit(1234.99))
}

func TestParityOf(t *testing.T) {
	got := ParityOf([]int{1, 3, 5, 7, 2})
	require.NotNil(t, got)
	assert.Equal(t, "ODD", got.Prediction)
	assert.Equal(t, 80, got.Confidence)

	tie := ParityOf([]int{1, 2})
	assert.Equal(t, "ODD", tie.Prediction)
	assert.Equal(t, 55, tie.Confidence)

	even := ParityOf(repeat(4, 12))
	assert.Equal(t, "EVEN", even.Prediction)
	assert.Equal(t, 95, even.Confidence)
}

func TestAnalyzeEvenOdd(t *testing.T) {
	assert.Nil(t, AnalyzeEvenOdd(quotesFor(1, 2, 3, 4, 5, 6, 7, 8, 9)))

	// Ten odd quotes fall out of the window behind thirty even ones.
	digits := append(repeat(1, 10), repeat(2, 30)...)
	got := AnalyzeEvenOdd(quotesFor(digits...))
	require.NotNil(t, got)
	assert.Equal(t, "EVEN", got.Prediction)
	assert.Equal(t, 95, got.Confidence)
}

func TestRangeOf(t *testing.T) {
	rng := fixedRand{n: 0, f: 0.9}

	t.Run("even split yields no signal", func(t *testing.T) {
		assert.Nil(t, RangeOf([]int{6, 7, 2, 3}, rng))
		assert.Nil(t, RangeOf([]int{4, 5, 4, 5}, rng))
	})

	t.Run("strong over", func(t *testing.T) {
		got := RangeOf(repeat(7, 10), rng)
		require.NotNil(t, got)
		assert.Equal(t, "OVER", got.Prediction)
		assert.Equal(t, "OVER 5", got.Label)
		assert.Equal(t, 95, got.Confidence)
		assert.Equal(t, 8, got.RecommendedRuns)
	})

	t.Run("strong under picks the high band digit", func(t *testing.T) {
		got := RangeOf(repeat(2, 20), rng)
		require.NotNil(t, got)
		assert.Equal(t, "UNDER 2", got.Label)
		assert.Equal(t, 95, got.Confidence)
	})

	t.Run("weak over", func(t *testing.T) {
		got := RangeOf([]int{6, 6, 6, 6, 6, 6, 2, 9, 9, 9}, rng)
		require.NotNil(t, got)
		assert.Equal(t, "OVER 5", got.Label)
		assert.Equal(t, 55, got.Confidence)
		assert.Equal(t, 5, got.RecommendedRuns)
	})

	t.Run("no relevant digits falls back to random side", func(t *testing.T) {
		got := RangeOf(repeat(0, 10), rng)
		require.NotNil(t, got)
		assert.Equal(t, "OVER 6", got.Label)
		assert.Equal(t, 55, got.Confidence)
		assert.Equal(t, 5, got.RecommendedRuns)

		got = RangeOf(repeat(9, 10), fixedRand{f: 0.1})
		assert.Equal(t, "UNDER 3", got.Label)
	})
}

func TestRecommendedRunsBands(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		high := recommendedRuns(98, r)
		assert.GreaterOrEqual(t, high, 11)
		assert.LessOrEqual(t, high, 15)

		mid := recommendedRuns(95, r)
		assert.GreaterOrEqual(t, mid, 8)
		assert.LessOrEqual(t, mid, 13)

		low := recommendedRuns(60, r)
		assert.GreaterOrEqual(t, low, 5)
		assert.LessOrEqual(t, low, 10)
	}
}

func TestMatchOf(t *testing.T) {
	got := MatchOf([]int{3, 3, 3, 7, 7})
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Prediction)
	assert.Equal(t, 60, got.Confidence)

	tie := MatchOf([]int{7, 7, 2, 2})
	assert.Equal(t, 2, tie.Prediction)
	assert.Equal(t, 55, tie.Confidence)

	assert.Nil(t, AnalyzeDigitMatch(quotesFor(1, 1, 1)))
}

func TestWindow_Evicts(t *testing.T) {
	w := NewWindow()
	for i := 0; i < 35; i++ {
		w.Add(float64(i))
	}
	assert.Equal(t, WindowSize, w.Len())
	quotes := w.Quotes()
	assert.Equal(t, 5.0, quotes[0])
	assert.Equal(t, 34.0, quotes[len(quotes)-1])

	w.Reset()
	assert.Equal(t, 0, w.Len())
}

type captureWriter struct {
	frames [][]byte
}

func (c *captureWriter) Write(frame []byte) error {
	c.frames = append(c.frames, frame)
	return nil
}

func TestSignalWriter(t *testing.T) {
	out := &captureWriter{}
	w := NewSignalWriter(out, fixedRand{})

	require.NoError(t, w.Write([]byte(`not a tick`)))
	assert.Empty(t, out.frames)

	for i := 0; i < 12; i++ {
		frame := fmt.Sprintf(`{"symbol":"R_10","quote":%.2f,"epoch":%d}`, 100.32, i)
		require.NoError(t, w.Write([]byte(frame)))
	}
	require.Len(t, out.frames, 12)

	var early Signals
	require.NoError(t, json.Unmarshal(out.frames[8], &early))
	assert.Nil(t, early.EvenOdd)
	assert.Equal(t, 9, early.Ticks)

	var last Signals
	require.NoError(t, json.Unmarshal(out.frames[11], &last))
	assert.Equal(t, 12, last.Ticks)
	assert.Equal(t, "R_10", last.Tick.Symbol)
	assert.Equal(t, int64(11), last.Tick.Epoch)
	require.NotNil(t, last.EvenOdd)
	assert.Equal(t, "ODD", last.EvenOdd.Prediction)
	require.NotNil(t, last.DigitMatch)
	assert.Equal(t, 3, last.DigitMatch.Prediction)
	require.NotNil(t, last.OverUnder)
	assert.Equal(t, "UNDER", last.OverUnder.Prediction)
}

func TestSignalWriters_ConcurrentWithOwnRand(t *testing.T) {
	outs := []*captureWriter{{}, {}}
	var wg sync.WaitGroup
	for _, out := range outs {
		w := NewSignalWriter(out, NewRand())
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				assert.NoError(t, w.Write([]byte(`{"symbol":"R_10","quote":100.72,"epoch":1}`)))
			}
		}()
	}
	wg.Wait()

	for _, out := range outs {
		require.Len(t, out.frames, 200)
		var last Signals
		require.NoError(t, json.Unmarshal(out.frames[199], &last))
		require.NotNil(t, last.OverUnder)
		assert.Equal(t, "OVER 7", last.OverUnder.Label)
		assert.GreaterOrEqual(t, last.OverUnder.RecommendedRuns, 8)
		assert.LessOrEqual(t, last.OverUnder.RecommendedRuns, 13)
	}
}
