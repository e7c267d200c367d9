package prediction

import (
	"encoding/json"

	"tickpulse/internal/model"
)

// Window is the rolling set of the last WindowSize quotes of one instrument.
// It is not safe for concurrent use.
type Window struct {
	quotes []float64
}

// NewWindow returns an empty window.
func NewWindow() *Window {
	return &Window{quotes: make([]float64, 0, WindowSize+1)}
}

// Add appends quote, evicting the oldest entry once the window is full.
func (w *Window) Add(quote float64) {
	w.quotes = append(w.quotes, quote)
	if len(w.quotes) > WindowSize {
		w.quotes = append(w.quotes[:0], w.quotes[1:]...)
	}
}

// Len returns the number of quotes held.
func (w *Window) Len() int { return len(w.quotes) }

// Quotes returns a copy of the window, oldest first.
func (w *Window) Quotes() []float64 {
	return append([]float64(nil), w.quotes...)
}

// Reset empties the window.
func (w *Window) Reset() { w.quotes = w.quotes[:0] }

// Signals is every derived signal for the window after one tick.
// A nil signal means none can be declared.
type Signals struct {
	Tick       model.Tick    `json:"tick"`
	Ticks      int           `json:"ticks"`
	EvenOdd    *ParitySignal `json:"evenOdd"`
	OverUnder  *RangeSignal  `json:"overUnder"`
	DigitMatch *MatchSignal  `json:"digitMatch"`
}

// Compute derives all signals from quotes.
func Compute(quotes []float64, rng Rand) Signals {
	return Signals{
		Ticks:      len(quotes),
		EvenOdd:    AnalyzeEvenOdd(quotes),
		OverUnder:  AnalyzeOverUnder(quotes, rng),
		DigitMatch: AnalyzeDigitMatch(quotes),
	}
}

// FrameWriter is a one-way channel of JSON frames.
type FrameWriter interface {
	Write(frame []byte) error
}

// SignalWriter turns a stream of raw tick frames into signal frames.
type SignalWriter struct {
	next   FrameWriter
	window *Window
	rng    Rand
}

// NewSignalWriter wraps next. Each written tick is added to a fresh window.
func NewSignalWriter(next FrameWriter, rng Rand) *SignalWriter {
	return &SignalWriter{next: next, window: NewWindow(), rng: rng}
}

// Write consumes one tick frame and writes the recomputed signals.
// Frames that are not ticks are skipped.
func (s *SignalWriter) Write(frame []byte) error {
	tick, err := model.ParseTick(frame)
	if err != nil {
		return nil
	}
	s.window.Add(tick.Quote)

	signals := Compute(s.window.Quotes(), s.rng)
	signals.Tick = tick

	out, err := json.Marshal(signals)
	if err != nil {
		return err
	}
	return s.next.Write(out)
}
