package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"tickpulse/internal/model"
	"tickpulse/internal/prediction"
	"tickpulse/internal/relay"
)

// Symbols is the instrument catalog served to the dashboard.
var Symbols = []model.Symbol{
	{Symbol: "R_10", Name: "Volatility 10 Index"},
	{Symbol: "R_25", Name: "Volatility 25 Index"},
	{Symbol: "R_50", Name: "Volatility 50 Index"},
	{Symbol: "R_75", Name: "Volatility 75 Index"},
	{Symbol: "R_100", Name: "Volatility 100 Index"},
	{Symbol: "1HZ10V", Name: "Volatility 10 (1s) Index"},
	{Symbol: "1HZ25V", Name: "Volatility 25 (1s) Index"},
	{Symbol: "1HZ50V", Name: "Volatility 50 (1s) Index"},
	{Symbol: "1HZ75V", Name: "Volatility 75 (1s) Index"},
	{Symbol: "1HZ100V", Name: "Volatility 100 (1s) Index"},
}

func (s *Server) symbols(c *gin.Context) {
	c.JSON(http.StatusOK, Symbols)
}

func (s *Server) streamTicks(c *gin.Context) {
	s.stream(c, func(sink relay.Sink) relay.Sink { return sink })
}

func (s *Server) streamSignals(c *gin.Context) {
	s.stream(c, func(sink relay.Sink) relay.Sink {
		return prediction.NewSignalWriter(sink, s.deps.NewRand())
	})
}

// stream relays one upstream subscription to the response as server-sent
// events until the client leaves or the upstream connection ends.
func (s *Server) stream(c *gin.Context, wrap func(relay.Sink) relay.Sink) {
	symbol := c.Param("symbol")

	sink := newSSESink(c.Writer, s.cfg.Relay.WriteTimeout)
	stream, err := s.deps.Relay.Open(c.Request.Context(), symbol, wrap(sink))
	if err != nil {
		s.logger.Error("Server: tick stream failed to start", "symbol", symbol, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to start tick stream"})
		return
	}
	defer stream.Close()

	sink.start()

	select {
	case <-c.Request.Context().Done():
	case <-stream.Done():
	}
}

// sseSink writes frames as server-sent events. Writes and the header flush
// are serialized because frames arrive from the relay goroutine.
type sseSink struct {
	mu           sync.Mutex
	w            gin.ResponseWriter
	writeTimeout time.Duration
	started      bool
}

func newSSESink(w gin.ResponseWriter, writeTimeout time.Duration) *sseSink {
	return &sseSink{w: w, writeTimeout: writeTimeout}
}

func (s *sseSink) writeHeaderLocked() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.w.WriteHeaderNow()
}

// start sends the event-stream headers so the browser sees the stream open.
func (s *sseSink) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHeaderLocked()
	s.w.Flush()
}

// Write sends one frame. An error means the client is gone.
func (s *sseSink) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHeaderLocked()

	rc := http.NewResponseController(s.w)
	if s.writeTimeout > 0 {
		_ = rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer rc.SetWriteDeadline(time.Time{})
	}
	if err := sse.Encode(s.w, sse.Event{Data: json.RawMessage(frame)}); err != nil {
		return err
	}
	return rc.Flush()
}
