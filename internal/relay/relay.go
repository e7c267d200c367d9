package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tickpulse/internal/metrics"
)

// ErrChannelClosed reports that the downstream consumer is gone.
var ErrChannelClosed = errors.New("relay: downstream channel closed")

// Upstream is the streaming-client surface a Stream drives.
type Upstream interface {
	Connect(ctx context.Context) error
	SubscribeTicks(symbol string, onTick func(json.RawMessage)) (int64, error)
	Unsubscribe(id int64) error
	Disconnect() error
	Done() <-chan struct{}
}

// Sink is a one-way downstream channel. Each Write carries one JSON frame.
type Sink interface {
	Write(frame []byte) error
}

// Config defines the per-stream policy.
type Config struct {
	BufferSize     int           // frames queued for a slow consumer before dropping
	ConnectTimeout time.Duration // bound on the upstream handshake
}

// Relay opens Streams, each bound to its own upstream connection.
type Relay struct {
	cfg         Config
	newUpstream func() Upstream
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Relay. newUpstream must return a fresh, unconnected client.
func New(cfg Config, newUpstream func() Upstream, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	return &Relay{cfg: cfg, newUpstream: newUpstream, metrics: m, logger: logger}
}

// Open connects upstream, subscribes to symbol and starts forwarding every
// tick to sink. It returns once the subscribe request is sent.
func (r *Relay) Open(ctx context.Context, symbol string, sink Sink) (*Stream, error) {
	up := r.newUpstream()

	connectCtx := ctx
	if r.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, r.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := up.Connect(connectCtx); err != nil {
		r.metrics.StreamOpenFailures.WithLabelValues(symbol).Inc()
		return nil, fmt.Errorf("relay: connect for %s: %w", symbol, err)
	}

	s := &Stream{
		symbol:     symbol,
		upstream:   up,
		sink:       sink,
		queue:      make(chan []byte, r.cfg.BufferSize),
		stop:       make(chan struct{}),
		writerDone: make(chan struct{}),
		metrics:    r.metrics,
		logger:     r.logger.With("symbol", symbol),
	}

	id, err := up.SubscribeTicks(symbol, s.enqueue)
	if err != nil {
		up.Disconnect()
		r.metrics.StreamOpenFailures.WithLabelValues(symbol).Inc()
		return nil, fmt.Errorf("relay: subscribe to %s: %w", symbol, err)
	}
	s.subID = id

	r.metrics.StreamsOpened.WithLabelValues(symbol).Inc()
	r.metrics.StreamsActive.Inc()
	s.logger.Info("Relay: stream opened", "req_id", id)

	go s.run()
	return s, nil
}

// Stream binds one upstream subscription to one downstream Sink.
type Stream struct {
	symbol   string
	upstream Upstream
	subID    int64
	sink     Sink

	queue      chan []byte
	stop       chan struct{}
	stopOnce   sync.Once
	writerDone chan struct{}

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Done is closed when the stream has begun shutting down.
func (s *Stream) Done() <-chan struct{} {
	return s.stop
}

// Close tears the stream down and waits until no further Sink writes happen.
func (s *Stream) Close() {
	s.shutdown()
	<-s.writerDone
}

// enqueue runs on the upstream dispatcher and never blocks it.
func (s *Stream) enqueue(tick json.RawMessage) {
	select {
	case <-s.stop:
		return
	default:
	}

	select {
	case s.queue <- tick:
	default:
		s.metrics.TicksDropped.WithLabelValues(s.symbol).Inc()
		s.logger.Debug("Relay: downstream queue full, dropping tick")
	}
}

func (s *Stream) run() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.stop:
			return
		case <-s.upstream.Done():
			s.logger.Warn("Relay: upstream connection closed")
			s.shutdown()
			return
		case frame := <-s.queue:
			if err := s.sink.Write(frame); err != nil {
				s.logger.Debug("Relay: downstream write failed", "error", fmt.Errorf("%w: %v", ErrChannelClosed, err))
				s.shutdown()
				return
			}
			s.metrics.TicksRelayed.WithLabelValues(s.symbol).Inc()
		}
	}
}

// shutdown unsubscribes and disconnects exactly once, however the end of the
// stream was detected.
func (s *Stream) shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if err := s.upstream.Unsubscribe(s.subID); err != nil {
			s.logger.Debug("Relay: unsubscribe failed", "req_id", s.subID, "error", err)
		}
		if err := s.upstream.Disconnect(); err != nil {
			s.logger.Debug("Relay: disconnect failed", "error", err)
		}
		s.metrics.StreamsActive.Dec()
		s.logger.Info("Relay: stream closed", "req_id", s.subID)
	})
}
