package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tickpulse/internal/metrics"
)

type MockUpstream struct {
	mock.Mock

	done chan struct{}

	mu     sync.Mutex
	onTick func(json.RawMessage)
}

func newMockUpstream() *MockUpstream {
	return &MockUpstream{done: make(chan struct{})}
}

func (m *MockUpstream) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUpstream) SubscribeTicks(symbol string, onTick func(json.RawMessage)) (int64, error) {
	m.mu.Lock()
	m.onTick = onTick
	m.mu.Unlock()
	args := m.Called(symbol)
	return int64(args.Int(0)), args.Error(1)
}

func (m *MockUpstream) Unsubscribe(id int64) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockUpstream) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUpstream) Done() <-chan struct{} {
	return m.done
}

func (m *MockUpstream) push(tick string) {
	m.mu.Lock()
	fn := m.onTick
	m.mu.Unlock()
	fn(json.RawMessage(tick))
}

// recordingSink stores frames; it fails once failAfter frames were written.
type recordingSink struct {
	mu        sync.Mutex
	frames    []string
	failAfter int
	block     chan struct{}
	wrote     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failAfter: -1, wrote: make(chan struct{}, 1024)}
}

func (s *recordingSink) Write(frame []byte) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter >= 0 && len(s.frames) >= s.failAfter {
		return errors.New("broken pipe")
	}
	s.frames = append(s.frames, string(frame))
	s.wrote <- struct{}{}
	return nil
}

func (s *recordingSink) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func newTestRelay(t *testing.T, up Upstream, bufferSize int) (*Relay, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	r := New(Config{BufferSize: bufferSize, ConnectTimeout: time.Second}, func() Upstream { return up }, m, logger)
	return r, m
}

func expectHappyUpstream(up *MockUpstream) {
	up.On("Connect", mock.Anything).Return(nil).Once()
	up.On("SubscribeTicks", "R_10").Return(7, nil).Once()
	up.On("Unsubscribe", int64(7)).Return(nil)
	up.On("Disconnect").Return(nil)
}

func waitFrames(t *testing.T, sink *recordingSink, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-sink.wrote:
		case <-time.After(2 * time.Second):
			t.Fatalf("wrote %d of %d frames", i, n)
		}
	}
}

func waitDone(t *testing.T, s *Stream) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not shut down")
	}
}

func TestRelay_ForwardsTicksInOrder(t *testing.T) {
	up := newMockUpstream()
	expectHappyUpstream(up)
	r, m := newTestRelay(t, up, 16)
	sink := newRecordingSink()

	stream, err := r.Open(context.Background(), "R_10", sink)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsActive))

	for i := 0; i < 5; i++ {
		up.push(fmt.Sprintf(`{"symbol":"R_10","epoch":%d}`, i))
	}
	waitFrames(t, sink, 5)

	frames := sink.Frames()
	for i, f := range frames {
		assert.JSONEq(t, fmt.Sprintf(`{"symbol":"R_10","epoch":%d}`, i), f)
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(m.TicksRelayed.WithLabelValues("R_10")))

	stream.Close()
	up.AssertNumberOfCalls(t, "Unsubscribe", 1)
	up.AssertNumberOfCalls(t, "Disconnect", 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StreamsActive))
}

func TestRelay_ConnectFailure(t *testing.T) {
	up := newMockUpstream()
	up.On("Connect", mock.Anything).Return(errors.New("dial tcp: refused")).Once()
	r, m := newTestRelay(t, up, 16)

	stream, err := r.Open(context.Background(), "R_10", newRecordingSink())
	require.Error(t, err)
	assert.Nil(t, stream)
	up.AssertNotCalled(t, "SubscribeTicks", mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamOpenFailures.WithLabelValues("R_10")))
}

func TestRelay_SubscribeFailureDisconnects(t *testing.T) {
	up := newMockUpstream()
	up.On("Connect", mock.Anything).Return(nil).Once()
	up.On("SubscribeTicks", "R_10").Return(0, errors.New("write: broken pipe")).Once()
	up.On("Disconnect").Return(nil).Once()
	r, _ := newTestRelay(t, up, 16)

	_, err := r.Open(context.Background(), "R_10", newRecordingSink())
	require.Error(t, err)
	up.AssertExpectations(t)
	up.AssertNotCalled(t, "Unsubscribe", mock.Anything)
}

func TestRelay_CleanupRunsOnceOnDoubleDetection(t *testing.T) {
	up := newMockUpstream()
	expectHappyUpstream(up)
	r, _ := newTestRelay(t, up, 16)
	sink := newRecordingSink()
	sink.failAfter = 1

	stream, err := r.Open(context.Background(), "R_10", sink)
	require.NoError(t, err)

	up.push(`{"epoch":1}`)
	waitFrames(t, sink, 1)
	up.push(`{"epoch":2}`)

	// Failed write closes the stream; the explicit close notification follows.
	waitDone(t, stream)
	stream.Close()
	stream.Close()

	up.AssertNumberOfCalls(t, "Unsubscribe", 1)
	up.AssertNumberOfCalls(t, "Disconnect", 1)
}

func TestRelay_UpstreamLossEndsStream(t *testing.T) {
	up := newMockUpstream()
	expectHappyUpstream(up)
	r, _ := newTestRelay(t, up, 16)

	stream, err := r.Open(context.Background(), "R_10", newRecordingSink())
	require.NoError(t, err)

	close(up.done)
	waitDone(t, stream)
	stream.Close()

	up.AssertNumberOfCalls(t, "Unsubscribe", 1)
	up.AssertNumberOfCalls(t, "Disconnect", 1)
}

func TestRelay_SlowConsumerDoesNotBlockDispatch(t *testing.T) {
	up := newMockUpstream()
	expectHappyUpstream(up)
	r, m := newTestRelay(t, up, 4)
	sink := newRecordingSink()
	sink.block = make(chan struct{})

	stream, err := r.Open(context.Background(), "R_10", sink)
	require.NoError(t, err)

	pushed := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			up.push(fmt.Sprintf(`{"epoch":%d}`, i))
		}
		close(pushed)
	}()

	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("pushes blocked behind a slow consumer")
	}

	dropped := testutil.ToFloat64(m.TicksDropped.WithLabelValues("R_10"))
	assert.GreaterOrEqual(t, dropped, 15.0)
	assert.LessOrEqual(t, dropped, 16.0)

	close(sink.block)
	stream.Close()
}

func TestRelay_NoWritesAfterClose(t *testing.T) {
	up := newMockUpstream()
	expectHappyUpstream(up)
	r, _ := newTestRelay(t, up, 16)
	sink := newRecordingSink()

	stream, err := r.Open(context.Background(), "R_10", sink)
	require.NoError(t, err)
	stream.Close()

	up.push(`{"epoch":1}`)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.Frames())
}
