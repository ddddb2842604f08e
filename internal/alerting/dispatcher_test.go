package alerting

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	events  []Event
	ctxErrs []error
	block   chan struct{}
	err     error
}

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcherNeverBlocksWhenFull(t *testing.T) {
	rec := &recordingNotifier{block: make(chan struct{})}
	d := NewDispatcher(rec, 1, time.Second, testLogger())

	// the worker takes the first event and blocks on it; the second fills the queue
	require.NoError(t, d.Notify(context.Background(), Event{Type: EventTest}))
	require.Eventually(t, func() bool { return d.Len() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Notify(context.Background(), Event{Type: EventTest}))

	done := make(chan error, 1)
	go func() { done <- d.Notify(context.Background(), Event{Type: EventTest}) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	close(rec.block)
	require.NoError(t, d.Close())
	assert.Equal(t, 2, rec.count())
}

func TestDispatcherDetachesFromCallerContext(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 4, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Notify(ctx, Event{Type: EventNegativeMargin}))
	cancel()

	require.NoError(t, d.Close())
	require.Equal(t, 1, rec.count())
	assert.NoError(t, rec.ctxErrs[0])
	assert.False(t, rec.events[0].Time.IsZero())

	assert.ErrorIs(t, d.Notify(context.Background(), Event{Type: EventTest}), ErrQueueClosed)
	assert.NoError(t, d.Close())
}

func TestDispatcherSurvivesDeliveryErrors(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("down")}
	d := NewDispatcher(rec, 4, time.Second, testLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Notify(context.Background(), Event{Type: EventPriceAlert}))
	}
	require.NoError(t, d.Close())
	assert.Equal(t, 3, rec.count())
}

func TestMultiNotifierJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("down")}
	m := MultiNotifier{bad, ok, NewLogNotifier(testLogger())}

	err := m.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, 1, ok.count())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDispatcherCloseReportsBacklogAndDrains(t *testing.T) {
	rec := &recordingNotifier{block: make(chan struct{})}
	var out syncBuffer
	d := NewDispatcher(rec, 4, time.Second, zerolog.New(&out))

	for i := 0; i < 4; i++ {
		require.NoError(t, d.Notify(context.Background(), Event{Type: EventPriceAlert}))
	}

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "draining queued alerts")
	}, time.Second, time.Millisecond)

	close(rec.block)
	require.NoError(t, <-closed)
	assert.Equal(t, 4, rec.count())
}
