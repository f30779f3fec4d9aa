package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("stream did not close; got %d events", len(out))
		}
	}
}

func TestBus_OrderedStreamEndsOnTerminal(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewBus(16, nil)
	defer bus.Close()

	ch, err := bus.Subscribe(context.Background(), "job-1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish("job-1", Event{Kind: KindStageStarted, Stage: "resolved"}))
	require.NoError(t, bus.Publish("job-1", Event{Kind: KindStageCompleted, Stage: "resolved"}))
	require.NoError(t, bus.Publish("job-2", Event{Kind: KindStageStarted, Stage: "resolved"}))
	require.NoError(t, bus.Publish("job-1", Event{Kind: KindJobFinished, Status: "done"}))

	events := collect(t, ch)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, "job-1", e.JobID)
		assert.Equal(t, int64(i+1), e.Seq)
		assert.False(t, e.At.IsZero())
	}
	assert.True(t, events[2].Terminal())
}

func TestBus_LateSubscriberGetsTerminalOnly(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewBus(16, nil)
	defer bus.Close()

	require.NoError(t, bus.Publish("job-1", Event{Kind: KindStageStarted, Stage: "resolved"}))
	require.NoError(t, bus.Publish("job-1", Event{Kind: KindJobFinished, Status: "done"}))

	ch, err := bus.Subscribe(context.Background(), "job-1")
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, KindJobFinished, events[0].Kind)
	assert.Equal(t, int64(2), events[0].Seq)

	assert.Error(t, bus.Publish("job-1", Event{Kind: KindStageStarted}))

	last, ok := bus.Finished("job-1")
	assert.True(t, ok)
	assert.Equal(t, "done", last.Status)

	bus.Forget("job-1")
	_, ok = bus.Finished("job-1")
	assert.False(t, ok)
}

func TestBus_UnsubscribeOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewBus(16, nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, "job-1")
	require.NoError(t, err)
	cancel()
	collect(t, ch)

	// The job keeps publishing after its only subscriber left.
	require.NoError(t, bus.Publish("job-1", Event{Kind: KindStageStarted}))
	require.NoError(t, bus.Publish("job-1", Event{Kind: KindJobFinished}))
}

func TestBus_SlowSubscriberStillGetsTerminal(t *testing.T) {
	defer goleak.VerifyNone(t)
	bus := NewBus(1, nil)
	defer bus.Close()

	ch, err := bus.Subscribe(context.Background(), "job-1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish("job-1", Event{Kind: KindToolStarted}))
	}
	require.NoError(t, bus.Publish("job-1", Event{Kind: KindJobFinished, Status: "done"}))

	events := collect(t, ch)
	require.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 6)
	last := events[len(events)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, int64(6), last.Seq)
}

func TestBus_Closed(t *testing.T) {
	bus := NewBus(0, nil)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	_, err := bus.Subscribe(context.Background(), "job-1")
	assert.Error(t, err)
	assert.Error(t, bus.Publish("job-1", Event{Kind: KindStageStarted}))
}

func TestSink(t *testing.T) {
	bus := NewBus(4, nil)
	defer bus.Close()

	ch, err := bus.Subscribe(context.Background(), "job-1")
	require.NoError(t, err)
	sink := bus.Sink("job-1")
	sink.Emit(Event{Kind: KindStageStarted, Stage: "planned"})
	sink.Emit(Event{Kind: KindJobFinished})
	sink.Emit(Event{Kind: KindStageStarted}) // dropped after the terminal event

	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, "planned", events[0].Stage)

	Discard.Emit(Event{Kind: KindStageStarted})
}
