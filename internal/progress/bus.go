package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber event buffer.
const DefaultBuffer = 64

// Bus fans job events out to subscribers. Each job is its own topic.
// Subscribers may join and leave at any time; a slow subscriber loses
// intermediate events but always receives the terminal one.
type Bus struct {
	pubsub *gochannel.GoChannel
	buffer int
	logger *zap.Logger

	mu       sync.Mutex
	seq      map[string]int64
	terminal map[string]Event
	closed   bool
}

// NewBus creates a Bus. buffer bounds each subscriber's queue.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("progress")
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			// Publishing waits for the forwarding goroutine of every
			// subscriber, which keeps per-job ordering.
			BlockPublishUntilSubscriberAck: true,
		}, NewWatermillLogger(logger)),
		buffer:   buffer,
		logger:   logger,
		seq:      map[string]int64{},
		terminal: map[string]Event{},
	}
}

// Publish stamps e with the next sequence number of jobID and delivers it
// to the current subscribers.
func (b *Bus) Publish(jobID string, e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("progress: bus is closed")
	}
	if _, done := b.terminal[jobID]; done {
		return fmt.Errorf("progress: job %s already finished", jobID)
	}

	b.seq[jobID]++
	e.JobID = jobID
	e.Seq = b.seq[jobID]
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.Terminal() {
		b.terminal[jobID] = e
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("progress: encode event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(jobID, msg); err != nil {
		return fmt.Errorf("progress: publish: %w", err)
	}
	return nil
}

// Sink returns a Sink that publishes to jobID. Publish errors are logged.
func (b *Bus) Sink(jobID string) Sink {
	return SinkFunc(func(e Event) {
		if err := b.Publish(jobID, e); err != nil {
			b.logger.Debug("event dropped", zap.String("job_id", jobID), zap.Error(err))
		}
	})
}

// Subscribe returns the events of jobID published from now on. The
// channel closes after the terminal event or when ctx is done. A job that
// has already finished yields only its terminal event.
func (b *Bus) Subscribe(ctx context.Context, jobID string) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("progress: bus is closed")
	}

	if last, ok := b.terminal[jobID]; ok {
		out := make(chan Event, 1)
		out <- last
		close(out)
		return out, nil
	}

	// The subscription ends with the stream, not only with ctx.
	sctx, cancel := context.WithCancel(ctx)
	msgs, err := b.pubsub.Subscribe(sctx, jobID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("progress: subscribe: %w", err)
	}
	out := make(chan Event, b.buffer)
	go b.forward(sctx, cancel, jobID, msgs, out)
	return out, nil
}

func (b *Bus) forward(ctx context.Context, cancel context.CancelFunc, jobID string, msgs <-chan *message.Message, out chan<- Event) {
	defer close(out)
	defer cancel()
	dropped := 0
	for msg := range msgs {
		var e Event
		err := json.Unmarshal(msg.Payload, &e)
		msg.Ack()
		if err != nil {
			b.logger.Error("undecodable event", zap.String("job_id", jobID), zap.Error(err))
			continue
		}

		if e.Terminal() {
			select {
			case out <- e:
			case <-ctx.Done():
			}
			if dropped > 0 {
				b.logger.Debug("slow subscriber lost events", zap.String("job_id", jobID), zap.Int("dropped", dropped))
			}
			return
		}
		select {
		case out <- e:
		default:
			dropped++
		}
	}
}

// Finished returns the terminal event of jobID, if it has one.
func (b *Bus) Finished(jobID string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.terminal[jobID]
	return e, ok
}

// Forget drops the bookkeeping of jobID.
func (b *Bus) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seq, jobID)
	delete(b.terminal, jobID)
}

// Close shuts down the bus and closes every subscriber channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.pubsub.Close()
}
