package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil once the message is processed. A non-nil error is
// retried with backoff until it succeeds or the consumer stops, so handlers
// must swallow messages they can never process.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	laneBuffer        = 64
	commitTimeout     = 5 * time.Second
	defaultBackoff    = 200 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// Consumer fans messages out to workers by message key, so every message of
// one key is handled in fetch order by the same worker. Offsets are committed
// per partition only up to the first message not yet handled.
type Consumer struct {
	r       messageReader
	workers int
	logger  *zap.Logger

	retryBackoff time.Duration
	maxBackoff   time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, logger)
}

func newConsumer(r messageReader, workers int, logger *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		r:            r,
		workers:      workers,
		logger:       logger,
		retryBackoff: defaultBackoff,
		maxBackoff:   defaultMaxBackoff,
	}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	offsets := newOffsetTracker()
	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, laneBuffer)
		wg.Add(1)
		go func(lane <-chan kafka.Message) {
			defer wg.Done()
			for m := range lane {
				if !c.process(ctx, h, m) {
					continue // stopping; the message stays uncommitted
				}
				if err := offsets.complete(m, c.commit(ctx)); err != nil {
					c.logger.Warn("commit failed",
						zap.String("topic", m.Topic),
						zap.Int("partition", m.Partition),
						zap.Int64("offset", m.Offset),
						zap.Error(err))
				}
			}
		}(lanes[i])
	}
	stop := func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		offsets.track(m)
		select {
		case lanes[c.lane(m)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) lane(m kafka.Message) int {
	if len(m.Key) == 0 {
		return m.Partition % c.workers
	}
	return int(xxhash.Sum64(m.Key) % uint64(c.workers))
}

// process runs h until it succeeds. It reports false when the consumer
// stopped first.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) bool {
	backoff := c.retryBackoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.logger.Error("handler failed",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// commit outlives ctx so the last handled messages are recorded on shutdown.
func (c *Consumer) commit(ctx context.Context) func(kafka.Message) error {
	return func(m kafka.Message) error {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		defer cancel()
		return c.r.CommitMessages(cctx, m)
	}
}

type partitionKey struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	pending []int64 // fetched, in fetch order
	done    map[int64]kafka.Message
}

// offsetTracker finds, per partition, the highest offset below which every
// fetched message has been handled.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: map[partitionKey]*partitionOffsets{}}
}

func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := partitionKey{m.Topic, m.Partition}
	p := t.parts[k]
	if p == nil {
		p = &partitionOffsets{done: map[int64]kafka.Message{}}
		t.parts[k] = p
	}
	p.pending = append(p.pending, m.Offset)
}

// complete marks m handled and, when that extends the handled prefix of its
// partition, commits the last message of the prefix. Commits run under the
// lock so a partition's committed offset never moves backwards.
func (t *offsetTracker) complete(m kafka.Message, commit func(kafka.Message) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.parts[partitionKey{m.Topic, m.Partition}]
	if p == nil {
		return commit(m)
	}
	p.done[m.Offset] = m

	var (
		last     kafka.Message
		advanced bool
	)
	for len(p.pending) > 0 {
		dm, ok := p.done[p.pending[0]]
		if !ok {
			break
		}
		delete(p.done, p.pending[0])
		p.pending = p.pending[1:]
		last, advanced = dm, true
	}
	if !advanced {
		return nil
	}
	return commit(last)
}
