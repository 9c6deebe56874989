package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducerFlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, nil)
	p.Start(context.Background())

	p.Publish("order.placed", []byte("1"), []byte(`{"a":1}`), kafka.Header{Key: "x-event-type", Value: []byte("OrderPlaced")})
	p.Publish("order.cancelled", []byte("2"), []byte(`{}`))
	p.Close()
	p.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "order.placed", w.msgs[0].Topic)
	assert.Equal(t, "OrderPlaced", Header(w.msgs[0], "x-event-type"))
	assert.Equal(t, "order.cancelled", w.msgs[1].Topic)
	assert.True(t, w.closed)
}

func TestProducerDrainsOnCancel(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Publish("t", nil, []byte("queued before start"))
	cancel()
	p.Start(ctx)
	p.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
	assert.LessOrEqual(t, len(w.msgs), 1)
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func runConsumer(ctx context.Context, c *Consumer, h Handler) <-chan error {
	c.retryBackoff = time.Millisecond
	c.maxBackoff = 5 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	return done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumerRetriesFailedMessageBeforeCommitting(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	var (
		mu       sync.Mutex
		attempts = map[int64]int{}
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runConsumer(ctx, newConsumer(r, 1, nil), func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[m.Offset]++
		if m.Offset == 2 && attempts[2] < 3 {
			return errors.New("redis down")
		}
		if m.Offset == 3 {
			cancel()
		}
		return nil
	})
	waitStopped(t, done)

	assert.Equal(t, []int64{1, 2, 3}, r.commits())
	assert.Equal(t, 3, attempts[2])
	assert.True(t, r.closed)
}

func TestConsumerNeverCommitsPastUnhandledMessage(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Key: []byte("a"), Offset: 1},
		{Key: []byte("b"), Offset: 2},
	}}
	var failures sync.WaitGroup
	failures.Add(3)
	var (
		mu    sync.Mutex
		count int
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runConsumer(ctx, newConsumer(r, 2, nil), func(_ context.Context, m kafka.Message) error {
		if m.Offset != 1 {
			return nil
		}
		mu.Lock()
		count++
		if count <= 3 {
			failures.Done()
		}
		mu.Unlock()
		return errors.New("always failing")
	})
	failures.Wait()
	cancel()
	waitStopped(t, done)

	assert.Empty(t, r.commits())
}

func TestConsumerKeepsPerKeyOrder(t *testing.T) {
	const total = 30
	keys := []string{"10", "11", "12"}
	var queue []kafka.Message
	for i := 1; i <= total; i++ {
		queue = append(queue, kafka.Message{Topic: "order.status.changed", Key: []byte(keys[i%len(keys)]), Offset: int64(i)})
	}
	r := &fakeReader{queue: queue}

	var (
		mu      sync.Mutex
		handled int
		seen    = map[string][]int64{}
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runConsumer(ctx, newConsumer(r, 4, nil), func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen[string(m.Key)] = append(seen[string(m.Key)], m.Offset)
		if handled++; handled == total {
			cancel()
		}
		return nil
	})
	waitStopped(t, done)

	for _, k := range keys {
		assert.IsIncreasing(t, seen[k], "key %s", k)
		assert.Len(t, seen[k], total/len(keys))
	}
	commits := r.commits()
	require.NotEmpty(t, commits)
	assert.IsIncreasing(t, commits)
	assert.Equal(t, int64(total), commits[len(commits)-1])
}

func TestOffsetTrackerCommitsHandledPrefix(t *testing.T) {
	tr := newOffsetTracker()
	msg := func(partition int, offset int64) kafka.Message {
		return kafka.Message{Topic: "t", Partition: partition, Offset: offset}
	}
	for _, o := range []int64{5, 6, 7} {
		tr.track(msg(0, o))
	}
	tr.track(msg(1, 40))

	var committed []kafka.Message
	commit := func(m kafka.Message) error {
		committed = append(committed, m)
		return nil
	}

	require.NoError(t, tr.complete(msg(0, 6), commit))
	assert.Empty(t, committed)
	require.NoError(t, tr.complete(msg(1, 40), commit))
	require.NoError(t, tr.complete(msg(0, 5), commit))
	require.NoError(t, tr.complete(msg(0, 7), commit))

	require.Len(t, committed, 3)
	assert.Equal(t, msg(1, 40), committed[0])
	assert.Equal(t, msg(0, 6), committed[1])
	assert.Equal(t, msg(0, 7), committed[2])
}

func TestConsumerReturnsReaderError(t *testing.T) {
	c := newConsumer(errReader{}, 2, nil)
	err := c.Start(context.Background(), func(context.Context, kafka.Message) error { return nil })
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type errReader struct{}

func (errReader) FetchMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, io.ErrUnexpectedEOF
}
func (errReader) CommitMessages(context.Context, ...kafka.Message) error { return nil }
func (errReader) Close() error                                           { return nil }
