package producer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamfan/errors"
	"github.com/c360/streamfan/message"
)

// fakeSender records batches and can be told to fail.
type fakeSender struct {
	mu      sync.Mutex
	batches [][][]byte
	fail    bool
}

func (f *fakeSender) SendBatch(_ context.Context, batch [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.ErrSendFailed
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeSender) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeSender) sent() [][][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][][]byte, len(f.batches))
	copy(out, f.batches)
	return out
}

// syncSubmit delivers flush jobs inline, bypassing the pool, so tests are
// deterministic.
func syncSubmit(job FlushJob) error {
	_ = job.producer.deliver(context.Background(), job.batch)
	return nil
}

func newTestProducer(sender BatchSender, batchSize int, backoff time.Duration) *Producer {
	return NewProducer("test", sender, syncSubmit, Options{
		BatchSize: batchSize,
		Backoff:   backoff,
	})
}

func TestSubmitBelowThreshold(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, 3, time.Second)

	p.Submit(message.Message{"n": 1})
	p.Submit(message.Message{"n": 2})

	assert.Equal(t, 2, p.Pending())
	assert.Empty(t, sender.sent())
}

func TestSubmitThresholdTriggersFlush(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, 3, time.Second)

	for i := 0; i < 3; i++ {
		p.Submit(message.Message{"n": i})
	}

	batches := sender.sent()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
	assert.Equal(t, 0, p.Pending())
}

func TestEnrichment(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, 2, time.Second)

	p.Submit(message.Message{"event": "a"})
	p.Submit(message.Message{"event": "b"})

	batches := sender.sent()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(batches[0][0], &first))
	require.NoError(t, json.Unmarshal(batches[0][1], &second))

	// Distinct generated ids, non-decreasing timestamps
	assert.NotEmpty(t, first[message.FieldID])
	assert.NotEqual(t, first[message.FieldID], second[message.FieldID])
	assert.LessOrEqual(t, first[message.FieldTime], second[message.FieldTime])

	// Caller payload preserved
	assert.Equal(t, "a", first["event"])
}

func TestSubmitDropsUnserializable(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, 1, time.Second)

	p.Submit(message.Message{"bad": make(chan int)})

	assert.Equal(t, 0, p.Pending())
	assert.Empty(t, sender.sent())
}

func TestBackoffDrop(t *testing.T) {
	sender := &fakeSender{fail: true}
	backoff := 80 * time.Millisecond
	p := newTestProducer(sender, 3, backoff)

	// Threshold flush fails and opens the breaker
	for i := 0; i < 3; i++ {
		p.Submit(message.Message{"n": i})
	}
	require.True(t, p.Blocked())

	sender.setFail(false)

	// While blocked, a threshold flush discards the buffer without sending
	for i := 0; i < 3; i++ {
		p.Submit(message.Message{"n": i})
	}
	assert.Empty(t, sender.sent())
	assert.Equal(t, 0, p.Pending())

	// After the window elapses the very next flush attempts a send
	time.Sleep(backoff + 40*time.Millisecond)
	require.False(t, p.Blocked())

	for i := 0; i < 3; i++ {
		p.Submit(message.Message{"n": i})
	}
	require.Len(t, sender.sent(), 1)
}

func TestFlushEmptyBufferIsNoopSend(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, 10, time.Second)

	p.Flush()

	// The job ran but no network send happened for the empty batch
	assert.Empty(t, sender.sent())
}

func TestFlushJobRejectedDropsBatch(t *testing.T) {
	sender := &fakeSender{}
	rejecting := func(FlushJob) error { return errors.ErrQueueFull }
	p := NewProducer("test", sender, rejecting, Options{BatchSize: 2, Backoff: time.Second})

	p.Submit(message.Message{"n": 1})
	p.Submit(message.Message{"n": 2})

	// Batch was drained and lost; nothing pending, nothing sent, no panic
	assert.Equal(t, 0, p.Pending())
	assert.Empty(t, sender.sent())
}

func TestCloseSendsPendingSynchronously(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, 10, time.Second)

	p.Submit(message.Message{"n": 1})
	p.Submit(message.Message{"n": 2})

	require.NoError(t, p.Close(context.Background()))

	batches := sender.sent()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, 0, p.Pending())
}

func TestCloseWhileBlockedDrops(t *testing.T) {
	sender := &fakeSender{fail: true}
	p := newTestProducer(sender, 3, time.Second)

	// Open the breaker
	for i := 0; i < 3; i++ {
		p.Submit(message.Message{"n": i})
	}
	require.True(t, p.Blocked())
	sender.setFail(false)

	p.Submit(message.Message{"n": 99})

	err := p.Close(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProducerBlocked)
	assert.Empty(t, sender.sent())
	assert.Equal(t, 0, p.Pending())
}

func TestConcurrentSubmit(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(sender, 10, time.Second)

	const writers = 8
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				p.Submit(message.Message{"writer": w, "n": i})
			}
		}(w)
	}
	wg.Wait()
	p.Flush()

	total := 0
	for _, batch := range sender.sent() {
		total += len(batch)
	}
	assert.Equal(t, writers*perWriter, total)
	assert.Equal(t, 0, p.Pending())
}
