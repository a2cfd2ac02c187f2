package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
	closeErr  error
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.closeErr
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func TestConsumer_CommitsOnlyHandledMessages(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Key: []byte("a")},
		{Offset: 2, Key: []byte("bad")},
		{Offset: 3, Key: []byte("c")},
	}}
	var handled []string
	var mu sync.Mutex
	c := newConsumer(r, "t", func(_ context.Context, key, _ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, string(key))
		if string(key) == "bad" {
			return errors.New("nope")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 3}, r.commits())
	mu.Lock()
	assert.Equal(t, []string{"a", "bad", "c"}, handled)
	mu.Unlock()
}

func TestConsumer_ReturnsCloseErrorWhenFetchCancelled(t *testing.T) {
	closeErr := errors.New("leave group failed")
	r := &fakeReader{closeErr: closeErr}
	c := newConsumer(r, "t", func(context.Context, []byte, []byte) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	// Let Start block inside FetchMessage before cancelling.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, closeErr)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	r.mu.Lock()
	assert.True(t, r.closed)
	r.mu.Unlock()
}

func TestConsumer_StopsCleanlyWhenCancelled(t *testing.T) {
	r := &fakeReader{}
	c := newConsumer(r, "t", func(context.Context, []byte, []byte) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, <-done)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestProducer_PublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "t")

	type payload struct {
		ListingID string `json:"listing_id"`
	}
	require.NoError(t, p.Publish(context.Background(), Event{Key: "L1", Value: payload{ListingID: "L1"}}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "L1", string(w.msgs[0].Key))

	got, err := DecodeJSON[payload](w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "L1", got.ListingID)
}

func TestProducer_WriteError(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("broker down")}, "t")
	err := p.PublishBatch(context.Background(), []Event{{Key: "k", Value: 1}})
	assert.Error(t, err)
	assert.NoError(t, p.PublishBatch(context.Background(), nil))
}

func TestDecodeJSON_Invalid(t *testing.T) {
	_, err := DecodeJSON[map[string]any]([]byte("{"))
	assert.Error(t, err)
}
