package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhr/assesscore/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	inserted []model.ActivityEvent
	failN    int
}

func (f *fakeStore) InsertActivityEvent(ctx context.Context, e model.ActivityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("transient")
	}
	f.inserted = append(f.inserted, e)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func TestEmitFlushesAsynchronously(t *testing.T) {
	store := &fakeStore{}
	sink := NewSink(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Start(ctx, 10*time.Millisecond)

	sink.Emit(model.ActivityEvent{ID: uuid.New(), Type: model.EventSessionStarted, SessionID: uuid.New()})

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEmitDropsPastCapacity(t *testing.T) {
	store := &fakeStore{}
	sink := NewSink(store, nil)
	// never started: queue never drains, so capacity is reachable deterministically
	for i := 0; i < maxQueueCapacity+5; i++ {
		sink.Emit(model.ActivityEvent{ID: uuid.New(), Type: model.EventSessionStarted})
	}
	assert.Equal(t, int64(5), sink.Dropped())
	assert.Equal(t, maxQueueCapacity, sink.Len())
}

func TestFlushRetriesFailedWrites(t *testing.T) {
	store := &fakeStore{failN: 1}
	sink := NewSink(store, nil)
	sink.Emit(model.ActivityEvent{ID: uuid.New(), Type: model.EventSessionCompleted})

	sink.flushOnce(context.Background())
	assert.Equal(t, 0, store.count(), "first attempt fails and stays queued")
	assert.Equal(t, 1, sink.Len())

	sink.flushOnce(context.Background())
	assert.Equal(t, 1, store.count(), "second attempt succeeds")
}
