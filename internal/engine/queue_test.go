package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue_DequeuesByPriorityThenSequence(t *testing.T) {
	q := newPriorityQueue()
	q.Push(WorkItem{Path: "bulk-1", Priority: PriorityBulkScan, Seq: 1})
	q.Push(WorkItem{Path: "realtime-1", Priority: PriorityRealtime, Seq: 2})
	q.Push(WorkItem{Path: "bulk-2", Priority: PriorityBulkScan, Seq: 3})
	q.Push(WorkItem{Path: "realtime-2", Priority: PriorityRealtime, Seq: 4})

	ctx := context.Background()
	order := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		item, ok := q.Pop(ctx, time.Second)
		assert.True(t, ok)
		order = append(order, item.Path)
	}

	assert.Equal(t, []string{"realtime-1", "realtime-2", "bulk-1", "bulk-2"}, order)
}

func TestPriorityQueue_PopTimesOutWhenEmpty(t *testing.T) {
	q := newPriorityQueue()
	ctx := context.Background()

	start := time.Now()
	_, ok := q.Pop(ctx, 50*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPriorityQueue_PopRespectsContextCancellation(t *testing.T) {
	q := newPriorityQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx, time.Second)
	assert.False(t, ok)
}

func TestPriorityQueue_LenForRootCountsOnlyMatchingRoot(t *testing.T) {
	q := newPriorityQueue()
	q.Push(WorkItem{Root: "/a", Path: "x", Priority: PriorityBulkScan})
	q.Push(WorkItem{Root: "/b", Path: "y", Priority: PriorityBulkScan})
	q.Push(WorkItem{Root: "/a", Path: "z", Priority: PriorityBulkScan})

	assert.Equal(t, 2, q.LenForRoot("/a"))
	assert.Equal(t, 1, q.LenForRoot("/b"))
	assert.Equal(t, 3, q.Len())
}

func TestPriorityQueue_CloseUnblocksPop(t *testing.T) {
	q := newPriorityQueue()
	done := make(chan struct{})
	go func() {
		_, ok := q.Pop(context.Background(), 5*time.Second)
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}
