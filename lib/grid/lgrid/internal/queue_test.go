package internal

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestPushRecv tests that items of one producer arrive in order
func TestPushRecv(t *testing.T) {
	q := NewTaskQueue[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case v := <-q.Recv():
			if v != i {
				t.Errorf("Expected %d, got %d", i, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case v := <-q.Recv():
		t.Errorf("Queue should be empty, but got %d", v)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestConcurrentProducers tests that every item of many producers is delivered exactly once
func TestConcurrentProducers(t *testing.T) {
	q := NewTaskQueue[int]()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base + i)
			}
		}(p * perProducer)
	}

	seen := make(map[int]bool, producers*perProducer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range q.Recv() {
			if seen[v] {
				t.Errorf("Duplicate item %d", v)
			}
			seen[v] = true
		}
	}()

	wg.Wait()
	q.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer")
	}
	if len(seen) != producers*perProducer {
		t.Errorf("Received %d items, want %d", len(seen), producers*perProducer)
	}
}

// TestCloseDrains tests that queued items are delivered after Close and pushes are rejected
func TestCloseDrains(t *testing.T) {
	q := NewTaskQueue[string]()
	q.Push("a")
	q.Push("b")
	q.Close()

	if q.Push("c") {
		t.Errorf("Push after Close should fail")
	}
	if !q.IsClosed() {
		t.Errorf("IsClosed() = false after Close")
	}

	var got []string
	for v := range q.Recv() {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Drained %v, want [a b]", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after drain", q.Len())
	}
}
