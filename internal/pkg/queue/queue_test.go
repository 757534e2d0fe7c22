package queue

import (
	"testing"
)

func TestCreateQueue(t *testing.T) {
	q, err := CreateQueue[string](3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Capacity() != 3 {
		t.Errorf("Expected queue capacity to be 3, got %d", q.Capacity())
	}
	if !q.IsEmpty() {
		t.Errorf("Expected new queue to be empty")
	}
	if _, err := CreateQueue[string](0); err == nil {
		t.Errorf("Expected error for zero capacity")
	}
	if _, err := CreateQueue[int](-1); err == nil {
		t.Errorf("Expected error for negative capacity")
	}
}

func TestInsert(t *testing.T) {
	q, _ := CreateQueue[string](3)
	for i, item := range []string{"a", "b", "c"} {
		if err := q.Insert(item); err != nil {
			t.Fatalf("unexpected error inserting %q: %v", item, err)
		}
		if q.Length() != i+1 {
			t.Errorf("Expected queue length to be %d, got %d", i+1, q.Length())
		}
	}
	if err := q.Insert("d"); err != ErrFull {
		t.Errorf("Queue should be full, expected ErrFull, got %v", err)
	}
	if q.Length() != 3 {
		t.Errorf("Expected queue length to stay 3, got %d", q.Length())
	}
}

func TestRemove(t *testing.T) {
	q, _ := CreateQueue[string](3)
	q.Insert("a")
	q.Insert("b")
	q.Insert("c")

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Remove()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("Expected removed element to be %q, got %q", want, got)
		}
	}
	if _, err := q.Remove(); err != ErrEmpty {
		t.Errorf("Expected ErrEmpty from empty queue, got %v", err)
	}
}

func TestPushDropsOldest(t *testing.T) {
	q, _ := CreateQueue[int](2)
	if _, dropped := q.Push(1); dropped {
		t.Errorf("Expected no drop on first push")
	}
	q.Push(2)
	old, dropped := q.Push(3)
	if !dropped || old != 1 {
		t.Errorf("Expected 1 to be dropped, got %d (dropped=%v)", old, dropped)
	}
	items := q.Items()
	if len(items) != 2 || items[0] != 2 || items[1] != 3 {
		t.Errorf("Expected [2 3], got %v", items)
	}
}

func TestPeek(t *testing.T) {
	q, _ := CreateQueue[string](3)
	if _, err := q.Peek(); err == nil {
		t.Errorf("Expected empty queue to return an error")
	}
	q.Insert("a")
	q.Insert("b")
	elem, err := q.Peek()
	if elem != "a" || err != nil {
		t.Errorf("Expected 'a' and no error, got %q, %v", elem, err)
	}
	q.Remove()
	elem, _ = q.Peek()
	if elem != "b" {
		t.Errorf("Expected 'b' after removal, got %q", elem)
	}
}

func TestFilter(t *testing.T) {
	q, _ := CreateQueue[int](5)
	for i := 1; i <= 5; i++ {
		q.Insert(i)
	}
	q.Filter(func(v int) bool { return v%2 == 1 })
	items := q.Items()
	if len(items) != 3 || items[0] != 1 || items[1] != 3 || items[2] != 5 {
		t.Errorf("Expected [1 3 5], got %v", items)
	}
	if err := q.Insert(6); err != nil {
		t.Errorf("Expected room after filtering, got %v", err)
	}
}
