package texture

import (
	"testing"
	"time"
)

func TestDecodeQueuePriority(t *testing.T) {
	q := newDecodeQueue()
	for i, p := range []int{5, 1, 3, 1, 0, 3} {
		q.push(&Job{ID: uint64(i), Priority: p})
	}

	var got []uint64
	for q.len() > 0 {
		j, ok := q.pop()
		if !ok {
			t.Fatal("pop failed")
		}
		got = append(got, j.ID)
	}
	want := []uint64{4, 1, 3, 2, 5, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestDecodeQueueCloseWakesWorker(t *testing.T) {
	q := newDecodeQueue()
	done := make(chan bool)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.push(&Job{ID: 1})
	if ok := <-done; !ok {
		t.Fatal("pop after push failed")
	}

	go func() {
		_, ok := q.pop()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Error("pop on a closed empty queue returned a job")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("close did not wake the worker")
	}
}

func TestDecodeQueueCloseReturnsQueued(t *testing.T) {
	q := newDecodeQueue()
	q.push(&Job{ID: 1})
	q.push(&Job{ID: 2})
	if left := q.close(); len(left) != 2 {
		t.Errorf("close returned %d jobs, want 2", len(left))
	}
	if _, ok := q.pop(); ok {
		t.Error("pop succeeded after close")
	}
}

func TestDecodeQueueRemove(t *testing.T) {
	q := newDecodeQueue()
	jobs := make([]*Job, 5)
	for i := range jobs {
		jobs[i] = &Job{ID: uint64(i), Priority: i % 3, index: -1}
		q.push(jobs[i])
	}

	if !q.remove(jobs[2]) {
		t.Fatal("remove of a queued job failed")
	}
	if q.remove(jobs[2]) {
		t.Error("second remove succeeded")
	}
	var got []uint64
	for q.len() > 0 {
		j, _ := q.pop()
		got = append(got, j.ID)
	}
	want := []uint64{0, 3, 1, 4}
	if len(got) != len(want) {
		t.Fatalf("pop order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
	if q.remove(jobs[0]) {
		t.Error("remove of a popped job succeeded")
	}
}

func TestInitQueueRemove(t *testing.T) {
	var q initQueue
	a, b := &Job{ID: 1}, &Job{ID: 2}
	q.push(a)
	q.push(b)
	if !q.remove(a) || q.remove(a) {
		t.Error("remove should succeed exactly once")
	}
	if jobs := q.drain(); len(jobs) != 1 || jobs[0] != b {
		t.Errorf("drain = %v, want only job 2", jobs)
	}
}

func TestInitQueueDrain(t *testing.T) {
	var q initQueue
	q.push(&Job{ID: 1})
	q.push(&Job{ID: 2})
	if q.len() != 2 {
		t.Fatalf("len = %d", q.len())
	}
	jobs := q.drain()
	if len(jobs) != 2 || jobs[0].ID != 1 || q.len() != 0 {
		t.Errorf("drain = %v, len after = %d", jobs, q.len())
	}
}

func TestHandleCallbacks(t *testing.T) {
	h := newHandle("wall", "wall", nil)

	var loaded, changed, removed int
	h.CallOnLoaded(func(*Handle) { loaded++ })
	id := h.OnTextureChanged(func(*Handle) { changed++ })
	h.OnRemove(func(*Handle) { removed++ })

	h.markPending()
	h.setImage(nil, StateSRGB)
	h.runChanged()
	h.runOnLoaded()
	h.runOnLoaded()

	if loaded != 1 || changed != 1 {
		t.Errorf("loaded = %d, changed = %d", loaded, changed)
	}
	if h.State()&StateSRGB == 0 {
		t.Errorf("state = %s, want srgb", h.State())
	}

	h.Unsubscribe(id)
	h.runChanged()
	h.runRemove()
	if changed != 1 || removed != 1 {
		t.Errorf("after unsubscribe changed = %d, removed = %d", changed, removed)
	}

	h.Release()
	if h.Refs() != 0 {
		t.Errorf("refs went negative: %d", h.Refs())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{0, "none"},
		{StateLoaded | StateError, "loaded|error"},
		{StateIndexed | StateLoaded | StateNormalMap, "indexed|loaded|normalmap"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
