package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeStorage — приемник батчей с управляемым отказом.
type fakeStorage struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (f *fakeStorage) WriteBatch(_ context.Context, events []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeStorage) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestRecorder(t *testing.T, repo StorageInterface) (*Recorder, *OverflowLog) {
	t.Helper()
	overflow := NewOverflowLog(filepath.Join(t.TempDir(), "overflow.jsonl"))
	r := NewRecorder(repo, overflow, Options{
		BufferSize:    16,
		BatchSize:     4,
		FlushInterval: 20 * time.Millisecond,
	}, nil, zap.NewNop())
	return r, overflow
}

func event(id string) Event {
	return Event{ID: id, Action: ActionSyncOK, Resource: "sub1"}
}

func TestRecorderFlushesOnStop(t *testing.T) {
	t.Parallel()

	store := &fakeStorage{}
	r, _ := newTestRecorder(t, store)
	r.Start()

	for i := 0; i < 3; i++ {
		r.Log(event(string(rune('a' + i))))
	}
	r.Stop()

	// Drain Pattern: меньше батча, но все на месте после Stop.
	if store.count() != 3 {
		t.Errorf("events persisted: got %d, want 3", store.count())
	}
}

func TestRecorderBatchesBySize(t *testing.T) {
	t.Parallel()

	store := &fakeStorage{}
	r, _ := newTestRecorder(t, store)
	r.Start()
	defer r.Stop()

	for i := 0; i < 8; i++ {
		r.Log(event(string(rune('a' + i))))
	}

	deadline := time.Now().Add(time.Second)
	for store.count() < 8 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.count() != 8 {
		t.Errorf("events persisted: got %d, want 8", store.count())
	}
}

func TestRecorderDefaultsFilledIn(t *testing.T) {
	t.Parallel()

	store := &fakeStorage{}
	r, _ := newTestRecorder(t, store)
	r.Start()

	r.Log(Event{ID: "x", Action: ActionAccessDenied})
	r.Stop()

	if store.count() != 1 {
		t.Fatalf("events: got %d", store.count())
	}
	got := store.events[0]
	if got.Timestamp.IsZero() {
		t.Error("timestamp must be filled in")
	}
	if got.Origin != OriginLocal {
		t.Errorf("origin: got %v, want local", got.Origin)
	}
}

func TestRecorderSpillsToOverflowAndReplays(t *testing.T) {
	t.Parallel()

	store := &fakeStorage{}
	store.setFail(true)
	r, overflow := newTestRecorder(t, store)
	r.Start()

	// БД лежит: события уходят в локальный журнал, не теряются.
	for i := 0; i < 4; i++ {
		r.Log(event(string(rune('a' + i))))
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n, _ := overflow.Size(); n >= 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n, _ := overflow.Size(); n != 4 {
		t.Fatalf("overflow size: got %d, want 4", n)
	}

	// БД ожила: следующий флаш сначала доигрывает журнал.
	store.setFail(false)
	r.Log(event("z"))
	r.Stop()

	if store.count() != 5 {
		t.Errorf("events after replay: got %d, want 5", store.count())
	}
	if n, _ := overflow.Size(); n != 0 {
		t.Errorf("overflow must be drained, %d left", n)
	}
}

// gatedStorage держит WriteBatch до открытия шлюза: имитация зависшей БД,
// при которой буфер забивается и продюсеры начинают блокироваться.
type gatedStorage struct {
	fakeStorage
	gate chan struct{}
}

func (g *gatedStorage) WriteBatch(ctx context.Context, events []Event) error {
	<-g.gate
	return g.fakeStorage.WriteBatch(ctx, events)
}

func TestRecorderStopWithBlockedProducer(t *testing.T) {
	t.Parallel()

	store := &gatedStorage{gate: make(chan struct{})}
	overflow := NewOverflowLog(filepath.Join(t.TempDir(), "overflow.jsonl"))
	r := NewRecorder(store, overflow, Options{
		BufferSize:    1,
		BatchSize:     1,
		FlushInterval: 5 * time.Millisecond,
	}, nil, zap.NewNop())
	r.Start()

	r.Log(event("a")) // Воркер забирает и виснет в WriteBatch
	r.Log(event("b")) // Занимает единственный слот буфера

	sent := make(chan struct{})
	go func() {
		r.Log(event("c")) // Блокируется на отправке в полный буфер
		close(sent)
	}()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.gate) // БД ожила

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not finish")
	}
	<-sent

	// Зависший продюсер дожил до отправки: его событие в БД, не потеряно
	// и не ушло в overflow.
	if store.count() != 3 {
		t.Errorf("events persisted: got %d, want 3", store.count())
	}
	if n, _ := overflow.Size(); n != 0 {
		t.Errorf("overflow must stay empty, size=%d", n)
	}
}

func TestRecorderLogAfterStopGoesToOverflow(t *testing.T) {
	t.Parallel()

	store := &fakeStorage{}
	r, overflow := newTestRecorder(t, store)
	r.Start()
	r.Stop()

	r.Log(event("late"))

	if n, _ := overflow.Size(); n != 1 {
		t.Errorf("late event must land in overflow, size=%d", n)
	}
}

func TestOverflowAppendDrain(t *testing.T) {
	t.Parallel()

	o := NewOverflowLog(filepath.Join(t.TempDir(), "overflow.jsonl"))

	if err := o.Append([]Event{event("a"), event("b")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	events, err := o.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(events) != 2 || events[0].ID != "a" || events[1].ID != "b" {
		t.Errorf("drained: %+v", events)
	}

	// Drain усекает файл: повторный пуст.
	events, err = o.Drain()
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("second drain must be empty, got %d", len(events))
	}
}

func TestOverflowDrainMissingFile(t *testing.T) {
	t.Parallel()

	o := NewOverflowLog(filepath.Join(t.TempDir(), "never-written.jsonl"))
	events, err := o.Drain()
	if err != nil || events != nil {
		t.Errorf("missing file: got %v, %v", events, err)
	}
}
