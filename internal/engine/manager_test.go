package engine

import (
	"context"
	"errors"
	"testing"

	"stockanalyzer/internal/domain"
	"stockanalyzer/internal/gather"
)

func TestRunManagerLifecycle(t *testing.T) {
	eng := NewEngine(gather.NewMemoryProvider(map[string][]domain.Bar{
		"AAPL": series("AAPL", 100, 101, 102),
	}))
	m := NewRunManager(nil)
	subID, events := m.Subscribe(64)
	defer m.Unsubscribe(subID)

	run, err := m.Start(context.Background(), eng, testConfig("AAPL"), buyOnce("AAPL", 10, -1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := run.Wait(); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get(run.ID())
	if err != nil || got != run {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if list := m.List(); len(list) != 1 || list[0] != run {
		t.Errorf("List = %v", list)
	}

	var states []State
	for len(events) > 0 {
		ev := <-events
		if ev.RunID != run.ID() {
			t.Errorf("event for unknown run %s", ev.RunID)
		}
		states = append(states, ev.State)
	}
	if len(states) < 3 || states[0] != StateCreated || states[len(states)-1] != StateCompleted {
		t.Errorf("states = %v", states)
	}

	if err := m.Cancel(run.ID()); !errors.Is(err, ErrRunFinished) {
		t.Errorf("Cancel finished run: err = %v, want ErrRunFinished", err)
	}
	if err := m.Remove(run.ID()); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if _, err := m.Get(run.ID()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Get after Remove: err = %v, want ErrRunNotFound", err)
	}
}

func TestRunManagerRejectsDuplicatesAndUnknown(t *testing.T) {
	m := NewRunManager(nil)
	run := newRun(testConfig("AAPL").Normalize(), "x")
	if err := m.Add(run); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(run); !errors.Is(err, ErrRunDuplicate) {
		t.Errorf("err = %v, want ErrRunDuplicate", err)
	}
	if err := m.Remove(run.ID()); !errors.Is(err, ErrRunNotDone) {
		t.Errorf("err = %v, want ErrRunNotDone", err)
	}
	if err := m.Cancel("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewRunManager(nil)
	id, ch := m.Subscribe(1)
	m.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	// Broadcasting with no subscribers must not block.
	m.broadcast(Snapshot{RunID: "x"})
}
