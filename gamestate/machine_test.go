package gamestate

import (
	"testing"
	"time"

	"pygase/internal/event"
	"pygase/internal/wire"
)

func TestMachineStartTransitionsPausedToActive(t *testing.T) {
	store := NewStore(State{Status: Paused, Data: wire.Record{}}, 10)
	m := NewMachine(store, 5*time.Millisecond, func(State, time.Duration) map[string]any { return nil })
	go m.Run()
	defer m.Stop(time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if store.GetGameState().Status == Active {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("machine never transitioned to Active")
}

func TestMachineMergesEventHandlerResults(t *testing.T) {
	store := NewStore(State{Status: Active, Data: wire.Record{"score": 0}}, 10)
	m := NewMachine(store, 5*time.Millisecond, func(State, time.Duration) map[string]any { return nil })
	m.RegisterEventHandler("score", func(state State, dt time.Duration, ev event.Event) map[string]any {
		return map[string]any{"score": 1}
	})
	go m.Run()
	defer m.Stop(time.Second)

	m.Dispatch(event.New("score", nil, nil))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if store.GetGameState().Data["score"] == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("score update was never applied")
}

func TestMachineStopPushesPausedAndReturnsTrue(t *testing.T) {
	store := NewStore(State{Status: Active, Data: wire.Record{}}, 10)
	m := NewMachine(store, 5*time.Millisecond, func(State, time.Duration) map[string]any { return nil })
	go m.Run()

	if !m.Stop(time.Second) {
		t.Fatalf("expected clean stop")
	}
	if store.GetGameState().Status != Paused {
		t.Fatalf("expected Paused status after stop")
	}
}

func TestEmptyTimeStepPreservesNoChangeSemantics(t *testing.T) {
	store := NewStore(State{Status: Active, Data: wire.Record{"x": 1}}, 10)
	calls := 0
	m := NewMachine(store, 5*time.Millisecond, func(State, time.Duration) map[string]any {
		calls++
		return map[string]any{}
	})
	go m.Run()
	defer m.Stop(time.Second)

	time.Sleep(30 * time.Millisecond)
	if calls == 0 {
		t.Fatalf("expected time_step to have been invoked")
	}
	if store.GetGameState().Data["x"] != 1 {
		t.Fatalf("expected unrelated key to survive empty updates")
	}
}
