package gamestate

import (
	"sync"
	"time"

	"pygase/internal/event"
)

// DefaultTickInterval is the default fixed-tick simulation interval.
const DefaultTickInterval = 20 * time.Millisecond

// drainCutoffFraction bounds how much of a tick's interval the event drain
// may consume before the machine must push its update and move on.
const drainCutoffFraction = 0.95

// TimeStepFunc advances the simulation by dt and returns the resulting
// update fields. An empty map means no changes this tick; that is a
// meaningful result, not an error, and is pushed as a genuine no-op update
// (spec §9 Open Question 3).
type TimeStepFunc func(state State, dt time.Duration) map[string]any

// EventHandler processes a queued event during a tick, given the state and
// dt at the start of that tick, and returns fields to merge into the
// tick's proposed update.
type EventHandler func(state State, dt time.Duration, ev event.Event) map[string]any

// HandlerRegistry maps event types to EventHandlers for GameStateMachine
// ticks. Unlike internal/event.Registry, handlers here return state-update
// fields rather than acting as fire-and-forget callbacks.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// NewHandlerRegistry constructs an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]EventHandler)}
}

// Register associates a handler with an event type.
func (r *HandlerRegistry) Register(eventType string, handler EventHandler) {
	if r == nil || handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = handler
}

func (r *HandlerRegistry) dispatch(state State, dt time.Duration, ev event.Event) map[string]any {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	handler, ok := r.handlers[ev.Type]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return handler(state, dt, ev)
}

type eventQueue struct {
	mu    sync.Mutex
	items []event.Event
}

func (q *eventQueue) push(ev event.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
}

func (q *eventQueue) pop() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return event.Event{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// Machine is a fixed-tick simulator that interleaves TimeStepFunc calls
// with queued event handling and publishes ordered updates into a Store
// (spec §4.8).
type Machine struct {
	store    *Store
	interval time.Duration
	timeStep TimeStepFunc
	handlers *HandlerRegistry
	queue    eventQueue

	gameTimeMu sync.Mutex
	gameTime   time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

// NewMachine constructs a Machine driving store at the given interval. A
// non-positive interval falls back to DefaultTickInterval.
func NewMachine(store *Store, interval time.Duration, timeStep TimeStepFunc) *Machine {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if timeStep == nil {
		timeStep = func(State, time.Duration) map[string]any { return nil }
	}
	return &Machine{
		store:    store,
		interval: interval,
		timeStep: timeStep,
		handlers: NewHandlerRegistry(),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// RegisterEventHandler registers a handler invoked when a queued event of
// the given type is drained during a tick.
func (m *Machine) RegisterEventHandler(eventType string, handler EventHandler) {
	m.handlers.Register(eventType, handler)
}

// Dispatch enqueues an event for processing on the next tick that has
// drain budget remaining.
func (m *Machine) Dispatch(ev event.Event) {
	m.queue.push(ev)
}

// GameTime reports the accumulated simulation time.
func (m *Machine) GameTime() time.Duration {
	m.gameTimeMu.Lock()
	defer m.gameTimeMu.Unlock()
	return m.gameTime
}

// Run executes the fixed-tick loop until Stop is called. It blocks, so
// callers typically invoke it in its own goroutine.
func (m *Machine) Run() {
	defer close(m.stopped)

	initial := m.store.GetGameState()
	if initial.Status == Paused {
		active := Active
		m.store.PushUpdate(Update{TimeOrder: initial.TimeOrder.Add(1), Status: &active, Data: map[string]any{}})
	}

	dt := m.interval
	cutoff := time.Duration(float64(m.interval) * drainCutoffFraction)

	for {
		select {
		case <-m.stop:
			return
		default:
		}

		t0 := time.Now()
		state := m.store.GetGameState()
		proposed := m.timeStep(state, dt)
		if proposed == nil {
			proposed = map[string]any{}
		}

		for time.Since(t0) <= cutoff {
			ev, ok := m.queue.pop()
			if !ok {
				break
			}
			if result := m.handlers.dispatch(state, dt, ev); result != nil {
				proposed = recursiveUpdate(proposed, result, false)
			}
		}

		m.store.PushUpdate(Update{TimeOrder: state.TimeOrder.Add(1), Data: proposed})

		elapsed := time.Since(t0)
		dt = m.interval
		if elapsed > m.interval {
			dt = elapsed
		}
		m.gameTimeMu.Lock()
		m.gameTime += dt
		m.gameTimeMu.Unlock()

		remaining := m.interval - elapsed
		if remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-m.stop:
				return
			}
		}
	}
}

// Stop pushes a Paused transition update and signals the loop to exit,
// waiting up to timeout for it to do so. It reports whether the loop
// stopped within timeout.
func (m *Machine) Stop(timeout time.Duration) bool {
	state := m.store.GetGameState()
	paused := Paused
	m.store.PushUpdate(Update{TimeOrder: state.TimeOrder.Add(1), Status: &paused, Data: map[string]any{}})
	m.stopOnce.Do(func() { close(m.stop) })
	select {
	case <-m.stopped:
		return true
	case <-time.After(timeout):
		return false
	}
}
