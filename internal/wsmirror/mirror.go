// Package wsmirror serves a read-only WebSocket view of the shared game
// state (spec §4.15): every subscriber receives a JSON-encoded,
// snappy-compressed copy of the authoritative state whenever it changes.
// It never reads protocol datagrams back from its subscribers; it is a
// debugging/operability surface, not a PyGaSe client connection.
package wsmirror

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/gorilla/websocket"

	"pygase/gamestate"
	"pygase/internal/logging"
)

const (
	writeWait          = 10 * time.Second
	pingInterval       = 30 * time.Second
	pongWaitMultiplier = 3
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// wireState is the JSON shape pushed to subscribers, pre-compression.
type wireState struct {
	TimeOrder uint64         `json:"time_order"`
	Data      map[string]any `json:"data"`
}

// Mirror polls a GameStateStore and fans out compressed state snapshots
// to every connected WebSocket subscriber.
type Mirror struct {
	store  *gamestate.Store
	logger *logging.Logger
	period time.Duration

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	lastTimeOrder uint64
	haveSent      bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Mirror at construction time.
type Option func(*Mirror)

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Mirror) { m.logger = l }
}

// WithPollInterval overrides how often the store is checked for changes.
// Non-positive values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(m *Mirror) {
		if d > 0 {
			m.period = d
		}
	}
}

// New constructs a Mirror over store. Call Run to start broadcasting.
func New(store *gamestate.Store, opts ...Option) *Mirror {
	m := &Mirror{
		store:  store,
		logger: logging.L(),
		period: 100 * time.Millisecond,
		subs:   make(map[*subscriber]struct{}),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run polls the store at the configured interval, broadcasting a new
// snapshot to every subscriber whenever time_order advances. Blocks until
// Shutdown is called.
func (m *Mirror) Run() {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.broadcastIfChanged()
		}
	}
}

func (m *Mirror) broadcastIfChanged() {
	state := m.store.GetGameState()
	timeOrder := uint64(state.TimeOrder)

	m.mu.Lock()
	unchanged := m.haveSent && timeOrder == m.lastTimeOrder
	m.mu.Unlock()
	if unchanged {
		return
	}

	payload, err := encode(state)
	if err != nil {
		m.logger.Warn("wsmirror: encode state failed", logging.Error(err))
		return
	}

	m.mu.Lock()
	m.lastTimeOrder = timeOrder
	m.haveSent = true
	targets := make([]*subscriber, 0, len(m.subs))
	for s := range m.subs {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		select {
		case s.send <- payload:
		default:
			m.logger.Warn("wsmirror: subscriber send buffer full, dropping update")
		}
	}
}

func encode(state gamestate.State) ([]byte, error) {
	data, err := json.Marshal(wireState{TimeOrder: uint64(state.TimeOrder), Data: state.Data})
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

// ServeHTTP upgrades the request to a WebSocket and registers it as a
// subscriber. It sends the current state immediately, then streams
// updates as the store changes.
func (m *Mirror) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("wsmirror: upgrade failed", logging.Error(err))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, 8)}
	if payload, err := encode(m.store.GetGameState()); err == nil {
		select {
		case sub.send <- payload:
		default:
		}
	}

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(2)
	go m.readLoop(sub)
	go m.writeLoop(sub)
}

// readLoop discards inbound frames; its only purpose is to detect the
// subscriber closing the connection (via ReadMessage's resulting error)
// and keep the pong handler wired so the read deadline keeps extending.
func (m *Mirror) readLoop(sub *subscriber) {
	defer m.wg.Done()
	defer m.unregister(sub)

	waitDuration := pongWaitMultiplier * pingInterval
	sub.conn.SetReadDeadline(time.Now().Add(waitDuration))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(waitDuration))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *Mirror) writeLoop(sub *subscriber) {
	defer m.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer sub.conn.Close()

	for {
		select {
		case payload, ok := <-sub.send:
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-m.stop:
			sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (m *Mirror) unregister(sub *subscriber) {
	m.mu.Lock()
	if _, ok := m.subs[sub]; ok {
		delete(m.subs, sub)
		close(sub.send)
	}
	m.mu.Unlock()
}

// SubscriberCount reports how many WebSocket clients are currently mirrored.
func (m *Mirror) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Shutdown stops the broadcast loop and closes every subscriber connection.
func (m *Mirror) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	subs := make([]*subscriber, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.conn.Close()
	}
	m.wg.Wait()
}
