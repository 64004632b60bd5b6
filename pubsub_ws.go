package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsBus is a Bus backed by one or more broker relay connections. Each
// broker is a BrokerHub (below) reached over a plain WebSocket; the bus
// keeps a goroutine-per-connection read loop, dispatching inbound
// envelopes to subscribed handlers by topic, mirroring the
// goroutine-per-stream shape of a P2P read loop but over a small set of
// relay brokers instead of direct peer connections.
type wsBus struct {
	mu       sync.RWMutex
	conns    []*websocket.Conn
	handlers map[string][]func(Envelope)

	dialer        *websocket.Dialer
	retryAttempts int
}

// NewWSBus dials every broker address in order, skipping (and logging)
// any that refuse the connection; TransportError semantics (§7): the bus
// fails only if no broker is reachable. Publish writes to every connected
// broker, so a lost broker doesn't stop delivery through the others. A
// connection that drops is not redialed, and its read loop stops.
func NewWSBus(brokerAddrs []string, retryAttempts int) (*wsBus, error) {
	bus := &wsBus{
		handlers:      make(map[string][]func(Envelope)),
		dialer:        websocket.DefaultDialer,
		retryAttempts: retryAttempts,
	}

	var lastErr error
	for _, addr := range brokerAddrs {
		conn, err := bus.dialWithRetry(addr)
		if err != nil {
			lastErr = err
			PrintWarning(fmt.Sprintf("broker %s unreachable: %v", addr, err))
			continue
		}
		bus.conns = append(bus.conns, conn)
		go bus.readLoop(conn)
	}
	if len(bus.conns) == 0 {
		return nil, fmt.Errorf("%w: no broker reachable out of %d configured: %v", ErrTransport, len(brokerAddrs), lastErr)
	}
	return bus, nil
}

func (b *wsBus) dialWithRetry(addr string) (*websocket.Conn, error) {
	var err error
	for attempt := 0; attempt <= b.retryAttempts; attempt++ {
		var conn *websocket.Conn
		conn, _, err = b.dialer.Dial(addr, nil)
		if err == nil {
			return conn, nil
		}
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	return nil, err
}

// readLoop dispatches every inbound envelope to the handlers registered
// for its topic. A malformed frame is dropped silently (ValidationError
// territory — the payload is opaque to the bus).
func (b *wsBus) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			PrintWarning(fmt.Sprintf("broker connection lost: %v", err))
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		b.mu.RLock()
		handlers := append([]func(Envelope){}, b.handlers[env.Topic]...)
		b.mu.RUnlock()

		for _, h := range handlers {
			go h(env)
		}
	}
}

// Publish wraps payload in an envelope and writes it to every connected
// broker. A write failure on one broker is skipped and doesn't stop
// publication to the rest; an error is returned only if every write
// fails.
func (b *wsBus) Publish(topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshaling payload for topic %s: %v", ErrTransport, topic, err)
	}
	env := Envelope{ID: uuid.NewString(), Topic: topic, Payload: body}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: marshaling envelope for topic %s: %v", ErrTransport, topic, err)
	}

	b.mu.RLock()
	conns := append([]*websocket.Conn{}, b.conns...)
	b.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("%w: no broker connections available", ErrTransport)
	}

	var lastErr error
	delivered := 0
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("%w: publish to topic %s failed on every broker: %v", ErrTransport, topic, lastErr)
	}
	return nil
}

// Subscribe registers handler for topic. Safe to call concurrently with
// Publish and with in-flight readLoop dispatch.
func (b *wsBus) Subscribe(topic string, handler func(Envelope)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Close tears down every broker connection.
func (b *wsBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lastErr error
	for _, conn := range b.conns {
		if err := conn.Close(); err != nil {
			lastErr = err
		}
	}
	b.conns = nil
	return lastErr
}

// BrokerHub is a minimal redundant relay: every envelope a client sends
// is rebroadcast to every other connected client. Running one or more
// of these is what makes wsBus's "redundant brokers" promise concrete.
type BrokerHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewBrokerHub returns an empty hub ready to be mounted at an HTTP path.
func NewBrokerHub() *BrokerHub {
	return &BrokerHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the connection and runs its read loop, rebroadcasting
// every frame it receives to every other registered client.
func (h *BrokerHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		PrintError(fmt.Sprintf("broker upgrade failed: %v", err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.broadcast(conn, msgType, raw)
	}
}

func (h *BrokerHub) broadcast(from *websocket.Conn, msgType int, raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client == from {
			continue
		}
		if err := client.WriteMessage(msgType, raw); err != nil {
			PrintWarning(fmt.Sprintf("broker relay write failed: %v", err))
		}
	}
}
