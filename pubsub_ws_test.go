package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestBrokerServer(t *testing.T) string {
	t.Helper()
	hub := NewBrokerHub()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSBusPublishSubscribeThroughBroker(t *testing.T) {
	addr := newTestBrokerServer(t)

	publisher, err := NewWSBus([]string{addr}, 0)
	if err != nil {
		t.Fatalf("NewWSBus(publisher): %v", err)
	}
	defer publisher.Close()

	subscriber, err := NewWSBus([]string{addr}, 0)
	if err != nil {
		t.Fatalf("NewWSBus(subscriber): %v", err)
	}
	defer subscriber.Close()

	received := make(chan Envelope, 1)
	if err := subscriber.Subscribe(TopicBlocks, func(env Envelope) {
		received <- env
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := publisher.Publish(TopicBlocks, map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-received:
		if env.Topic != TopicBlocks {
			t.Fatalf("received envelope topic = %s, want %s", env.Topic, TopicBlocks)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for relayed envelope")
	}
}

func TestWSBusPublishFailsWithNoBrokers(t *testing.T) {
	bus := &wsBus{handlers: make(map[string][]func(Envelope))}
	if err := bus.Publish(TopicMetrics, map[string]int{"x": 1}); err == nil {
		t.Fatalf("expected an error publishing with no broker connections")
	}
}

func TestNewWSBusFailsWhenNoBrokerReachable(t *testing.T) {
	_, err := NewWSBus([]string{"ws://127.0.0.1:1"}, 0)
	if err == nil {
		t.Fatalf("expected an error constructing a bus with no reachable broker")
	}
}
