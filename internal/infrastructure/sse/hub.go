package sse

import (
	"errors"
	"sync"

	"github.com/willexec/willexec/internal/domain/event"
)

var (
	ErrClientNotFound = errors.New("SSE client not found")
	ErrChannelFull    = errors.New("SSE message channel full")
)

const clientBuffer = 64

// Client is one subscribed SSE connection.
type Client struct {
	ClientID    string
	Types       map[event.Type]struct{}
	MessageChan chan *event.Event
	closeOnce   sync.Once
}

// NewClient creates a client. An empty types list subscribes to everything.
func NewClient(clientID string, types []event.Type) *Client {
	c := &Client{
		ClientID:    clientID,
		MessageChan: make(chan *event.Event, clientBuffer),
	}
	if len(types) > 0 {
		c.Types = make(map[event.Type]struct{}, len(types))
		for _, t := range types {
			c.Types[t] = struct{}{}
		}
	}
	return c
}

func (c *Client) wants(t event.Type) bool {
	if c.Types == nil {
		return true
	}
	_, ok := c.Types[t]
	return ok
}

// Close closes the message channel once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.MessageChan) })
}

// Hub manages SSE clients and implements event.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[client.ClientID]; ok {
		old.Close()
	}
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends ev to every interested client, dropping it for clients
// whose buffer is full.
func (h *Hub) Publish(ev *event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.wants(ev.Type) {
			trySend(c, ev)
		}
	}
}

func (h *Hub) SendToClient(clientID string, ev *event.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[clientID]
	if c == nil {
		return ErrClientNotFound
	}
	if !trySend(c, ev) {
		return ErrChannelFull
	}
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *Client, ev *event.Event) bool {
	select {
	case c.MessageChan <- ev:
		return true
	default:
		return false
	}
}
