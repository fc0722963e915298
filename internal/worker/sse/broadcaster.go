// Package sse streams merge events to HTTP clients as Server-Sent Events.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// WriteTimeout bounds a single write to a client connection.
	WriteTimeout = 2 * time.Second

	// ClientBuffer is how many messages may queue for one client. A client that falls
	// further behind is dropped.
	ClientBuffer = 64
)

// Event types.
const (
	EventConnected   = "connected"
	EventRunComplete = "run_complete"
	EventRunDeleted  = "run_deleted"
	EventConfig      = "config_reloaded"
)

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client is a connected SSE client. Only the goroutine serving the client's request
// writes to the connection; everyone else queues on send.
type Client struct {
	ID   string
	Done chan struct{}

	send      chan []byte
	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// Broadcaster fans events out to every connected client.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient registers a client with an empty queue.
func (b *Broadcaster) AddClient() *Client {
	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:   fmt.Sprintf("client-%d", b.nextID),
		Done: make(chan struct{}),
		send: make(chan []byte, ClientBuffer),
	}
	b.clients[client.ID] = client
	total := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", client.ID).Int("totalClients", total).Msg("SSE client connected")
	return client
}

// RemoveClient unregisters a client and closes its Done channel.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	total := len(b.clients)
	b.mu.Unlock()

	client.close()
	log.Debug().Str("clientId", client.ID).Int("totalClients", total).Msg("SSE client disconnected")
}

// Publish sends an event of the given type to all clients.
func (b *Broadcaster) Publish(eventType string, data any) {
	b.Broadcast(Event{Type: eventType, Data: data})
}

// Broadcast queues a JSON-encoded message for every client without blocking.
// Clients whose queue is full are removed.
func (b *Broadcaster) Broadcast(data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}
	message := formatMessage(payload)

	var slow []*Client
	b.mu.RLock()
	for _, c := range b.clients {
		select {
		case c.send <- message:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("clientId", c.ID).Int("buffer", ClientBuffer).Msg("SSE client too slow, dropping")
		b.RemoveClient(c)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE serves an event stream until the request ends or the client is dropped.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := b.AddClient()
	defer b.RemoveClient(client)

	rc := http.NewResponseController(w)
	write := func(message []byte) error {
		// Not every writer supports deadlines; those just write without one.
		_ = rc.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := w.Write(message); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	hello, _ := json.Marshal(Event{Type: EventConnected, Data: map[string]string{"clientId": client.ID}})
	if err := write(formatMessage(hello)); err != nil {
		return
	}

	for {
		select {
		case message := <-client.send:
			if err := write(message); err != nil {
				log.Debug().Str("clientId", client.ID).Err(err).Msg("SSE write failed, dropping client")
				return
			}
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		}
	}
}

func formatMessage(payload []byte) []byte {
	return []byte(fmt.Sprintf("data: %s\n\n", payload))
}
