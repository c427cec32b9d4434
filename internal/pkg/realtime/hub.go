// Package realtime pushes payment status changes to connected payers over
// websockets. Events are fanned out between API instances through Redis.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/buycars/buycars-api/internal/pkg/metrics"
)

const eventsChannel = "realtime:payments"

// EventPaymentStatus is sent when a payment reaches a final state
const EventPaymentStatus = "payment_status"

// Event is the JSON frame clients receive
type Event struct {
	Type              string    `json:"type"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Status            string    `json:"status"`
	Description       string    `json:"description,omitempty"`
	Receipt           string    `json:"receipt,omitempty"`
	At                time.Time `json:"at"`
}

// Publisher is what the reconciler depends on
type Publisher interface {
	Publish(userID uuid.UUID, event Event)
}

type envelope struct {
	UserID           string          `json:"user_id"`
	Payload          json.RawMessage `json:"payload"`
	SenderInstanceID string          `json:"sender_instance_id"`
}

// Client is one websocket connection
type Client struct {
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub tracks local connections per user
type Hub struct {
	connections map[uuid.UUID]map[*Client]bool
	mu          sync.RWMutex

	redis  *redis.Client
	pubsub *redis.PubSub

	register   chan *Client
	unregister chan *Client

	ctx        context.Context
	cancel     context.CancelFunc
	instanceID string
}

// NewHub creates a hub. A nil redis client keeps delivery local.
func NewHub(redisClient *redis.Client) *Hub {
	h := newHub(redisClient)
	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(h.ctx, eventsChannel)
	}
	return h
}

// NewPublisher returns a hub that only forwards events to other instances.
// Processes that hold no websocket connections use it.
func NewPublisher(redisClient *redis.Client) *Hub {
	return newHub(redisClient)
}

func newHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		connections: make(map[uuid.UUID]map[*Client]bool),
		redis:       redisClient,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  uuid.NewString(),
	}
	return h
}

// Run starts the hub (call in goroutine)
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.connections[c.UserID] == nil {
				h.connections[c.UserID] = make(map[*Client]bool)
			}
			h.connections[c.UserID][c] = true
			h.mu.Unlock()
			metrics.RealtimeConnections.Inc()
			log.Debug().Str("user_id", c.UserID.String()).Msg("Payment status stream connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.connections[c.UserID]; ok {
				if conns[c] {
					delete(conns, c)
					close(c.Send)
					metrics.RealtimeConnections.Dec()
				}
				if len(conns) == 0 {
					delete(h.connections, c.UserID)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.handleRemote(msg.Payload)
		}
	}
}

func (h *Hub) handleRemote(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return
	}
	if env.SenderInstanceID == h.instanceID {
		return
	}
	userID, err := uuid.Parse(env.UserID)
	if err != nil {
		return
	}
	h.sendLocal(userID, env.Payload)
}

// Register adds a connection
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister removes a connection
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// Publish delivers event to every connection of userID on any instance
func (h *Hub) Publish(userID uuid.UUID, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal realtime event")
		return
	}

	h.sendLocal(userID, data)

	if h.redis == nil {
		return
	}
	payload, err := json.Marshal(envelope{
		UserID:           userID.String(),
		Payload:          data,
		SenderInstanceID: h.instanceID,
	})
	if err != nil {
		return
	}
	if err := h.redis.Publish(h.ctx, eventsChannel, payload).Err(); err != nil {
		log.Warn().Err(err).Msg("Realtime redis publish failed")
	}
}

func (h *Hub) sendLocal(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.connections[userID] {
		select {
		case c.Send <- data:
		default:
			log.Warn().Str("user_id", userID.String()).Msg("WebSocket send buffer full")
		}
	}
}

// ConnectionCount returns number of local connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.connections {
		total += len(conns)
	}
	return total
}

// Shutdown stops the hub
func (h *Hub) Shutdown() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}
