// Package notify delivers customer notices off the request path. Delivery is
// best effort: failures are logged and counted, never returned to callers.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/buycars/buycars-api/internal/pkg/metrics"
)

// Kinds of notices
const (
	KindPlanActivated    = "plan_activated"
	KindBookingConfirmed = "booking_confirmed"
	KindOwnerCredited    = "owner_credited"
	KindPayoutProcessed  = "payout_processed"
	KindPayoutRejected   = "payout_rejected"
)

const sendTimeout = 15 * time.Second

// Message is one notice to one recipient
type Message struct {
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id,omitempty"`
	Phone     string    `json:"phone"`
	Text      string    `json:"text"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender delivers a single message over one channel
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Channel() string
}

// Notifier is what domain services depend on
type Notifier interface {
	Notify(msgs ...Message)
}

// Dispatcher queues messages and sends them from a fixed pool of workers
type Dispatcher struct {
	sender Sender
	queue  chan Message
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines draining a queue of queueSize
func NewDispatcher(sender Sender, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	d := &Dispatcher{
		sender: sender,
		queue:  make(chan Message, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for msg := range d.queue {
		d.send(msg)
	}
}

func (d *Dispatcher) send(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	channel := d.sender.Channel()
	if err := d.sender.Send(ctx, msg); err != nil {
		metrics.Notifications.WithLabelValues(channel, "error").Inc()
		log.Error().Err(err).
			Str("channel", channel).
			Str("kind", msg.Kind).
			Str("reference", msg.Reference).
			Msg("Failed to send notification")
		return
	}
	metrics.Notifications.WithLabelValues(channel, "sent").Inc()
}

// Notify enqueues messages without blocking. A full queue drops the message.
func (d *Dispatcher) Notify(msgs ...Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, msg := range msgs {
		if d.closed {
			log.Warn().Str("kind", msg.Kind).Msg("Notifier closed, dropping notification")
			continue
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		select {
		case d.queue <- msg:
		default:
			metrics.Notifications.WithLabelValues(d.sender.Channel(), "dropped").Inc()
			log.Warn().Str("kind", msg.Kind).Str("reference", msg.Reference).Msg("Notification queue full, dropping notification")
		}
	}
}

// Close stops accepting messages and waits for queued ones to be sent
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// Discard is a Notifier that drops everything
type Discard struct{}

func (Discard) Notify(...Message) {}
