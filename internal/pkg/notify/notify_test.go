package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buycars/buycars-api/internal/pkg/sms"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []Message
	err   error
	block chan struct{}
}

func (s *recordingSender) Channel() string { return "test" }

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func (s *recordingSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

func TestDispatcherDeliversOnClose(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, 2, 10)

	d.Notify(PlanActivated("u1", "0712345678", "NLJ7RT61SV"), BookingConfirmed("u2", "0722000000", "NLJ7RT61SW"))
	d.Close()

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.False(t, m.CreatedAt.IsZero())
	}
}

func TestDispatcherSwallowsSendErrors(t *testing.T) {
	sender := &recordingSender{err: errors.New("provider down")}
	d := NewDispatcher(sender, 1, 10)

	d.Notify(PlanActivated("u1", "0712345678", "R1"))
	d.Close()

	assert.Len(t, sender.messages(), 1)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	d := NewDispatcher(sender, 1, 1)

	// first message is taken by the worker, second fills the queue
	d.Notify(PlanActivated("u1", "0712345678", "R1"))
	time.Sleep(20 * time.Millisecond)
	d.Notify(PlanActivated("u1", "0712345678", "R2"))
	d.Notify(PlanActivated("u1", "0712345678", "R3"))

	close(sender.block)
	d.Close()

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "R1", msgs[0].Reference)
	assert.Equal(t, "R2", msgs[1].Reference)
}

func TestNotifyAfterCloseIsDropped(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, 1, 1)
	d.Close()
	d.Close()

	d.Notify(PlanActivated("u1", "0712345678", "R1"))
	assert.Empty(t, sender.messages())
}

func TestMessageTexts(t *testing.T) {
	assert.Equal(t, "Plan Active! Receipt: ABC", PlanActivated("", "", "ABC").Text)
	assert.Equal(t, "Booking Confirmed! Receipt: ABC", BookingConfirmed("", "", "ABC").Text)
	assert.Equal(t, "Plan Active!", PlanActivated("", "", "").Text)
	assert.Equal(t, "Booking Confirmed!", BookingConfirmed("", "", "").Text)
	assert.Equal(t,
		"You earned KES 4,500.00 from a new booking! Wallet Bal: KES 12,000.00",
		OwnerCredited("", "", "Booking #1", decimal.NewFromInt(4500), decimal.NewFromInt(12000)).Text)
}

type fakeSMS struct {
	to, text string
}

func (f *fakeSMS) Send(_ context.Context, to, message string) (*sms.Recipient, error) {
	f.to, f.text = to, message
	return &sms.Recipient{StatusCode: 101}, nil
}

func TestSMSSenderFormatsRecipient(t *testing.T) {
	client := &fakeSMS{}
	s := NewSMSSender(client)

	require.NoError(t, s.Send(context.Background(), PlanActivated("u1", "0712 345 678", "R1")))
	assert.Equal(t, "+254712345678", client.to)
	assert.Equal(t, "Plan Active! Receipt: R1", client.text)

	assert.Error(t, s.Send(context.Background(), PlanActivated("u1", "123", "R1")))
}

type fakePublisher struct {
	key  string
	body interface{}
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, body interface{}) error {
	f.key, f.body = routingKey, body
	return nil
}

func (f *fakePublisher) Close() {}

func TestAMQPSenderRoutingKey(t *testing.T) {
	pub := &fakePublisher{}
	msg := BookingConfirmed("u1", "0712345678", "R1")

	require.NoError(t, NewAMQPSender(pub).Send(context.Background(), msg))
	assert.Equal(t, "notification.booking_confirmed", pub.key)
	assert.Equal(t, msg, pub.body)
}
