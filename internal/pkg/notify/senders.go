package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/buycars/buycars-api/internal/pkg/mpesa"
	"github.com/buycars/buycars-api/internal/pkg/rabbitmq"
	"github.com/buycars/buycars-api/internal/pkg/sms"
)

type smsClient interface {
	Send(ctx context.Context, to, message string) (*sms.Recipient, error)
}

// SMSSender texts the message to the recipient's phone
type SMSSender struct {
	client smsClient
}

func NewSMSSender(client smsClient) *SMSSender {
	return &SMSSender{client: client}
}

func (s *SMSSender) Channel() string { return "sms" }

func (s *SMSSender) Send(ctx context.Context, msg Message) error {
	phone, err := mpesa.NormalizePhone(msg.Phone)
	if err != nil {
		return fmt.Errorf("sms recipient: %w", err)
	}
	_, err = s.client.Send(ctx, mpesa.InternationalPhone(phone), msg.Text)
	return err
}

// AMQPSender publishes the message as an event for a downstream delivery service
type AMQPSender struct {
	publisher rabbitmq.Publisher
}

func NewAMQPSender(publisher rabbitmq.Publisher) *AMQPSender {
	return &AMQPSender{publisher: publisher}
}

func (s *AMQPSender) Channel() string { return "amqp" }

func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	return s.publisher.Publish(ctx, "notification."+msg.Kind, msg)
}

// LogSender writes the message to the log, used in development
type LogSender struct{}

func (LogSender) Channel() string { return "log" }

func (LogSender) Send(_ context.Context, msg Message) error {
	log.Info().
		Str("kind", msg.Kind).
		Str("phone", mpesa.MaskPhone(msg.Phone)).
		Str("text", msg.Text).
		Msg("Notification")
	return nil
}
