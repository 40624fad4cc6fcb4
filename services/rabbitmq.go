package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const userRoutingPrefix = "user."

// userEvent is the body published on the exchange.
type userEvent struct {
	User  string          `json:"user"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AMQPNotifier fans user notifications out to every node through a topic
// exchange. Each node consumes from its own exclusive queue bound to
// user.* and delivers to its local connections.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	registry *ConnRegistry
	metrics  *Metrics
	logger   *zap.Logger
}

func NewAMQPNotifier(url, exchange string, registry *ConnRegistry, metrics *Metrics, logger *zap.Logger) (*AMQPNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	logger.Info("rabbitmq notifier ready", zap.String("exchange", exchange))
	return &AMQPNotifier{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func (n *AMQPNotifier) NotifyUser(ctx context.Context, user string, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	body, err := json.Marshal(userEvent{User: user, Event: ev.Name, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = n.channel.PublishWithContext(ctx,
		n.exchange,
		userRoutingPrefix+user,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		n.metrics.recordNotification("error")
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	n.metrics.recordNotification("published")
	return nil
}

// Consume delivers notifications published by any node to local
// connections until ctx is done or the channel closes.
func (n *AMQPNotifier) Consume(ctx context.Context) error {
	q, err := n.channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := n.channel.QueueBind(q.Name, userRoutingPrefix+"*", n.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := n.channel.Consume(
		q.Name,
		"",
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("notification channel closed")
			}
			n.dispatch(msg.Body)
		}
	}
}

func (n *AMQPNotifier) dispatch(body []byte) {
	var ue userEvent
	if err := json.Unmarshal(body, &ue); err != nil {
		n.logger.Warn("dropping malformed notification", zap.Error(err))
		return
	}
	ev := Event{Name: ue.Event}
	if len(ue.Data) > 0 {
		ev.Data = ue.Data
	}
	n.registry.BroadcastToUser(ue.User, ev)
}

func (n *AMQPNotifier) Close() error {
	if err := n.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		_ = n.conn.Close()
		return err
	}
	return n.conn.Close()
}
