package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HeaderCallbackURL carries the callback URL on AMQP job messages.
const HeaderCallbackURL = "callback-url"

// DeclareQueue declares the durable job queue. Publisher and consumer both
// call it so either side can start first.
func DeclareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

// AMQPPublisher publishes jobs to a RabbitMQ queue. The channel is reopened
// after the broker closes it.
type AMQPPublisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, queue: queue}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return fmt.Errorf("dial broker: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := DeclareQueue(ch, p.queue); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", p.queue, err)
	}
	p.ch = ch
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	return p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%s-%d", msg.VideoID, time.Now().UnixNano()),
			Timestamp:    time.Now(),
			Headers:      amqp.Table{HeaderCallbackURL: msg.CallbackURL},
			Body:         msg.Body,
		})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil && !p.conn.IsClosed() {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// Delivery is one consumed job message.
type Delivery struct {
	MessageID   string
	CallbackURL string
	Body        []byte
}

// Consume runs handle for every message on the queue until ctx is done.
// prefetch bounds the number of unacknowledged jobs. A handler error
// requeues the message once; redelivered messages that fail again are
// dropped.
func Consume(ctx context.Context, url, queue string, prefetch int, handle func(context.Context, Delivery) error) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := DeclareQueue(ch, queue)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	slog.Info("consuming jobs", "queue", q.Name, "prefetch", prefetch)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("broker closed the delivery channel")
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				cb, _ := d.Headers[HeaderCallbackURL].(string)
				err := handle(ctx, Delivery{MessageID: d.MessageId, CallbackURL: cb, Body: d.Body})
				if err == nil {
					d.Ack(false)
					return
				}
				slog.Error("job handler failed", "message_id", d.MessageId, "redelivered", d.Redelivered, "error", err)
				d.Nack(false, !d.Redelivered)
			}(d)
		}
	}
}
