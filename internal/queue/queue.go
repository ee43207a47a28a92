package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/narrativeiq/backend/internal/util"
	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp091.Channel used to publish messages.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Declarer is the part of *amqp091.Channel used to declare queues.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

const retryDelayMs = int32(10000)

func Init() (*amqp091.Connection, error) {
	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnv("RABBITMQ_USER"),
		util.GetEnv("RABBITMQ_PASSWORD"),
		util.GetEnvString("RABBITMQ_HOST", "localhost"),
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares each work queue together with its "_retry" queue,
// which dead-letters back into the work queue after a delay, and its "_dlq".
func SetupQueues(ch Declarer, queueNames []string) error {
	for _, name := range queueNames {
		declarations := []struct {
			name string
			args amqp091.Table
		}{
			{name: name},
			{name: name + "_dlq"},
			{name: name + "_retry", args: amqp091.Table{
				"x-message-ttl":             retryDelayMs,
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			}},
		}
		for _, d := range declarations {
			if _, err := ch.QueueDeclare(d.name, true, false, false, false, d.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", d.name, err)
			}
		}
		logger.Debug("[Queue] Declared queue", "queue", name)
	}
	return nil
}

// PublishFIFO publishes a persistent message to the default exchange.
func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte, headers amqp091.Table) error {
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}
