package queue

import (
	"context"
	"errors"

	"github.com/narrativeiq/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const retriesHeader = "x-retries"

// DefaultMaxRetries is how often a message is retried before it lands in the DLQ.
const DefaultMaxRetries = 10

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleFailure routes a failed delivery to the retry queue, or to the DLQ
// once maxRetries is reached. Malformed messages go straight to the DLQ.
// The original delivery is acked only after the copy was published.
func HandleFailure(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, cause error, maxRetries int) {
	retries := retryCount(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + "_retry"
	if retries >= maxRetries || errors.Is(cause, ErrInvalidMessage) {
		target = queueName + "_dlq"
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries, "err", cause)
	} else {
		headers[retriesHeader] = int32(retries + 1)
	}

	if err := PublishFIFO(ctx, ch, target, msg.Body, headers); err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("[Queue] Failed to nack message", "err", nackErr)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
