package queue

import (
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const DefaultMaxRetries = 10

// RetryCount reads the x-retries header. Brokers hand integers back in
// different widths depending on who wrote them.
func RetryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int16:
		return int(v)
	case int8:
		return int(v)
	default:
		return 0
	}
}

// HandleProcessingError moves a failed delivery to the retry queue, or to the
// dead letter queue once maxRetries is reached. The original delivery is
// acked after the copy was published and requeued if publishing failed.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string, maxRetries int) {
	retries := RetryCount(msg.Headers)

	if retries >= maxRetries {
		dlqName := queueName + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType:  msg.ContentType,
				Body:         msg.Body,
				Headers:      msg.Headers,
				DeliveryMode: amqp091.Persistent,
			},
		)
		if pubErr != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
