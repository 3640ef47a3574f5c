package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

type queuedMessage struct {
	msg       amqp091.Delivery
	queueName string
}

// Consume delivers messages of all queues one at a time to handler until ctx
// ends. A single channel with prefetch 1 keeps only one message in flight
// across the queues.
func Consume(ctx context.Context, conn *amqp091.Connection, queues []string, handler *Handler, maxRetries int) error {
	consumerCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	messageChan := make(chan queuedMessage)
	for _, qName := range queues {
		msgs, err := consumerCh.Consume(
			qName,
			qName+"_consumer",
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("failed to start consuming %s: %w", qName, err)
		}

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("[Queue] Message channel closed", "queue", qName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	logger.Info("[Queue] Listening for messages", "queues", queues)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping message processor")
			return nil
		case qm := <-messageChan:
			startTime := time.Now()
			logger.Info("[Queue] Received message", "queue", qm.queueName)

			if err := handler.Handle(ctx, qm.queueName, qm.msg.Body); err != nil {
				logger.Error("[Queue] Error processing message", "queue", qm.queueName, "err", err)
				HandleProcessingError(consumerCh, qm.msg, qm.queueName, maxRetries)
			} else {
				if err := qm.msg.Ack(false); err != nil {
					logger.Error("[Queue] Failed to ack message", "err", err)
				}
			}

			d := time.Since(startTime)
			logger.Info(
				"[Queue] Processing time",
				"queue", qm.queueName,
				"duration", fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60),
			)
		}
	}
}
