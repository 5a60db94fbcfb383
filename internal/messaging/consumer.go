package messaging

import (
	"context"
	"encoding/json"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"thumbforge/internal/config"
)

// WakeFunc вызывается на каждый wake-сигнал. Возвращаемого значения нет:
// сигнал подтверждается всегда, обработка очереди задач идемпотентна.
type WakeFunc func(ctx context.Context, payload JobQueuedPayload)

// StartWakeConsumer запускает прослушивание очереди wake-сигналов.
// Блокирует до закрытия канала или отмены контекста.
func StartWakeConsumer(ctx context.Context, conn *amqp091.Connection, cfg config.RabbitMQConfig, logger *zap.Logger, wake WakeFunc) {
	log := logger.Named("WakeConsumer")

	ch, err := conn.Channel()
	if err != nil {
		log.Error("Failed to open RabbitMQ channel for consumer", zap.Error(err))
		return
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		cfg.WakeQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		log.Error("Failed to declare wake queue", zap.String("queue", cfg.WakeQueue), zap.Error(err))
		return
	}
	log.Info("Wake queue declared", zap.String("queue", q.Name), zap.Int("messages", q.Messages))

	// Воркер и так берет по одной задаче; больше одного сигнала за раз не нужно.
	if err := ch.Qos(1, 0, false); err != nil {
		log.Error("Failed to set QoS", zap.Error(err))
		return
	}

	msgs, err := ch.Consume(
		q.Name,
		cfg.ConsumerName,
		false, // auto-ack (подтверждаем вручную)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		log.Error("Failed to register consumer", zap.String("queue", q.Name), zap.Error(err))
		return
	}

	log.Info("Wake consumer started, waiting for signals...")

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				log.Warn("Consumer channel closed by RabbitMQ")
				return
			}

			var payload JobQueuedPayload
			if err := json.Unmarshal(msg.Body, &payload); err != nil {
				// Сигнал информационный, формат не критичен - будим воркер в любом случае.
				log.Warn("Failed to unmarshal wake payload, waking anyway", zap.Error(err), zap.ByteString("body", msg.Body))
			}

			wake(ctx, payload)

			if ackErr := msg.Ack(false); ackErr != nil {
				log.Error("Failed to ack wake message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(ackErr))
			}
		case <-ctx.Done():
			log.Info("Context cancelled, stopping wake consumer...")
			return
		}
	}
}
