package queue

import (
	"context"
	"log"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// OrderEventHandler is the slice of the order service the consumer drives.
type OrderEventHandler interface {
	CancelIfUnpaid(ctx context.Context, orderID string) error
}

// StartOrderConsumer drains the order queue in a background goroutine. The
// loop ends when the channel closes, e.g. on shutdown.
func StartOrderConsumer(r *RabbitMQ, handler OrderEventHandler) error {
	msgs, err := r.Channel.Consume(
		r.Cfg.OrderQueue,
		"track-and-trace", // consumer tag
		false,             // auto-ack
		false,             // exclusive
		false,             // no-local
		false,             // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgs {
			processOrderMessage(msg, handler)
		}
	}()
	return nil
}

func processOrderMessage(msg amqp.Delivery, handler OrderEventHandler) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("queue: recovered from panic in message processing: %v", rec)
		}
	}()

	parts := strings.SplitN(string(msg.Body), "|", 2)
	if len(parts) < 2 {
		log.Printf("queue: invalid message format: %s", msg.Body)
		msg.Nack(false, false)
		return
	}
	orderID, eventType := parts[0], parts[1]

	switch eventType {
	case "payment_check":
		// Fires after the grace period; a no-op if the order got paid or
		// was already cancelled in the meantime.
		if err := handler.CancelIfUnpaid(context.Background(), orderID); err != nil {
			log.Printf("queue: payment check for order %s failed: %v", orderID, err)
			msg.Nack(false, true)
			return
		}
	case "created", "status_updated", "cancelled":
		// Emitted for downstream services; nothing to do locally.
	default:
		log.Printf("queue: unknown event type %q for order %s", eventType, orderID)
	}

	msg.Ack(false)
}
