// Package rabbitmq announces recorded movements on a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IlyasAtabaev731/movement-ledger/internal/domain/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

const RoutingKeyMovementRecorded = "movement.recorded"

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// MovementRecorded is the event body.
type MovementRecorded struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Amount        string    `json:"amount"`
	Kind          string    `json:"type"`
	CreatedAt     time.Time `json:"created_at"`
}

type Publisher struct {
	channel  Channel
	exchange string
	log      *slog.Logger
}

func NewPublisher(ch Channel, exchange string, log *slog.Logger) *Publisher {
	return &Publisher{channel: ch, exchange: exchange, log: log}
}

// Declare creates the durable topic exchange events are published on.
func Declare(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

func (p *Publisher) PublishMovement(ctx context.Context, tx models.Transaction) error {
	const op = "events.rabbitmq.PublishMovement"

	body, err := json.Marshal(MovementRecorded{
		TransactionID: tx.ID.String(),
		UserID:        tx.UserID,
		Amount:        tx.Amount.String(),
		Kind:          string(tx.Kind),
		CreatedAt:     tx.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKeyMovementRecorded,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    tx.ID.String(),
			Timestamp:    tx.CreatedAt,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.log.Debug("Movement published", slog.String("routing_key", RoutingKeyMovementRecorded), slog.String("transaction_id", tx.ID.String()))
	return nil
}
