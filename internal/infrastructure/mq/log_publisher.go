package mq

import (
	"context"

	"loyaltysystem/internal/config"

	log "github.com/sirupsen/logrus"
)

// LogPublisher writes messages to the log instead of a broker. Used when no
// broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	log.WithFields(log.Fields{
		"topic":   topic,
		"key":     key,
		"payload": string(payload),
	}).Info("outbox message")
	return nil
}

func (LogPublisher) Close() error { return nil }

// New builds the publisher selected by cfg.Driver.
func New(cfg *config.MQConfig) (Publisher, error) {
	switch cfg.Driver {
	case "kafka":
		return NewKafkaPublisher(&cfg.Kafka)
	case "rabbitmq":
		return NewRabbitMQPublisher(&cfg.RabbitMQ)
	default:
		return LogPublisher{}, nil
	}
}
