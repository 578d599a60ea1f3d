package repository

import (
	"context"

	"RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
	pkgkafka "RegimePull/pkg/kafka"
)

// KafkaSnapshotPublisher implements SnapshotPublisher over a Kafka producer.
// Messages are keyed by instrument so the hash balancer preserves per
// instrument ordering downstream.
type KafkaSnapshotPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaSnapshotPublisher(producer *pkgkafka.Producer, topic string) domrepo.SnapshotPublisher {
	return &KafkaSnapshotPublisher{producer: producer, topic: topic}
}

func (p *KafkaSnapshotPublisher) Publish(ctx context.Context, s *models.RegimeSnapshot) error {
	return p.producer.Publish(ctx, p.topic, []byte(s.InstrumentID), s)
}

func (p *KafkaSnapshotPublisher) Close() error {
	return p.producer.Close()
}
