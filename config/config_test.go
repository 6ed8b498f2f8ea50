package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConsumerGroupDefaults(t *testing.T) {
	t.Setenv("KAFKA_CONSUMER_GROUP", "")
	t.Setenv("KAFKA_RECEIPT_GROUP", "")

	cfg := Load()
	assert.Equal(t, "resto-backend-group", cfg.Kafka.ConsumerGroup)
	assert.Equal(t, "resto-receipt-group", cfg.Kafka.ReceiptGroup)

	// The two workers must sit in separate groups so each sees every event.
	assert.NotEqual(t, cfg.Kafka.ConsumerGroup, cfg.Kafka.ReceiptGroup)
}

func TestLoadConsumerGroupOverrides(t *testing.T) {
	t.Setenv("KAFKA_CONSUMER_GROUP", "notify-blue")
	t.Setenv("KAFKA_RECEIPT_GROUP", "receipts-blue")

	cfg := Load()
	assert.Equal(t, "notify-blue", cfg.Kafka.ConsumerGroup)
	assert.Equal(t, "receipts-blue", cfg.Kafka.ReceiptGroup)
}
