// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
)

// Backend is a distributed transport items can ride between the process
// that enqueues a run and the process that runs Pool.Run — the pack's
// equivalent of swapping SQL drivers under the store: one interface, more
// than one concrete implementation (spec §4.H).
type Backend interface {
	Publish(ctx context.Context, item *Item) error
	// Pump reads items from the backend until ctx is cancelled, feeding
	// each into local via Enqueue.
	Pump(ctx context.Context, local *Queue) error
	Close() error
}

// RedisListBackend publishes/consumes items through a Redis list with
// RPush/BLPop, grounded on the task queue's own redis_queue.go.
type RedisListBackend struct {
	client *goredis.Client
	key    string
	log    logger.Logger
}

func NewRedisListBackend(addr, password string, db int, key string) *RedisListBackend {
	return &RedisListBackend{
		client: goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db}),
		key:    key,
		log:    logger.NewLogger("queue-redis-backend"),
	}
}

func (b *RedisListBackend) Publish(ctx context.Context, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	return b.client.RPush(ctx, b.key, data).Err()
}

func (b *RedisListBackend) Pump(ctx context.Context, local *Queue) error {
	for {
		result, err := b.client.BLPop(ctx, 0, b.key).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("blpop: %w", err)
		}
		if len(result) < 2 {
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			b.log.Warnf("dropping malformed item: %v", err)
			continue
		}
		if err := local.Enqueue(&item); err != nil {
			b.log.Warnf("local enqueue failed: %v", err)
		}
	}
}

func (b *RedisListBackend) Close() error { return b.client.Close() }

// KafkaBackend publishes/consumes items through a Kafka topic. Only one
// Kafka client is wired into the module (segmentio/kafka-go); see
// DESIGN.md for why IBM/sarama is not also wired for the same concern.
type KafkaBackend struct {
	writer *kafka.Writer
	reader *kafka.Reader
	log    logger.Logger
}

func NewKafkaBackend(brokers []string, topic, groupID string) *KafkaBackend {
	return &KafkaBackend{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		log: logger.NewLogger("queue-kafka-backend"),
	}
}

func (b *KafkaBackend) Publish(ctx context.Context, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	return b.writer.WriteMessages(ctx, kafka.Message{Value: data})
}

func (b *KafkaBackend) Pump(ctx context.Context, local *Queue) error {
	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka read: %w", err)
		}
		var item Item
		if err := json.Unmarshal(msg.Value, &item); err != nil {
			b.log.Warnf("dropping malformed item: %v", err)
			continue
		}
		if err := local.Enqueue(&item); err != nil {
			b.log.Warnf("local enqueue failed: %v", err)
		}
	}
}

func (b *KafkaBackend) Close() error {
	_ = b.reader.Close()
	return b.writer.Close()
}
