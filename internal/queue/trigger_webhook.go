// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
)

// ErrBadSignature is returned when a webhook request's HMAC does not match.
var ErrBadSignature = errors.New("webhook signature mismatch")

// ErrDuplicateEvent is returned when an event_id was already seen within the
// dedup window (spec §4.H: "duplicate event_id within a sliding window is
// dropped").
var ErrDuplicateEvent = errors.New("duplicate webhook event_id")

// WebhookEnqueueFunc enqueues one Run for a validated, non-duplicate event.
type WebhookEnqueueFunc func(eventID string, body []byte) error

// WebhookTrigger validates inbound webhook deliveries by HMAC-SHA256 over
// the raw body and deduplicates by event_id using a Redis sliding window.
// It uses redis/go-redis/v9 deliberately, distinct from the task queue's
// go-redis/v8 client, keeping the current and legacy Redis client
// versions isolated from each other.
type WebhookTrigger struct {
	secret   []byte
	rdb      *redis.Client
	window   time.Duration
	enqueue  WebhookEnqueueFunc
	log      logger.Logger
	keyspace string
}

// NewWebhookTrigger builds a trigger validating against secret, deduping
// event_id values for window via the Redis client at addr.
func NewWebhookTrigger(addr, password string, db int, secret string, window time.Duration, enqueue WebhookEnqueueFunc) *WebhookTrigger {
	return &WebhookTrigger{
		secret: []byte(secret),
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		window:   window,
		enqueue:  enqueue,
		log:      logger.NewLogger("webhook-trigger"),
		keyspace: "deskagent:webhook:seen:",
	}
}

// NewWebhookTriggerWithClient injects an existing redis.Client, the seam
// tests use with miniredis.
func NewWebhookTriggerWithClient(rdb *redis.Client, secret string, window time.Duration, enqueue WebhookEnqueueFunc) *WebhookTrigger {
	return &WebhookTrigger{
		secret:   []byte(secret),
		rdb:      rdb,
		window:   window,
		enqueue:  enqueue,
		log:      logger.NewLogger("webhook-trigger"),
		keyspace: "deskagent:webhook:seen:",
	}
}

// Verify checks sigHex (hex-encoded HMAC-SHA256 of body under the shared
// secret) in constant time.
func (t *WebhookTrigger) Verify(body []byte, sigHex string) error {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return ErrBadSignature
	}
	if subtle.ConstantTimeCompare(expected, got) != 1 {
		return ErrBadSignature
	}
	return nil
}

// Handle validates the signature, rejects a duplicate event_id, and
// otherwise enqueues one run.
func (t *WebhookTrigger) Handle(ctx context.Context, eventID string, body []byte, sigHex string) error {
	if err := t.Verify(body, sigHex); err != nil {
		return err
	}

	key := t.keyspace + eventID
	ok, err := t.rdb.SetNX(ctx, key, 1, t.window).Result()
	if err != nil {
		return fmt.Errorf("dedup check failed: %w", err)
	}
	if !ok {
		return ErrDuplicateEvent
	}

	return t.enqueue(eventID, body)
}

func (t *WebhookTrigger) Close() error {
	return t.rdb.Close()
}
