// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue publishes delivery outcomes to a Redis list so bookkeeping
// and notification consumers can follow invoice runs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/invoicer/internal/models"
)

// DefaultQueue is the list delivery events are pushed to.
const DefaultQueue = "invoicer:deliveries"

// EventType identifies delivery events on a shared queue.
const EventType = "invoice.delivery"

// Publisher pushes delivery events onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Event is the envelope consumers pop from the queue.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	PublishedAt time.Time       `json:"published_at"`
	Delivery    models.Delivery `json:"delivery"`
}

// Record publishes d. Consumers pop from the other end (BRPOP), so events
// are read in the order they were produced.
func (p *Publisher) Record(ctx context.Context, d models.Delivery) error {
	event := Event{
		ID:          uuid.New().String(),
		Type:        EventType,
		PublishedAt: time.Now().UTC(),
		Delivery:    d,
	}

	msg, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal delivery event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(msg)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published delivery event",
		"event_id", event.ID,
		"run_id", d.RunID,
		"recipient", d.Recipient,
		"status", d.Status,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
