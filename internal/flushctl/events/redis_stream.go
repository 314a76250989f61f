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

// Package events implements the "work scheduler" role from spec.md §1/§6.2
// for deployments where access/size notifications arrive over a message
// transport instead of an in-process call: each source here parses inbound
// messages into RecordAccess/RecordSize events and forwards them to an
// EventSink (satisfied by *flushctl.Executor).
package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"wbfc/pkg/wbfc"
)

// EventSink receives parsed intake events. *flushctl.Executor implements
// this without either package importing the other's concrete type.
type EventSink interface {
	RecordAccess(region wbfc.RegionID, at time.Time)
	RecordSize(region wbfc.RegionID, size uint64)
}

// RedisStreamReader abstracts the subset of a Redis Streams client this
// source needs, the same way the teacher's RedisEvaler abstracts EVAL.
type RedisStreamReader interface {
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XStream, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// LoggingRedisStreamReader is a dependency-free stand-in used when no
// Redis deployment is available, mirroring the teacher's
// LoggingRedisEvaler: it lets a demo select the Redis-backed ingress
// without requiring a live broker.
type LoggingRedisStreamReader struct{}

func (LoggingRedisStreamReader) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XStream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	fmt.Printf("[redis-stream-demo] ReadGroup stream=%s group=%s consumer=%s count=%d\n", stream, group, consumer, count)
	<-time.After(block)
	return nil, nil
}

func (LoggingRedisStreamReader) Ack(ctx context.Context, stream, group string, ids ...string) error {
	fmt.Printf("[redis-stream-demo] Ack stream=%s group=%s ids=%v\n", stream, group, ids)
	return nil
}

// GoRedisStreamReader is a production-ready RedisStreamReader backed by
// github.com/redis/go-redis/v9, grounded on the teacher's GoRedisEvaler.
type GoRedisStreamReader struct{ c *redis.Client }

// NewGoRedisStreamReader dials a Redis client at addr.
func NewGoRedisStreamReader(addr string) *GoRedisStreamReader {
	return &GoRedisStreamReader{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisStreamReader) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XStream, error) {
	return g.c.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
}

func (g *GoRedisStreamReader) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return g.c.XAck(ctx, stream, group, ids...).Err()
}

// RedisStreamSource polls a Redis Stream for RecordAccess/RecordSize
// messages and applies them to an EventSink. Messages use three fields:
// "kind" ("access" or "size"), "region" (decimal RegionID), and either
// "time" (RFC3339Nano) or "bytes" (decimal uint64) depending on kind.
type RedisStreamSource struct {
	reader   RedisStreamReader
	sink     EventSink
	stream   string
	group    string
	consumer string
}

// NewRedisStreamSource wires a source over an existing stream+consumer
// group (the group must already exist; XGROUP CREATE is an operational
// concern left to deployment tooling, the way the teacher never manages
// Redis topology from inside the service).
func NewRedisStreamSource(reader RedisStreamReader, sink EventSink, stream, group, consumer string) *RedisStreamSource {
	return &RedisStreamSource{reader: reader, sink: sink, stream: stream, group: group, consumer: consumer}
}

// Run polls until ctx is canceled, applying every message it reads and
// acking it right after the apply attempt; malformed messages are logged,
// skipped and acked as well, so they are not redelivered (at-least-once
// delivery: a crash between apply and ack may redeliver, which is harmless
// since RecordAccess/RecordSize are both idempotent-by-overwrite).
func (s *RedisStreamSource) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		streams, err := s.reader.ReadGroup(ctx, s.stream, s.group, s.consumer, 64, time.Second)
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return err
			}
			if err == redis.Nil {
				continue
			}
			return fmt.Errorf("events: redis stream read: %w", err)
		}
		for _, st := range streams {
			for _, msg := range st.Messages {
				if err := s.apply(msg.Values); err != nil {
					fmt.Printf("events: skipping malformed message %s: %v\n", msg.ID, err)
				}
				_ = s.reader.Ack(ctx, s.stream, s.group, msg.ID)
			}
		}
	}
}

func (s *RedisStreamSource) apply(fields map[string]interface{}) error {
	kind, _ := fields["kind"].(string)
	regionRaw, _ := fields["region"].(string)
	region, err := strconv.ParseUint(regionRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid region %q: %w", regionRaw, err)
	}

	switch kind {
	case "access":
		raw, _ := fields["time"].(string)
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("invalid access time %q: %w", raw, err)
		}
		s.sink.RecordAccess(wbfc.RegionID(region), t)
	case "size":
		raw, _ := fields["bytes"].(string)
		size, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", raw, err)
		}
		s.sink.RecordSize(wbfc.RegionID(region), size)
	default:
		return fmt.Errorf("unknown message kind %q", kind)
	}
	return nil
}
