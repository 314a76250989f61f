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

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wbfc/pkg/wbfc"
)

// KafkaMessage is the wire shape published by the write path whenever a
// region is touched or its size changes, JSON-encoded as the record value.
// Kept dependency-free and symmetric with the teacher's CommitMessage.
type KafkaMessage struct {
	Kind     string `json:"kind"` // "access" or "size"
	Region   uint64 `json:"region"`
	AtUnixMs int64  `json:"at_unix_ms,omitempty"`
	Bytes    uint64 `json:"bytes,omitempty"`
}

// KafkaConsumer abstracts the subset of a Kafka client this source needs:
// poll the next batch of raw record values from topic, committing offsets
// only after they've been applied. Mirrors the teacher's KafkaProducer
// interface, inverted from producer to consumer shape.
type KafkaConsumer interface {
	Poll(ctx context.Context, topic string, maxRecords int) ([][]byte, error)
	CommitOffsets(ctx context.Context, topic string) error
}

// LoggingKafkaConsumer is a dependency-free demo consumer, the mirror
// image of the teacher's LoggingKafkaProducer: it never actually connects
// to a broker, just logs what it would have polled, so the wiring in
// cmd/wbfcnode can select a Kafka-shaped source without a live cluster.
type LoggingKafkaConsumer struct{}

func (LoggingKafkaConsumer) Poll(ctx context.Context, topic string, maxRecords int) ([][]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	fmt.Printf("[kafka-source-demo] Poll topic=%s maxRecords=%d\n", topic, maxRecords)
	<-time.After(time.Second)
	return nil, nil
}

func (LoggingKafkaConsumer) CommitOffsets(ctx context.Context, topic string) error {
	fmt.Printf("[kafka-source-demo] CommitOffsets topic=%s\n", topic)
	return nil
}

// KafkaSource polls a KafkaConsumer for KafkaMessage records and applies
// them to an EventSink, grounded on persistence/kafka.go's KafkaPersister:
// same per-record JSON (de)serialization and same committed-after-apply
// sequencing, with producer replaced by consumer and CommitBatch by Poll.
type KafkaSource struct {
	consumer   KafkaConsumer
	sink       EventSink
	topic      string
	maxRecords int
}

// NewKafkaSource wires a source over topic. maxRecords bounds how many
// records are pulled per Poll call, the consumer-side analogue of the
// teacher's per-call batch size on the producer path.
func NewKafkaSource(consumer KafkaConsumer, sink EventSink, topic string, maxRecords int) *KafkaSource {
	if maxRecords <= 0 {
		maxRecords = 256
	}
	return &KafkaSource{consumer: consumer, sink: sink, topic: topic, maxRecords: maxRecords}
}

// Run polls until ctx is canceled, applying every record and committing
// offsets once the whole batch has been applied.
func (s *KafkaSource) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		records, err := s.consumer.Poll(ctx, s.topic, s.maxRecords)
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return err
			}
			return fmt.Errorf("events: kafka poll: %w", err)
		}
		for _, raw := range records {
			if err := s.apply(raw); err != nil {
				fmt.Printf("events: skipping malformed kafka record: %v\n", err)
			}
		}
		if len(records) > 0 {
			if err := s.consumer.CommitOffsets(ctx, s.topic); err != nil {
				return fmt.Errorf("events: kafka commit: %w", err)
			}
		}
	}
}

func (s *KafkaSource) apply(raw []byte) error {
	var msg KafkaMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	switch msg.Kind {
	case "access":
		s.sink.RecordAccess(wbfc.RegionID(msg.Region), time.UnixMilli(msg.AtUnixMs))
	case "size":
		s.sink.RecordSize(wbfc.RegionID(msg.Region), msg.Bytes)
	default:
		return fmt.Errorf("unknown record kind %q", msg.Kind)
	}
	return nil
}
