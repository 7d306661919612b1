// Package kafka replicates server.Push calls across sibling chatdemo
// instances over sarama. This is an application-layer convenience: the
// core chansock library has no server-to-server fan-out of its own. A
// user connected to instance B
// still needs to receive a push issued by application code running on
// instance A; this package is how the demo achieves that without
// teaching the core library anything about other instances.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"chansock/internal/demo/config"
)

// PushMessage is the wire shape published to Kafka: enough to replay a
// server.Push call on a sibling instance.
type PushMessage struct {
	UID     string `json:"uid"`
	EventID string `json:"event_id"`
	Payload any    `json:"payload,omitempty"`
	HasPay  bool   `json:"has_payload"`
	Origin  string `json:"origin"`
}

// Producer publishes PushMessages for sibling instances to replay.
type Producer struct {
	sp     sarama.SyncProducer
	topic  string
	origin string
	log    *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, origin string, log *slog.Logger) (*Producer, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.ClientID = "chatdemo"

	sp, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: new producer: %w", err)
	}
	return &Producer{sp: sp, topic: cfg.Topic, origin: origin, log: log}, nil
}

// Publish replicates one push so sibling instances can re-issue it
// locally. Keyed by uid so all pushes for one user land on the same
// partition and therefore preserve relative order across instances.
func (p *Producer) Publish(uid, eventID string, payload any, hasPayload bool) error {
	msg := PushMessage{UID: uid, EventID: eventID, Payload: payload, HasPay: hasPayload, Origin: p.origin}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka: marshal push: %w", err)
	}
	_, _, err = p.sp.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(uid),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

func (p *Producer) Close() error { return p.sp.Close() }

// Consumer replays PushMessages published by sibling instances, skipping
// ones this same instance originated.
type Consumer struct {
	group  sarama.ConsumerGroup
	topic  string
	origin string
	log    *slog.Logger
}

func NewConsumer(cfg config.KafkaConfig, origin string, log *slog.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: new consumer group: %w", err)
	}
	return &Consumer{group: group, topic: cfg.Topic, origin: origin, log: log}, nil
}

// Run consumes until ctx is cancelled, invoking handle for every
// PushMessage not originated by this instance.
func (c *Consumer) Run(ctx context.Context, handle func(PushMessage)) error {
	h := &consumerHandler{origin: c.origin, handle: handle, log: c.log}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("kafka: consume error", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error { return c.group.Close() }

type consumerHandler struct {
	origin string
	handle func(PushMessage)
	log    *slog.Logger
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var pm PushMessage
		if err := json.Unmarshal(msg.Value, &pm); err != nil {
			h.log.Warn("kafka: bad push message", "error", err)
			sess.MarkMessage(msg, "")
			continue
		}
		if pm.Origin != h.origin {
			h.handle(pm)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
