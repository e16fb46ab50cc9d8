package feed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaFeed carries change events over Kafka so independent processes
// (admin API, consumer workers) observe the same stream. The message key is
// the entity id, which is what gives the per-key ordering the reconcilers
// rely on; the broker documents no stronger guarantee and none is assumed.
type KafkaFeed struct {
	brokers []string
	writers map[string]*kafka.Writer
	logger  *slog.Logger
}

func NewKafkaFeed(brokers []string, logger *slog.Logger) *KafkaFeed {
	writers := make(map[string]*kafka.Writer)
	for _, topic := range []string{TopicBookings, TopicDrivers} {
		writers[topic] = kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Topic:    topic,
			Balancer: &kafka.Hash{}, // same key -> same partition -> per-key order
		})
	}
	return &KafkaFeed{brokers: brokers, writers: writers, logger: logger}
}

func (k *KafkaFeed) Publish(ctx context.Context, e Event) error {
	w, ok := k.writers[e.Topic]
	if !ok {
		return ErrUnknownTopic
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(keyString(e)), Value: b})
}

// Subscribe starts a dedicated consumer group per subscription: fan-out
// means every observer sees every event, so groups are never shared.
func (k *KafkaFeed) Subscribe(topic string, f Filter) (*Subscription, error) {
	if topic != TopicBookings && topic != TopicDrivers {
		return nil, ErrUnknownTopic
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.brokers,
		Topic:   topic,
		GroupID: "feed-" + topic + "-" + randomSuffix(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Event, subscriberBuffer)

	go func() {
		defer close(ch)
		for {
			m, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil && k.logger != nil {
					k.logger.Warn("feed read failed, dropping subscription", "topic", topic, "error", err)
				}
				return
			}
			var e Event
			if err := json.Unmarshal(m.Value, &e); err != nil {
				if k.logger != nil {
					k.logger.Warn("feed event decode failed", "topic", topic, "error", err)
				}
				continue
			}
			if !f.Match(e) {
				continue
			}
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Subscription{
		Events: ch,
		cancel: func() {
			cancel()
			_ = r.Close()
		},
	}, nil
}

func (k *KafkaFeed) Close() error {
	var last error
	for _, w := range k.writers {
		if err := w.Close(); err != nil {
			last = err
		}
	}
	return last
}

func randomSuffix() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
