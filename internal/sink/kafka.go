package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/segmentio/kafka-go"
	"github.com/temoto/solarmate/internal/types"
)

type KafkaConfig struct {
	Brokers    []string
	Topic      string
	TimeoutSec int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes each collection as one JSON message keyed by collection ID.
type Kafka struct {
	w       messageWriter
	timeout time.Duration
}

func NewKafka(config KafkaConfig) *Kafka {
	timeout := time.Duration(config.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Kafka{
		w: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Topic:        config.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    1,
			RequiredAcks: kafka.RequireAll,
		},
		timeout: timeout,
	}
}

func (self *Kafka) Name() string { return "kafka" }

func (self *Kafka) Handle(c *types.Collection) error {
	value, err := json.Marshal(c)
	if err != nil {
		return errors.Annotatef(err, "kafka marshal collection=%s", c.ID)
	}
	headers := []kafka.Header{
		{Key: "channel", Value: []byte(c.Channel.String())},
		{Key: "date", Value: []byte(c.DateKey())},
	}
	if c.SourceID != "" {
		headers = append(headers, kafka.Header{Key: "source_id", Value: []byte(c.SourceID)})
	}
	ctx, cancel := context.WithTimeout(context.Background(), self.timeout)
	defer cancel()
	err = self.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(c.ID),
		Value:   value,
		Time:    c.Time,
		Headers: headers,
	})
	return errors.Annotatef(err, "kafka collection=%s", c.ID)
}

func (self *Kafka) Close() error { return self.w.Close() }
