package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration // default 5s
	BatchTimeout time.Duration // default 10ms
}

type Message = kafka.Message

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is a thin wrapper around segmentio/kafka-go Writer.
type Producer struct {
	w MessageWriter
}

func NewProducerFromConfig(c Config) *Producer {
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 10 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           wt,
		BatchTimeout:           bt,
		AllowAutoTopicCreation: true,
	}
	return &Producer{w: w}
}

// NewProducer wraps an existing writer.
func NewProducer(w MessageWriter) *Producer { return &Producer{w: w} }

func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

func (p *Producer) Close() error { return p.w.Close() }
