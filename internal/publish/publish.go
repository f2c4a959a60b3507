// Package publish streams measurement tables to Kafka as they are
// collected, so a dashboard can follow a long benchmark live instead of
// waiting for the final result file.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/mlsbench/mlsbench/internal/dispatch"
	"github.com/mlsbench/mlsbench/internal/lg"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Publisher emits one message per endpoint per benchmark step.
type Publisher struct {
	writer messageWriter
	lg     lg.Logger
	topic  string
}

// stepMessage is the wire shape of one endpoint's measurements for a step.
type stepMessage struct {
	Run          string                 `json:"run"`
	Step         string                 `json:"step"`
	Endpoint     string                 `json:"endpoint"`
	Measurements []dispatch.Measurement `json:"measurements"`
}

func New(broker, topic string, logger lg.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			Async:                  false,
			AllowAutoTopicCreation: true,
		},
		lg:    logger,
		topic: topic,
	}
}

// PublishStep sends the step's whole table, keyed by run ID so one run's
// messages land on one partition in collection order.
func (p *Publisher) PublishStep(ctx context.Context, runID uuid.UUID, step string, names []string, table [][]dispatch.Measurement) error {
	msgs := make([]kafka.Message, 0, len(table))
	for i, ms := range table {
		value, err := json.Marshal(stepMessage{
			Run:          runID.String(),
			Step:         step,
			Endpoint:     names[i],
			Measurements: ms,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   runID[:],
			Value: value,
			Time:  time.Now(),
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			p.lg.Error("Kafka topic does not exist",
				lg.String("topic", p.topic),
				lg.String("action", "Create the topic manually or enable auto-creation"))
		}
		return err
	}
	return nil
}

func (p *Publisher) Close() error { return p.writer.Close() }
