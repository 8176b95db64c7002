package events

import (
	"context"
	"errors"
	"io"
	"log"

	"catalogd/pkg/bus"
)

// SubjectObjectChange carries object change notifications relayed over
// JetStream, typically by edge collectors that cannot reach the HTTP
// endpoint.
const SubjectObjectChange = "catalog.events.objectchange"

const consumerDurable = "catalogd-object-changes"

// Consumer feeds bus-delivered change notifications through the pipeline.
type Consumer struct {
	bus      *bus.Bus
	pipeline *Pipeline
	logger   *log.Logger
}

func NewConsumer(b *bus.Bus, pipeline *Pipeline, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{bus: b, pipeline: pipeline, logger: logger}
}

// Start subscribes durably and processes until ctx cancels. Malformed and
// unroutable bodies are acked and dropped with a log line; only transient
// processing failures trigger redelivery.
func (c *Consumer) Start(ctx context.Context) (io.Closer, error) {
	if c.bus == nil {
		return nil, errors.New("bus is required")
	}

	return c.bus.Subscribe(ctx, SubjectObjectChange, consumerDurable, func(ctx context.Context, data []byte) error {
		applied, err := c.pipeline.Process(ctx, "", data)
		switch {
		case err == nil:
			c.logger.Printf("INFO events: applied %d change(s) from %s", applied, SubjectObjectChange)
			return nil
		case errors.Is(err, ErrMalformedEvent), errors.Is(err, ErrUnknownTarget):
			c.logger.Printf("WARN events: dropping message from %s: %v", SubjectObjectChange, err)
			return nil
		default:
			return err
		}
	})
}
