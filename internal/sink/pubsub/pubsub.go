// Package pubsub implements a record sink that publishes one JSON message per
// record to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/sink"
)

// Name identifies this sink in logs and metrics.
const Name = "pubsub"

// Config names the destination topic.
type Config struct {
	ProjectID string
	TopicID   string
}

// Sink publishes records to a topic.
type Sink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// New connects to Pub/Sub with application default credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewWithClient(client, cfg.TopicID, logger)
}

// NewWithClient builds a sink on an existing client, which the sink then owns.
func NewWithClient(client *pubsub.Client, topicID string, logger *zap.Logger) (*Sink, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if topicID == "" {
		return nil, errors.New("topic id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{client: client, topic: client.Topic(topicID), logger: logger}, nil
}

// Write publishes every record and waits for the server to accept them.
// The count is the number of acknowledged publishes.
func (s *Sink) Write(ctx context.Context, records []*crawler.Record) (int, error) {
	records = sink.NonNil(records, Name, s.logger)
	results := make([]*pubsub.PublishResult, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("marshal record: %w", err)
		}
		msg := &pubsub.Message{
			Data:       data,
			Attributes: map[string]string{"source_url": rec.SourceURL},
		}
		otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})
		results = append(results, s.topic.Publish(ctx, msg))
	}

	published := 0
	var errs []error
	for _, result := range results {
		if _, err := result.Get(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		published++
	}
	if len(errs) > 0 {
		return published, fmt.Errorf("publish records: %w", errors.Join(errs...))
	}
	return published, nil
}

// Close flushes pending publishes and closes the client.
func (s *Sink) Close(context.Context) error {
	s.topic.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// attributeCarrier lets trace context ride along in message attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
