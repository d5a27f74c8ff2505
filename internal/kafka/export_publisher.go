package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	watermillkafka "github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/elementojuris/billing/internal/config"
	ierr "github.com/elementojuris/billing/internal/errors"
	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/types"
)

// ExportRequestedEvent is the message consumed by the export service.
type ExportRequestedEvent struct {
	TenantID    string    `json:"tenant_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
	RequestID   string    `json:"request_id,omitempty"`
}

const exportReasonCancellation = "subscription_cancel"

// ExportPublisher turns export requests into messages on the export topic.
type ExportPublisher struct {
	publisher message.Publisher
	topic     string
	logger    *logger.Logger
	now       func() time.Time
}

// NewExportPublisher connects a Kafka publisher for the export topic.
func NewExportPublisher(cfg *config.Configuration, log *logger.Logger) (*ExportPublisher, error) {
	publisher, err := watermillkafka.NewPublisher(watermillkafka.PublisherConfig{
		Brokers:               cfg.Kafka.Brokers,
		Marshaler:             watermillkafka.DefaultMarshaler{},
		OverwriteSaramaConfig: GetSaramaConfig(cfg.Kafka),
	}, NewWatermillLogger(log))
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create kafka publisher").
			Mark(ierr.ErrSystem)
	}
	return NewExportPublisherWith(publisher, cfg.Kafka.ExportTopic, log), nil
}

// NewExportPublisherWith uses an existing publisher.
func NewExportPublisherWith(publisher message.Publisher, topic string, log *logger.Logger) *ExportPublisher {
	return &ExportPublisher{
		publisher: publisher,
		topic:     topic,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RequestExport publishes one export request for the tenant.
func (p *ExportPublisher) RequestExport(ctx context.Context, tenantID string) error {
	event := ExportRequestedEvent{
		TenantID:    tenantID,
		Reason:      exportReasonCancellation,
		RequestedAt: p.now(),
		RequestID:   types.GetRequestID(ctx),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode export request").
			Mark(ierr.ErrSystem)
	}

	msg := message.NewMessage(types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EXPORT_REQUEST), payload)
	msg.Metadata.Set("tenant_id", tenantID)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to publish export request").
			Mark(ierr.ErrSystem)
	}

	p.logger.WithContext(ctx).Infow("export requested",
		"tenant_id", tenantID,
		"topic", p.topic,
		"message_id", msg.UUID)
	return nil
}

func (p *ExportPublisher) Close() error {
	return p.publisher.Close()
}

// watermillLogger adapts the service logger to watermill.LoggerAdapter.
type watermillLogger struct {
	l      *logger.Logger
	fields watermill.LogFields
}

func NewWatermillLogger(l *logger.Logger) watermill.LoggerAdapter {
	return &watermillLogger{l: l}
}

func (w *watermillLogger) kv(fields watermill.LogFields) []interface{} {
	merged := w.fields.Add(fields)
	out := make([]interface{}, 0, len(merged)*2)
	for k, v := range merged {
		out = append(out, k, v)
	}
	return out
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.l.Errorw(msg, append(w.kv(fields), "error", err)...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.l.Infow(msg, w.kv(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.l.Debugw(msg, w.kv(fields)...)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.l.Debugw(msg, w.kv(fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{l: w.l, fields: w.fields.Add(fields)}
}
