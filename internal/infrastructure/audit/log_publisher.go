package audit

import (
	"context"

	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// LogPublisher writes key events to the structured log.
type LogPublisher struct {
	logger logger.Logger
}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher(log logger.Logger) *LogPublisher {
	return &LogPublisher{logger: log.WithComponent("KeyEvents")}
}

func (p *LogPublisher) Publish(ctx context.Context, event models.KeyEvent) error {
	p.logger.Info(ctx, "Key event",
		logger.String("event_id", event.ID),
		logger.String("event_type", string(event.Type)),
		logger.String("key_alias", event.KeyAlias),
		logger.String("key_id", event.KeyID),
		logger.String("sscd_id", event.SscdID),
		logger.String("sscd_type", event.SscdType),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// NewPublisher returns a Kafka publisher when events are enabled and a log
// publisher otherwise.
func NewPublisher(cfg config.EventsConfig, log logger.Logger) service.EventPublisher {
	if cfg.Enabled {
		return NewKafkaPublisher(cfg, log)
	}
	return NewLogPublisher(log)
}

var _ service.EventPublisher = (*LogPublisher)(nil)
