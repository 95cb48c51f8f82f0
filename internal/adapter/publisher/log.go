package publisher

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/travel-booking/internal/core/domain"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, evt domain.BookingEvent) error {
	p.log.WithFields(logrus.Fields{
		"event_id":    evt.ID,
		"event_type":  evt.Type,
		"booking_id":  evt.BookingID,
		"resource_id": evt.ResourceID,
		"status":      evt.Status,
		"total":       evt.Total,
	}).Info("booking event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
