package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/travel-booking/internal/core/domain"
	"github.com/rl1809/travel-booking/internal/metrics"
	"github.com/rl1809/travel-booking/internal/port"
)

const publishTimeout = 5 * time.Second

// EventDispatcher buffers booking events and hands them to a publisher from a
// pool of workers. Delivery is best effort: the ledger is already committed
// when an event is enqueued, so failures are only logged.
type EventDispatcher struct {
	publisher port.EventPublisher
	log       logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	queue  chan domain.BookingEvent
	wg     sync.WaitGroup
}

func NewEventDispatcher(publisher port.EventPublisher, queueSize int, log logrus.FieldLogger) *EventDispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EventDispatcher{
		publisher: publisher,
		log:       log,
		queue:     make(chan domain.BookingEvent, queueSize),
	}
}

// Start launches workers that drain the queue until Close is called.
func (d *EventDispatcher) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.log.WithField("workers", workers).Info("event dispatcher started")
}

// Enqueue never blocks; it reports false when the event was dropped.
func (d *EventDispatcher) Enqueue(evt domain.BookingEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	select {
	case d.queue <- evt:
		return true
	default:
		metrics.EventsTotal.WithLabelValues(evt.Type, "dropped").Inc()
		d.log.WithFields(logrus.Fields{
			"event_type": evt.Type,
			"booking_id": evt.BookingID,
		}).Warn("event queue full, dropping event")
		return false
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *EventDispatcher) workerLoop(id int) {
	for evt := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

		entry := d.log.WithFields(logrus.Fields{
			"worker":     id,
			"event_type": evt.Type,
			"booking_id": evt.BookingID,
		})
		if err := d.publisher.Publish(ctx, evt); err != nil {
			metrics.EventsTotal.WithLabelValues(evt.Type, "failed").Inc()
			entry.WithError(err).Error("failed to publish event")
		} else {
			metrics.EventsTotal.WithLabelValues(evt.Type, "published").Inc()
			entry.Debug("published event")
		}

		cancel()
	}
}
