// Package events adapts the Kafka producer to the lifecycle hooks the bridge
// and exporter call. Every emit is fire-and-forget with a short deadline;
// losing an event is acceptable, stalling a session is not.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/fieldserve/trellis/pkg/kafka"
	"github.com/fieldserve/trellis/pkg/models"
)

const publishTimeout = 5 * time.Second

// Publisher is the slice of the Kafka producer the emitter uses.
type Publisher interface {
	PublishBridgeEvent(ctx context.Context, event *kafka.BridgeEvent) error
}

type Emitter struct {
	producer Publisher
	logger   ectologger.Logger
}

func NewEmitter(producer Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// RunStarted fires when a session authenticates.
func (e *Emitter) RunStarted(ctx context.Context, run *models.Run) {
	e.publish(ctx, &kafka.BridgeEvent{
		EventType:   "run.started",
		RunID:       run.ID,
		RunKind:     string(run.Kind),
		InvoiceID:   run.InvoiceID,
		CompanyFile: run.CompanyFile,
	})
}

// RunEnded fires when a session closes, fails, or finishes.
func (e *Emitter) RunEnded(ctx context.Context, run *models.Run) {
	e.publish(ctx, &kafka.BridgeEvent{
		EventType:   "run.ended",
		RunID:       run.ID,
		RunKind:     string(run.Kind),
		InvoiceID:   run.InvoiceID,
		CompanyFile: run.CompanyFile,
	})
}

// InvoiceExported fires when QuickBooks accepts an invoice.
func (e *Emitter) InvoiceExported(ctx context.Context, inv *models.Invoice) {
	e.publish(ctx, &kafka.BridgeEvent{
		EventType: "invoice.exported",
		InvoiceID: inv.ID,
		RefNumber: inv.RefNumber,
	})
}

// InvoiceExportFailed fires when an export attempt is rejected or aborts.
func (e *Emitter) InvoiceExportFailed(ctx context.Context, inv *models.Invoice, message string) {
	e.publish(ctx, &kafka.BridgeEvent{
		EventType: "invoice.export_failed",
		InvoiceID: inv.ID,
		RefNumber: inv.RefNumber,
		Data:      jsonMessage(message),
	})
}

func (e *Emitter) publish(ctx context.Context, event *kafka.BridgeEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := e.producer.PublishBridgeEvent(ctx, event); err != nil {
			e.logger.WithError(err).WithFields(map[string]any{"event_type": event.EventType}).Warn("Dropped bridge event")
		}
	}()
}

func jsonMessage(message string) []byte {
	b, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return nil
	}
	return b
}
