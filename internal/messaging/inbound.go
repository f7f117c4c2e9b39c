package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/CitaBot/internal/metrics"
	"github.com/BTreeMap/CitaBot/internal/models"
	"github.com/BTreeMap/CitaBot/internal/store"
)

// EventHandler consumes inbound events; the dialogue engine implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev models.InboundEvent)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, ev models.InboundEvent)

func (f EventHandlerFunc) HandleEvent(ctx context.Context, ev models.InboundEvent) { f(ctx, ev) }

// DeferredEventHandler is an EventHandler that finishes some events after
// HandleEvent returns. done runs once the event has been fully handled and
// is never called for input dropped on shutdown.
type DeferredEventHandler interface {
	EventHandler
	HandleEventThen(ctx context.Context, ev models.InboundEvent, done func())
}

const markProcessedTimeout = 5 * time.Second

// InboundPump reads a Service's events, drops redeliveries and hands the
// rest to the handler.
type InboundPump struct {
	svc     Service
	handler EventHandler
	dedup   store.DedupRepo // optional
	metrics *metrics.Metrics
}

// PumpOption configures an InboundPump.
type PumpOption func(*InboundPump)

// WithDedup records every message id and drops ids already seen.
func WithDedup(repo store.DedupRepo) PumpOption {
	return func(p *InboundPump) { p.dedup = repo }
}

// WithMetrics counts inbound events and duplicates.
func WithMetrics(m *metrics.Metrics) PumpOption {
	return func(p *InboundPump) { p.metrics = m }
}

func NewInboundPump(svc Service, handler EventHandler, opts ...PumpOption) *InboundPump {
	p := &InboundPump{svc: svc, handler: handler}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes events until the channel closes or ctx is done.
func (p *InboundPump) Run(ctx context.Context) {
	slog.Info("InboundPump starting")
	defer slog.Info("InboundPump stopped")
	for {
		select {
		case ev, ok := <-p.svc.Events():
			if !ok {
				slog.Debug("InboundPump events channel closed")
				return
			}
			p.dispatch(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (p *InboundPump) dispatch(ctx context.Context, ev models.InboundEvent) {
	p.metrics.ObserveInbound(models.EventKind(ev))
	if id := messageID(ev); id != "" && p.dedup != nil {
		fresh, err := p.dedup.RecordInbound(ctx, id, ev.Sender())
		if err != nil {
			slog.Error("InboundPump dedup failed, processing anyway", "error", err, "user", ev.Sender())
		} else if !fresh {
			slog.Debug("InboundPump dropping duplicate", "user", ev.Sender(), "message_id", id)
			p.metrics.ObserveDuplicate()
			return
		}
		p.handle(ctx, ev, func() { p.markProcessed(ctx, id) })
		return
	}
	p.handler.HandleEvent(ctx, ev)
}

// handle marks the event processed once its turn has run, which for a
// debounced text is after the quiet window closes.
func (p *InboundPump) handle(ctx context.Context, ev models.InboundEvent, done func()) {
	if h, ok := p.handler.(DeferredEventHandler); ok {
		h.HandleEventThen(ctx, ev, done)
		return
	}
	p.handler.HandleEvent(ctx, ev)
	done()
}

func (p *InboundPump) markProcessed(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markProcessedTimeout)
	defer cancel()
	if err := p.dedup.MarkProcessed(ctx, id); err != nil {
		slog.Warn("InboundPump MarkProcessed failed", "error", err, "message_id", id)
	}
}

func messageID(ev models.InboundEvent) string {
	switch v := ev.(type) {
	case models.TextMessage:
		return v.Ref.ID
	case models.VoiceNote:
		return v.Ref.ID
	case models.LocationShare:
		return v.Ref.ID
	case models.CallEvent:
		return "call:" + v.CallID
	}
	return ""
}
