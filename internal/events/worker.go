package events

import (
	"context"
	"log/slog"
)

// Sink persists or forwards a single event.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// ChannelPublisher decouples producers from sink latency: Publish enqueues
// and returns; the Worker drains. A full buffer drops the event rather than
// stalling a derivation run.
type ChannelPublisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewChannelPublisher(buffer int, logger *slog.Logger) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelPublisher{inbox: make(chan Event, buffer), logger: logger}
}

func (p *ChannelPublisher) Publish(ctx context.Context, event Event) {
	select {
	case p.inbox <- event:
	default:
		if p.logger != nil {
			p.logger.WarnContext(ctx, "event buffer full, dropping event",
				"type", event.Type,
				"obligation_id", event.ObligationID,
			)
		}
	}
}

// Inbox exposes the receive side for the worker.
func (p *ChannelPublisher) Inbox() <-chan Event { return p.inbox }

// Worker consumes events from a channel and hands them to a sink. It keeps
// background processing testable without wiring a broker.
type Worker struct {
	sink  Sink
	inbox <-chan Event
}

func NewWorker(sink Sink, inbox <-chan Event) *Worker {
	return &Worker{sink: sink, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}
