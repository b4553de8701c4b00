// Package chat implements the direct-messaging core: the chat-request
// handshake, room identity, encrypted message storage and per-viewer
// conversation assembly.
package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pliu/sealedchat/internal/apperr"
	"github.com/pliu/sealedchat/internal/metrics"
	"github.com/pliu/sealedchat/internal/realtime"
	"github.com/pliu/sealedchat/internal/store"
)

// Service groups the chat components. They share one store and one
// distributor.
type Service struct {
	Keys          *Keys
	Rooms         *Rooms
	Requests      *Requests
	Messages      *Messages
	Conversations *Conversations
}

func New(st store.Store, dist *realtime.Distributor, logger *slog.Logger, m *metrics.Metrics) *Service {
	pub := &publisher{dist: dist, logger: logger}
	keys := &Keys{store: st, logger: logger}
	rooms := &Rooms{store: st, logger: logger}
	return &Service{
		Keys:  keys,
		Rooms: rooms,
		Requests: &Requests{
			store:   st,
			pub:     pub,
			logger:  logger,
			metrics: m,
		},
		Messages: &Messages{
			store:   st,
			keys:    keys,
			rooms:   rooms,
			pub:     pub,
			logger:  logger,
			metrics: m,
		},
		Conversations: &Conversations{
			store:   st,
			rooms:   rooms,
			logger:  logger,
			metrics: m,
		},
	}
}

// storageErr maps datastore failures onto the error taxonomy.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.StorageUnavailable(err)
}

// publisher emits change events after a write has committed. Delivery
// is best effort: a failed publish is logged and the write still
// stands, since subscribers recover by refetching.
type publisher struct {
	dist   *realtime.Distributor
	logger *slog.Logger
}

func (p *publisher) publish(ctx context.Context, table realtime.Table, op realtime.Operation, row any, topics ...string) {
	ev, err := realtime.NewEvent(table, op, row)
	if err != nil {
		p.logger.Error("encoding realtime event", "table", table, "error", err)
		return
	}
	for _, topic := range topics {
		if err := p.dist.Publish(ctx, topic, ev); err != nil {
			p.logger.Warn("publishing realtime event", "table", table, "topic", topic, "error", err)
		}
	}
}
