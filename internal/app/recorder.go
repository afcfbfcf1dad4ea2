package app

import (
	"context"
	"strings"
	"time"

	"procnotify/internal/eventbus"
	"procnotify/internal/notifier"
	"procnotify/internal/storage"
	logx "procnotify/pkg/logx"
)

// deliveryRecord converts a notifier outcome into a delivery-log row.
func deliveryRecord(o notifier.Outcome) storage.DeliveryRecord {
	return storage.DeliveryRecord{
		At:         o.At,
		BatchID:    o.BatchID,
		Reason:     o.Reason,
		Events:     o.Events,
		Rendered:   o.Rendered,
		Suppressed: o.Suppressed,
		OK:         o.OK,
		Error:      o.Error,
		TookMS:     o.Took.Milliseconds(),
		Titles:     strings.Join(o.Titles, ", "),
	}
}

// recordDeliveries appends send outcomes to the store until ctx is done,
// then drains what is already buffered. Store errors are logged only.
func recordDeliveries(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	handle := func(e eventbus.Event) {
		if e.Type != eventbus.TopicDelivered && e.Type != eventbus.TopicFailed {
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			return
		}
		o, ok := e.Data.(notifier.Outcome)
		if !ok {
			return
		}
		log.Debug("event", logx.String("type", e.Type), logx.String("batch_id", o.BatchID), logx.Bool("ok", o.OK))
		if store == nil {
			return
		}
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := store.AppendDelivery(wctx, deliveryRecord(o))
		cancel()
		if err != nil {
			log.Warn("delivery log write failed", logx.String("batch_id", o.BatchID), logx.Err(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					handle(e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			handle(e)
		}
	}
}
