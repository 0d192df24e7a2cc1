package syncer

import (
	"context"

	"github.com/roach88/replica/internal/outbox"
)

// drainPush uploads outbox batches until the outbox is empty or a failure
// stops the drain. Events that exhausted their retries are abandoned, not
// re-sent.
func (w *Worker) drainPush(ctx context.Context) error {
	ob := w.engine.Outbox()
	for {
		batch, err := ob.NextBatch(ctx, w.opts.PushBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		var send []*outbox.Event
		var spent []string
		for _, ev := range batch {
			if ev.Tries >= w.opts.MaxRetries {
				spent = append(spent, ev.ID)
				continue
			}
			send = append(send, ev)
		}
		if len(spent) > 0 {
			w.log.Warn().Int("count", len(spent)).Msg("abandoning events past retry limit")
			if err := ob.Abandon(ctx, spent, "retry limit exceeded"); err != nil {
				return err
			}
		}
		if len(send) == 0 {
			continue
		}

		results, err := w.push(ctx, send)
		if err != nil {
			// Transport failure: the whole batch counts one failed try.
			for _, ev := range send {
				if merr := ob.MarkFailed(ctx, ev.ID, err.Error()); merr != nil {
					return merr
				}
			}
			return err
		}

		byID := make(map[string]Result, len(results))
		for _, res := range results {
			byID[res.ID] = res
		}
		var synced []string
		failed := false
		for _, ev := range send {
			res, ok := byID[ev.ID]
			if !ok || res.Error != "" {
				msg := res.Error
				if !ok {
					msg = "no result returned for event"
				}
				failed = true
				if err := ob.MarkFailed(ctx, ev.ID, msg); err != nil {
					return err
				}
				continue
			}
			synced = append(synced, ev.ID)
		}
		if err := ob.MarkSynced(ctx, synced, w.clock.Now()); err != nil {
			return err
		}
		w.updateStatus(func(s *Status) { s.Pushed += len(synced) })

		for _, ev := range send {
			res := byID[ev.ID]
			if res.Error != "" || res.Merged == nil {
				continue
			}
			if err := w.applyMerged(ctx, ev, res); err != nil {
				return err
			}
		}

		// A failed event stays unsynced and would be refetched by the
		// next batch, so stop this drain and let a later cycle retry.
		if failed {
			return nil
		}
	}
}
