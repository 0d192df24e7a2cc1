package syncer

import (
	"context"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/outbox"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/schema"
)

// applyMerged writes the server's post-merge record over the local copy.
// The event it answers is already marked synced; a record that fails to
// apply is logged and dropped, and the next pull converges it instead.
//
// Merged records apply silently: the local writer already observed its own
// change, and the merge is the server's restatement of it.
func (w *Worker) applyMerged(ctx context.Context, ev *outbox.Event, res Result) error {
	me, err := w.engine.Model(ev.Model)
	if err != nil {
		w.log.Warn().Str("model", ev.Model).Msg("merge result references unknown model")
		return nil
	}
	m, _ := w.engine.Registry().Model(ev.Model)
	rec, err := schema.DecodeRecord(m, res.Merged)
	if err != nil {
		w.log.Warn().Str("model", ev.Model).Err(err).Msg("undecodable merge result")
		return nil
	}
	if m.Validator != nil {
		if err := m.Validator.Validate(rec); err != nil {
			w.log.Warn().Str("model", ev.Model).Err(err).Msg("rejecting invalid merge result")
			return nil
		}
	}
	// The server may have rewritten the key; its old path, or failing
	// that the pushed path, identifies the local copy.
	keyed := ev.KeyPath
	if len(res.OldKeyPath) > 0 {
		keyed = res.OldKeyPath
	}
	_, err = me.Upsert(ctx, nil, pkWhere(m, keyed),
		&query.CreateInput{Data: rec},
		&query.UpdateInput{Set: rec},
		engine.WriteOpts{Silent: true, SkipOutbox: true})
	if err != nil {
		w.log.Warn().Str("model", ev.Model).Err(err).Msg("failed to apply merge result")
	}
	return nil
}
