package syncer

import (
	"context"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/query"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/schema"
)

// drainPull fetches change-log pages from the persisted cursor until the
// log is drained. Each page is applied in one transaction; the cursor
// advances only after its page commits, so a crash replays the page
// instead of skipping it.
func (w *Worker) drainPull(ctx context.Context) error {
	cursor, err := w.opts.GetCursor(ctx)
	if err != nil {
		return err
	}
	for {
		page, err := w.pull(ctx, cursor)
		if err != nil {
			return err
		}
		if len(page.Entries) == 0 {
			return nil
		}
		if err := w.applyPage(ctx, page.Entries); err != nil {
			return err
		}
		cursor = page.Cursor
		if err := w.opts.SetCursor(ctx, cursor); err != nil {
			return err
		}
	}
}

// applyPage applies one page of server changes inside a single
// transaction scoped to every store the page touches.
func (w *Worker) applyPage(ctx context.Context, entries []ChangeLogEntry) error {
	scope := map[string]bool{}
	for _, e := range entries {
		var stores []string
		var err error
		if e.Op == "delete" {
			stores, err = w.planner.DeleteScope(e.Model, false)
		} else {
			stores, err = w.planner.UpsertScope(e.Model, nil, nil, false)
		}
		if err != nil {
			w.log.Warn().Str("model", e.Model).Err(err).Msg("skipping change for unknown model")
			continue
		}
		for _, s := range stores {
			scope[s] = true
		}
	}
	stores := make([]string, 0, len(scope))
	for s := range scope {
		stores = append(stores, s)
	}

	txn, err := w.engine.Begin(ctx, kv.ReadWrite, stores)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	applied, missing, echoes := 0, 0, 0
	for _, e := range entries {
		switch w.applyEntry(ctx, txn, e) {
		case entryApplied:
			applied++
		case entryMissing:
			missing++
		case entryEcho:
			echoes++
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	w.updateStatus(func(s *Status) {
		s.Applied += applied
		s.Missing += missing
		s.Echoes += echoes
	})
	return nil
}

type entryOutcome int

const (
	entryApplied entryOutcome = iota
	entryMissing
	entryEcho
)

// applyEntry applies one change-log entry. Inbound changes skip the
// outbox, otherwise they would echo back to the server, but still publish
// change events so local subscribers observe them.
func (w *Worker) applyEntry(ctx context.Context, txn *kv.Txn, e ChangeLogEntry) entryOutcome {
	if e.Origin != "" && e.Origin == w.engine.Origin() {
		return entryEcho
	}
	me, err := w.engine.Model(e.Model)
	if err != nil {
		w.log.Warn().Str("model", e.Model).Msg("change references unknown model")
		return entryMissing
	}
	m, _ := w.engine.Registry().Model(e.Model)
	opts := engine.WriteOpts{SkipOutbox: true}

	if e.Op == "delete" {
		_, err := me.Delete(ctx, txn, pkWhere(m, e.KeyPath), opts)
		if err != nil {
			if engine.IsNotFound(err) {
				return entryMissing
			}
			w.log.Warn().Str("model", e.Model).Err(err).Msg("failed to apply delete")
			return entryMissing
		}
		return entryApplied
	}

	if e.Record == nil {
		return entryMissing
	}
	rec, err := schema.DecodeRecord(m, e.Record)
	if err != nil {
		w.log.Warn().Str("model", e.Model).Err(err).Msg("undecodable change payload")
		return entryMissing
	}
	if m.Validator != nil {
		if err := m.Validator.Validate(rec); err != nil {
			w.log.Warn().Str("model", e.Model).Err(err).Msg("rejecting invalid change payload")
			return entryMissing
		}
	}

	// Renames arrive keyed by the old path; everything else by the
	// current path.
	keyed := e.KeyPath
	if len(e.OldKeyPath) > 0 {
		keyed = e.OldKeyPath
	}
	_, err = me.Upsert(ctx, txn, pkWhere(m, keyed),
		&query.CreateInput{Data: rec},
		&query.UpdateInput{Set: rec},
		opts)
	if err != nil {
		w.log.Warn().Str("model", e.Model).Err(err).Msg("failed to apply change")
		return entryMissing
	}
	return entryApplied
}

func pkWhere(m *schema.Model, key record.KeyPath) query.UniqueWhere {
	out := make(query.UniqueWhere, len(m.PrimaryKey))
	for i, f := range m.PrimaryKey {
		if i < len(key) {
			out[f] = key[i]
		}
	}
	return out
}
