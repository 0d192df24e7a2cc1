package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"

	"github.com/roach88/replica/internal/events"
	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/outbox"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/schema"
)

// applyDefaults fills declared default values for missing or null fields.
func (me *ModelEngine) applyDefaults(ctx context.Context, txn *kv.Txn, rec record.Record) error {
	m := me.model
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Default == schema.DefaultNone || !record.IsNull(rec[f.Name]) {
			continue
		}
		switch f.Default {
		case schema.DefaultUUID:
			rec[f.Name] = record.String(uuid.NewString())
		case schema.DefaultNow:
			rec[f.Name] = record.Time(me.engine.now().UTC())
		case schema.DefaultAutoIncrement:
			n, err := txn.NextSeq(ctx, m.Name, f.Name)
			if err != nil {
				return storage(m.Name, err)
			}
			rec[f.Name] = record.Int(n)
		case schema.DefaultContentHash:
			h, err := contentHash(m, rec, f.Name)
			if err != nil {
				return storage(m.Name, err)
			}
			rec[f.Name] = record.String(h)
		}
	}
	return nil
}

// contentHash digests the record's declared own fields, excluding the hash
// field itself, giving content-addressed identity.
func contentHash(m *schema.Model, rec record.Record, hashField string) (string, error) {
	subject := make(record.Record, len(m.Fields))
	for i := range m.Fields {
		name := m.Fields[i].Name
		if name == hashField {
			continue
		}
		if v, ok := rec[name]; ok {
			subject[name] = v
		}
	}
	data, err := record.MarshalValue(subject)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// checkRequired fails when a non-optional field is absent or null.
func (me *ModelEngine) checkRequired(rec record.Record) error {
	m := me.model
	for i := range m.Fields {
		f := &m.Fields[i]
		if !f.Optional && record.IsNull(rec[f.Name]) {
			return invalidArgument(m.Name, "missing required field "+f.Name)
		}
	}
	return nil
}

// checkForeignKeys verifies every populated BelongsTo foreign key resolves
// to an existing target record.
func (me *ModelEngine) checkForeignKeys(ctx context.Context, txn *kv.Txn, rec record.Record) error {
	m := me.model
	for i := range m.Relations {
		rel := &m.Relations[i]
		if rel.Kind != schema.BelongsTo {
			continue
		}
		populated := true
		for _, f := range rel.Fields {
			if record.IsNull(rec[f]) {
				populated = false
				break
			}
		}
		if !populated {
			continue
		}
		related, err := me.relatedOf(ctx, txn, m, rec, rel)
		if err != nil {
			return err
		}
		if len(related) == 0 {
			return referential(m.Name, "relation "+rel.Name+" references a missing "+rel.Target)
		}
	}
	return nil
}

// uniqueValue encodes a record's value tuple for one unique index, or ""
// when any component is null (null tuples are exempt from uniqueness).
func uniqueValue(rec record.Record, idx []string) (string, error) {
	kp := record.KeyOf(rec, idx)
	for _, v := range kp {
		if record.IsNull(v) {
			return "", nil
		}
	}
	return kp.Encode()
}

// checkUniquesFree fails when any unique tuple of rec is already claimed
// by a different record.
func (me *ModelEngine) checkUniquesFree(ctx context.Context, txn *kv.Txn, rec record.Record, ownKey string) error {
	m := me.model
	for _, idx := range m.Uniques {
		val, err := uniqueValue(rec, idx)
		if err != nil {
			return storage(m.Name, err)
		}
		if val == "" {
			continue
		}
		holder, ok, err := txn.GetUnique(ctx, m.Name, schema.UniqueName(idx), val)
		if err != nil {
			return storage(m.Name, err)
		}
		if ok && holder != ownKey {
			return uniqueViolation(m.Name, m.KeyPathOf(rec), "value for unique index "+schema.UniqueName(idx))
		}
	}
	return nil
}

// putUniques claims rec's unique tuples.
func (me *ModelEngine) putUniques(ctx context.Context, txn *kv.Txn, rec record.Record, key string) error {
	m := me.model
	for _, idx := range m.Uniques {
		val, err := uniqueValue(rec, idx)
		if err != nil {
			return storage(m.Name, err)
		}
		if val == "" {
			continue
		}
		if err := txn.PutUnique(ctx, m.Name, schema.UniqueName(idx), val, key); err != nil {
			if errors.Is(err, kv.ErrKeyExists) {
				return uniqueViolation(m.Name, m.KeyPathOf(rec), "value for unique index "+schema.UniqueName(idx))
			}
			return storage(m.Name, err)
		}
	}
	return nil
}

// dropUniques releases rec's unique tuples.
func (me *ModelEngine) dropUniques(ctx context.Context, txn *kv.Txn, rec record.Record) error {
	m := me.model
	for _, idx := range m.Uniques {
		val, err := uniqueValue(rec, idx)
		if err != nil {
			return storage(m.Name, err)
		}
		if val == "" {
			continue
		}
		if err := txn.DeleteUnique(ctx, m.Name, schema.UniqueName(idx), val); err != nil {
			return storage(m.Name, err)
		}
	}
	return nil
}

// storeRecord encodes and upserts rec under key.
func (me *ModelEngine) storeRecord(ctx context.Context, txn *kv.Txn, key string, rec record.Record) error {
	data, err := record.MarshalValue(rec)
	if err != nil {
		return storage(me.model.Name, err)
	}
	if err := txn.Put(ctx, me.model.Name, key, data); err != nil {
		return storage(me.model.Name, err)
	}
	return nil
}

// afterWrite records a mutation's side effects: an outbox event inside the
// transaction for tracked models, and a change event published after
// commit.
func (me *ModelEngine) afterWrite(ctx context.Context, txn *kv.Txn, kind events.Kind, rec record.Record, key, oldKey record.KeyPath, opts WriteOpts) error {
	m := me.model
	if m.Tracked && !opts.SkipOutbox {
		ev := &outbox.Event{
			Model:      m.Name,
			KeyPath:    key,
			OldKeyPath: oldKey,
			Origin:     me.engine.origin,
			CreatedAt:  me.engine.now().UTC(),
		}
		switch kind {
		case events.Created:
			ev.Op = outbox.OpCreate
		case events.Updated:
			ev.Op = outbox.OpUpdate
		case events.Deleted:
			ev.Op = outbox.OpDelete
		}
		if kind != events.Deleted {
			payload, err := record.MarshalValue(rec)
			if err != nil {
				return storage(m.Name, err)
			}
			ev.Payload = payload
		}
		if err := me.engine.outbox.Append(ctx, txn, ev); err != nil {
			return storage(m.Name, err)
		}
	}
	if !opts.Silent {
		bus := me.engine.bus
		ev := events.Event{Model: m.Name, Kind: kind, Key: key, OldKey: oldKey}
		if kind != events.Deleted {
			ev.Record = rec.Clone()
		}
		txn.OnCommit(func() { bus.Publish(ev) })
	}
	return nil
}
