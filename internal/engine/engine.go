// Package engine implements the local query and mutation engine.
//
// ARCHITECTURE
//
// The engine is a thin orchestration layer over four collaborators:
//
//	schema.Registry  - validated model descriptors
//	kv.Store         - scoped transactional record storage
//	plan.Planner     - derives the store scope of each operation
//	outbox.Store     - captures tracked mutations for upload
//
// Every public operation accepts an optional transaction. When nil, the
// engine plans the operation's scope, opens a transaction covering exactly
// those stores, and commits on success. When a transaction is supplied the
// caller owns commit and rollback, and the transaction's scope must
// already cover the operation.
//
// Mutations capture outbox events inside the same transaction as the
// write, so a committed mutation and its outbox entry are inseparable.
// Change events are published only after commit.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/replica/internal/events"
	"github.com/roach88/replica/internal/kv"
	"github.com/roach88/replica/internal/outbox"
	"github.com/roach88/replica/internal/plan"
	"github.com/roach88/replica/internal/schema"
)

// Engine binds a schema registry to a store and exposes per-model
// operation surfaces.
type Engine struct {
	store   *kv.Store
	reg     *schema.Registry
	planner *plan.Planner
	bus     *events.Bus
	outbox  *outbox.Store
	origin  string
	now     func() time.Time
	models  map[string]*ModelEngine
}

// Options configures engine construction. Zero values select defaults.
type Options struct {
	// Origin identifies this replica in outbox events. Defaults to a
	// fresh UUID per engine.
	Origin string

	// Now supplies the clock for default timestamps. Defaults to
	// time.Now.
	Now func() time.Time
}

// New builds an engine over an open store. The registry must already be
// validated.
func New(store *kv.Store, reg *schema.Registry, opts Options) *Engine {
	if opts.Origin == "" {
		opts.Origin = uuid.NewString()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		store:   store,
		reg:     reg,
		planner: plan.New(reg),
		bus:     events.NewBus(),
		outbox:  outbox.New(store.DB()),
		origin:  opts.Origin,
		now:     opts.Now,
		models:  make(map[string]*ModelEngine),
	}
	for _, m := range reg.Models() {
		e.models[m.Name] = &ModelEngine{engine: e, model: m}
	}
	return e
}

// Model returns the operation surface for one model.
func (e *Engine) Model(name string) (*ModelEngine, error) {
	me := e.models[name]
	if me == nil {
		return nil, invalidArgument(name, "unknown model")
	}
	return me, nil
}

// Bus returns the post-commit change event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Outbox returns the outbox store.
func (e *Engine) Outbox() *outbox.Store { return e.outbox }

// Registry returns the schema registry.
func (e *Engine) Registry() *schema.Registry { return e.reg }

// Store returns the underlying record store.
func (e *Engine) Store() *kv.Store { return e.store }

// Origin returns this replica's origin id.
func (e *Engine) Origin() string { return e.origin }

// Begin opens a transaction over an explicit store set, for callers that
// compose multiple operations atomically.
func (e *Engine) Begin(ctx context.Context, mode kv.Mode, stores []string) (*kv.Txn, error) {
	return e.store.Begin(ctx, mode, stores)
}

// WriteOpts adjusts mutation side effects.
type WriteOpts struct {
	// Silent suppresses post-commit change events.
	Silent bool

	// SkipOutbox suppresses outbox capture. Used when applying changes
	// that originated on the server, which must not echo back.
	SkipOutbox bool
}

// ModelEngine is the operation surface for one model.
type ModelEngine struct {
	engine *Engine
	model  *schema.Model
}

// Name returns the model name.
func (me *ModelEngine) Name() string { return me.model.Name }

// withTxn runs fn inside txn when supplied, otherwise inside a fresh
// transaction over the given scope, committing on success.
func (me *ModelEngine) withTxn(ctx context.Context, txn *kv.Txn, mode kv.Mode, scope []string, fn func(txn *kv.Txn) error) error {
	if txn != nil {
		return fn(txn)
	}
	txn, err := me.engine.store.Begin(ctx, mode, scope)
	if err != nil {
		return storage(me.model.Name, err)
	}
	defer txn.Rollback()
	if err := fn(txn); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return storage(me.model.Name, err)
	}
	return nil
}
