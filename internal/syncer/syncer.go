// Package syncer drives the background synchronization loop between the
// local replica and the server.
//
// Each cycle runs two phases in order: push, which drains the outbox
// through a transport handler, then pull, which fetches server change-log
// pages from a cursor and applies them locally. A processing guard ensures
// at most one cycle runs at a time; a cycle triggered while another is in
// flight is a no-op.
package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/outbox"
	"github.com/roach88/replica/internal/plan"
	"github.com/roach88/replica/internal/record"
)

// Result is the server's verdict on one pushed outbox event.
type Result struct {
	// ID echoes the outbox event id.
	ID string

	// KeyPath is the server's authoritative key for the record, set when
	// the server assigned or rewrote the primary key. Empty means the
	// pushed key stands.
	KeyPath    record.KeyPath
	OldKeyPath record.KeyPath

	// Error, when non-empty, marks the event failed. It will be retried
	// on a later cycle until the retry limit.
	Error string

	// Merged, when set, is the server's post-merge record. It is applied
	// locally so a concurrently-edited record converges.
	Merged json.RawMessage
}

// PushHandler uploads a batch of outbox events, returning one result per
// event. A transport-level failure returns an error and fails the whole
// batch.
type PushHandler func(ctx context.Context, batch []*outbox.Event) ([]Result, error)

// ChangeLogEntry is one server-side change fetched by pull.
type ChangeLogEntry struct {
	Model      string          `json:"model"`
	Op         outbox.Op       `json:"op"`
	KeyPath    record.KeyPath  `json:"keyPath"`
	OldKeyPath record.KeyPath  `json:"oldKeyPath,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`

	// ScopeKey is the server's partitioning identifier, opaque here.
	ScopeKey string `json:"scopeKey,omitempty"`

	// Origin identifies the replica that caused the change. Entries
	// originating here are echoes and are skipped.
	Origin string `json:"origin"`
}

// Page is one fetched slice of the server change log. Cursor is the
// watermark to resume from after the page is applied.
type Page struct {
	Cursor  int64
	Entries []ChangeLogEntry
}

// PullHandler fetches the change-log page after cursor. An empty page
// signals the log is drained.
type PullHandler func(ctx context.Context, cursor int64) (Page, error)

// Options configures a Worker. Zero values select defaults.
type Options struct {
	// PushBatchSize bounds each outbox drain batch. Defaults to 10.
	PushBatchSize int

	// Interval is the delay between scheduled cycles. Defaults to 5s.
	Interval time.Duration

	// MaxRetries bounds push attempts per event before it is abandoned.
	// Defaults to 5.
	MaxRetries int

	// GetCursor and SetCursor persist the pull watermark. They default
	// to storage in the replica's own database.
	GetCursor func(ctx context.Context) (int64, error)
	SetCursor func(ctx context.Context, cursor int64) error

	// Clock drives scheduling. Defaults to the real clock.
	Clock clockwork.Clock

	Logger zerolog.Logger
}

func (o *Options) fill(w *Worker) {
	if o.PushBatchSize <= 0 {
		o.PushBatchSize = 10
	}
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.GetCursor == nil {
		o.GetCursor = w.storedCursor
	}
	if o.SetCursor == nil {
		o.SetCursor = w.storeCursor
	}
}

// Worker owns the synchronization loop.
type Worker struct {
	engine  *engine.Engine
	planner *plan.Planner
	push    PushHandler
	pull    PullHandler
	opts    Options
	log     zerolog.Logger
	clock   clockwork.Clock

	mu         sync.Mutex
	running    bool
	processing bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	status     Status
	subs       map[int]func(Status)
	nextSub    int
}

// New builds a worker. Handlers may be nil, disabling the corresponding
// phase.
func New(eng *engine.Engine, push PushHandler, pull PullHandler, opts Options) *Worker {
	w := &Worker{
		engine:  eng,
		planner: plan.New(eng.Registry()),
		push:    push,
		pull:    pull,
		subs:    make(map[int]func(Status)),
	}
	opts.fill(w)
	w.opts = opts
	w.log = opts.Logger
	w.clock = opts.Clock
	return w
}

// Start launches the loop: one immediate cycle, then one per interval.
// Starting a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()
	w.updateStatus(func(s *Status) { s.Running = true })

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runCycle(ctx)
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-w.clock.After(w.opts.Interval):
				w.runCycle(ctx)
			}
		}
	}()
}

// Stop halts scheduling and waits for any in-flight cycle to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()
	w.wg.Wait()
	w.updateStatus(func(s *Status) { s.Running = false })
}

// SyncNow runs one cycle immediately on the calling goroutine. It is a
// no-op when a cycle is already in flight.
func (w *Worker) SyncNow(ctx context.Context) {
	w.runCycle(ctx)
}

func (w *Worker) runCycle(ctx context.Context) {
	w.mu.Lock()
	if w.processing {
		w.mu.Unlock()
		return
	}
	w.processing = true
	w.mu.Unlock()
	w.updateStatus(func(s *Status) { s.Processing = true })
	defer func() {
		w.mu.Lock()
		w.processing = false
		w.mu.Unlock()
		w.updateStatus(func(s *Status) { s.Processing = false })
	}()

	var cycleErr error
	if w.push != nil {
		w.updateStatus(func(s *Status) { s.Pushing = true })
		if err := w.drainPush(ctx); err != nil {
			w.log.Error().Err(err).Msg("push phase failed")
			cycleErr = err
		}
		w.updateStatus(func(s *Status) { s.Pushing = false })
	}
	// Pull waits for the next cycle when the push phase failed: local
	// changes upload before server changes land on top of them.
	if w.pull != nil && cycleErr == nil {
		w.updateStatus(func(s *Status) { s.Pulling = true })
		if err := w.drainPull(ctx); err != nil {
			w.log.Error().Err(err).Msg("pull phase failed")
			cycleErr = err
		}
		w.updateStatus(func(s *Status) { s.Pulling = false })
	}

	now := w.clock.Now()
	w.updateStatus(func(s *Status) {
		if cycleErr != nil {
			s.LastError = cycleErr.Error()
			return
		}
		s.LastError = ""
		s.LastSyncAt = &now
	})
}
