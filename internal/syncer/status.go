package syncer

import "time"

// Status is a snapshot of the worker's state and lifetime counters.
type Status struct {
	Running    bool
	Processing bool
	Pushing    bool
	Pulling    bool

	// LastSyncAt is the completion time of the last fully successful
	// cycle.
	LastSyncAt *time.Time
	LastError  string

	// Pushed counts outbox events acknowledged by the server.
	Pushed int
	// Applied counts server changes applied locally.
	Applied int
	// Missing counts server changes that targeted absent records or
	// failed to apply.
	Missing int
	// Echoes counts server changes skipped as this replica's own.
	Echoes int
}

// SubToken identifies a status subscription for removal.
type SubToken int

// Status returns the current snapshot.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Subscribe registers fn to observe every status change. The current
// snapshot is delivered immediately.
func (w *Worker) Subscribe(fn func(Status)) SubToken {
	w.mu.Lock()
	w.nextSub++
	tok := SubToken(w.nextSub)
	w.subs[int(tok)] = fn
	cur := w.status
	w.mu.Unlock()
	fn(cur)
	return tok
}

// Unsubscribe removes a status subscription.
func (w *Worker) Unsubscribe(tok SubToken) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, int(tok))
}

func (w *Worker) updateStatus(mutate func(*Status)) {
	w.mu.Lock()
	mutate(&w.status)
	cur := w.status
	subs := make([]func(Status), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()
	for _, fn := range subs {
		fn(cur)
	}
}
