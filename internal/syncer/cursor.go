package syncer

import (
	"context"
	"strconv"

	"github.com/roach88/replica/internal/kv"
)

// stateStore holds syncer bookkeeping, outside any model's store.
const stateStore = "_sync"

const cursorKey = "cursor"

// storedCursor reads the persisted pull watermark. Zero means the
// beginning of the change log.
func (w *Worker) storedCursor(ctx context.Context) (int64, error) {
	txn, err := w.engine.Begin(ctx, kv.Read, []string{stateStore})
	if err != nil {
		return 0, err
	}
	defer txn.Rollback()
	data, ok, err := txn.Get(ctx, stateStore, cursorKey)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(string(data), 10, 64)
}

func (w *Worker) storeCursor(ctx context.Context, cursor int64) error {
	txn, err := w.engine.Begin(ctx, kv.ReadWrite, []string{stateStore})
	if err != nil {
		return err
	}
	defer txn.Rollback()
	if err := txn.Put(ctx, stateStore, cursorKey, []byte(strconv.FormatInt(cursor, 10))); err != nil {
		return err
	}
	return txn.Commit()
}
