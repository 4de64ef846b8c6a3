// Package fetchqueue is the FQ module: a binary-framed FIFO list in KVC
// that FE producers push to and PC workers block-pop from.
package fetchqueue

import (
	"context"
	"time"
)

const queueKey = "fetch:queue"

// popTimeout bounds each BLPop call so a PC worker wakes periodically to
// check its shutdown flag even with an empty queue, per spec §4.6.
const popTimeout = 5 * time.Second

// KVC is the narrow slice of internal/kvc.Client the fetch queue needs.
type KVC interface {
	RPush(ctx context.Context, key string, values ...any) (int64, error)
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, bool, error)
	LLen(ctx context.Context, key string) (int64, error)
}

// Queue is FQ's public contract: a FIFO of fetched-page records between
// FE producers and PC consumers.
type Queue struct {
	kv KVC
}

// New constructs a Queue over kv.
func New(kv KVC) *Queue {
	return &Queue{kv: kv}
}

// Push encodes rec and appends it to the tail of the fetch queue.
func (q *Queue) Push(ctx context.Context, rec Record) error {
	raw, err := Encode(rec)
	if err != nil {
		return err
	}
	if _, err := q.kv.RPush(ctx, queueKey, string(raw)); err != nil {
		return &FetchQueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueueFailure}
	}
	return nil
}

// BlockingPop waits up to a 5s timeout for the next record. ok is false
// when the timeout elapsed with nothing to pop; callers should loop back
// around to check their shutdown flag, not treat this as an error.
func (q *Queue) BlockingPop(ctx context.Context) (Record, bool, error) {
	vals, ok, err := q.kv.BLPop(ctx, popTimeout, queueKey)
	if err != nil {
		return Record{}, false, &FetchQueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueueFailure}
	}
	if !ok || len(vals) < 2 {
		return Record{}, false, nil
	}
	rec, err := Decode([]byte(vals[1]))
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Len reports the current queue depth, used by telemetry.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.kv.LLen(ctx, queueKey)
	if err != nil {
		return 0, &FetchQueueError{Message: err.Error(), Retryable: true, Cause: ErrCauseQueueFailure}
	}
	return n, nil
}
