package db

import (
	"context"
	"database/sql"
	"errors"
)

// ErrTimeout reports that a caller-provided deadline expired while a write
// was queued or executing. No partial write is visible in that case: the
// transaction either commits fully in the background or rolls back.
var ErrTimeout = errors.New("database write deadline expired")

type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker serializes all mutations through a single goroutine so SQLite sees
// one writer. Reads go straight to the pool.
type Worker struct {
	db   *sql.DB
	jobs chan job
	done chan struct{}
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) Close() {
	close(w.jobs)
	<-w.done
}

// Do runs fn inside a transaction on the writer goroutine. A deadline expiry
// while the job is queued or executing surfaces as ErrTimeout; the worker
// loop still finishes the transaction and the discarded result lands in the
// buffered ch.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return waitErr(ctx)
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return waitErr(ctx)
	}
}

func waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		tx, err := w.db.BeginTx(j.ctx, nil)
		if err != nil {
			j.ch <- err
			continue
		}

		if err := j.fn(j.ctx, tx); err != nil {
			_ = tx.Rollback()
			j.ch <- err
			continue
		}

		j.ch <- tx.Commit()
	}
}
