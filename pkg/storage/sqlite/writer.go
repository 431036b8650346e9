package sqlite

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/storage"
)

const writeQueueSize = 256

// writeReq is one unit of serialized work. The writer goroutine runs fn
// inside its own transaction and reports the outcome on done.
type writeReq struct {
	ctx  context.Context
	fn   func(tx *sql.Tx) error
	done chan error
}

// writer is the single logical writer: it applies queued mutations one at a
// time, each in its own transaction, so index maintenance and entity
// resolution can never race. Read-your-writes within a logical request holds
// because the caller's write completes (done is signalled) before it issues
// the follow-up read.
func (s *Store) writer() {
	defer s.wg.Done()

	for req := range s.writes {
		req.done <- s.apply(req)
	}
}

func (s *Store) apply(req writeReq) error {
	if err := req.ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if err := req.fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// write submits fn to the writer queue and waits for it to be applied.
func (s *Store) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return storage.ErrClosed
	}

	req := writeReq{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case s.writes <- req:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		// The mutation may still be applied by the writer; the caller only
		// loses the acknowledgement.
		s.logger.Warn("write acknowledgement abandoned", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
