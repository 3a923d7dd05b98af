package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "keygate/pkg/domain-errors"
	txcontext "keygate/pkg/platform/tx"
)

const defaultOutboxTxTimeout = 5 * time.Second

// outboxTx bounds each relay batch transaction so a stuck broker cannot hold
// outbox row locks indefinitely.
type outboxTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newOutboxTx(db *sql.DB) *outboxTx {
	return &outboxTx{db: db}
}

func (t *outboxTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultOutboxTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return txcontext.Run(ctx, t.db, fn)
}
