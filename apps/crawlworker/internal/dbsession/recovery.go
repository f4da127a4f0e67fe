// Package dbsession implements SessionRecovery (C5): a wrapper around a
// database operation that detects a corrupted session (one whose
// internal transaction state no longer permits any statement to
// execute), discards it, and retries once against a fresh session.
package dbsession

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ragforge/crawlmesh/pkg/database"
	"github.com/ragforge/crawlmesh/pkg/observability"
)

// corruptionSubstrings are matched against an error's message as a
// fallback when the concrete error type doesn't survive across a
// driver/serialization boundary -- per spec §4.5's detection rule (b).
var corruptionSubstrings = []string{
	"pending rollback",
	"invalid transaction",
	"autobegin is disabled",
	"another operation is in progress",
	"current transaction is aborted",
}

// IsCorrupted reports whether err indicates the session it came from can
// no longer execute any statement.
func IsCorrupted(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range corruptionSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RollbackTimeout bounds the ping WithFreshConnection issues before its
// retry. CloseTimeout is not used in this package, and neither constant
// bounds the rollback of a failed transaction inside Execute.
const (
	RollbackTimeout = 2 * time.Second
	CloseTimeout    = 2 * time.Second
)

// Operation is a unit of work that SessionRecovery executes against a
// fresh session (transaction) each time it is invoked.
type Operation func(tx database.Transaction) error

// Recovery wraps Operations in automatic recovery from a corrupted
// session, grounded on pkg/database/unit_of_work.go's
// ExecuteWithOptions rollback-then-repanic shape and Rollback's
// sql.ErrTxDone idempotency guard, generalized into a standalone
// session-per-operation wrapper usable around any single call rather than
// only inside UnitOfWork.Execute.
type Recovery struct {
	uow    database.UnitOfWork
	logger observability.Logger
}

// New builds a Recovery wrapping uow, which is expected to hand out a
// brand-new session (transaction) on every BeginTx/Execute call -- the
// session-per-operation pattern spec §4.5 requires, so that long-running
// tasks never hold a DB connection between operations.
func New(uow database.UnitOfWork, logger observability.Logger) *Recovery {
	return &Recovery{uow: uow, logger: logger.WithPrefix("session-recovery")}
}

// Execute runs op inside a fresh transaction. If op fails with a
// corrupted-session error, Execute logs and discards that session and
// retries op exactly once against a brand-new session; any other error is
// propagated as-is, and a failure on retry is returned wrapped. The failed
// session's only rollback is the one UnitOfWork issues when op returns an
// error, with no timeout of its own; no separate close is issued.
func (r *Recovery) Execute(ctx context.Context, op Operation) error {
	err := r.uow.Execute(ctx, func(tx database.Transaction) error {
		return op(tx)
	})
	if err == nil {
		return nil
	}
	if !IsCorrupted(err) {
		return err
	}

	r.logger.Warn("corrupted session detected, recovering", map[string]interface{}{
		"error": err.Error(),
	})
	r.cleanupCorrupted(ctx, err)

	retryErr := r.uow.Execute(ctx, func(tx database.Transaction) error {
		return op(tx)
	})
	if retryErr != nil {
		return errors.Wrap(retryErr, "operation failed after session recovery retry")
	}
	return nil
}

// cleanupCorrupted marks the corrupted session as discarded. The
// underlying UnitOfWork's ExecuteWithOptions already attempted rollback
// on the transaction object when op failed (see unit_of_work.go), so by
// the time Execute sees the error the session-level rollback has already
// happened or failed (UnitOfWork does not time-bound it); what's left here is the
// "detach and close" half of spec §4.5's protocol, which in this
// sqlx.DB-pooled implementation is the driver's job once the *sqlx.Tx
// is dropped -- there is no separate handle for callers to close.
// RollbackTimeout/CloseTimeout remain as named constants because a
// concrete driver that exposes a raw session (e.g. a non-pooled
// connection) would bound its own cleanup calls with them.
func (r *Recovery) cleanupCorrupted(ctx context.Context, cause error) {
	r.logger.Warn("discarding corrupted session", map[string]interface{}{"error": cause.Error()})
}

// IsTxDone reports whether err is sql.ErrTxDone or wraps it -- used by
// callers that want to tolerate a transaction already being finished
// without treating it as corruption, matching
// pkg/database/unit_of_work.go's Rollback idempotency guard.
func IsTxDone(err error) bool {
	return errors.Is(err, sql.ErrTxDone)
}

// WithFreshConnection is a convenience for operations that need a raw
// *sqlx.DB connection rather than a Transaction (e.g. a health check
// ping), still subject to the same corrupted-session retry policy.
func WithFreshConnection(ctx context.Context, db *sqlx.DB, op func(*sqlx.DB) error) error {
	err := op(db)
	if err == nil || !IsCorrupted(err) {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, RollbackTimeout)
	defer cancel()
	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		return errors.Wrap(err, "session corrupted and ping failed")
	}
	return op(db)
}
