package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Validator checks a cached session against the identity provider.
type Validator struct {
	checker IdentityChecker
	conn    Connectivity
	timeout time.Duration
	logger  *slog.Logger
}

// NewValidator creates a Validator. A nil conn is treated as always online and
// a non-positive timeout selects DefaultTimeout.
func NewValidator(checker IdentityChecker, conn Connectivity, timeout time.Duration, logger *slog.Logger) *Validator {
	if conn == nil {
		conn = AlwaysOnline
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{checker: checker, conn: conn, timeout: timeout, logger: logger}
}

type whoAmIReply struct {
	id  *Identity
	err error
}

// Validate confirms cached is still live. It returns Inconclusive without a
// remote call when offline, and Inconclusive when the call errors or does not
// answer within the timeout. A call that answers after the timeout is ignored.
func (v *Validator) Validate(ctx context.Context, cached *Session) Result {
	if cached == nil || cached.Token == "" {
		return Result{Kind: Invalid, Err: ErrNoSession}
	}

	if !v.conn.Online(ctx) {
		v.logger.Info("offline, skipping session validation", "owner_id", cached.OwnerID)
		return Result{Kind: Inconclusive, Session: cached.Clone(), Err: ErrOffline}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	replies := make(chan whoAmIReply, 1)
	go func() {
		id, err := v.checker.WhoAmI(ctx, cached.Token)
		replies <- whoAmIReply{id: id, err: err}
	}()

	var reply whoAmIReply
	select {
	case reply = <-replies:
	case <-ctx.Done():
		v.logger.Warn("session validation timed out", "owner_id", cached.OwnerID, "timeout", v.timeout)
		return Result{Kind: Inconclusive, Session: cached.Clone(), Err: ctx.Err()}
	}

	switch {
	case errors.Is(reply.err, ErrRejected):
		v.logger.Info("session rejected by identity provider", "owner_id", cached.OwnerID)
		return Result{Kind: Invalid, Err: reply.err}
	case reply.err != nil:
		v.logger.Warn("session validation failed", "owner_id", cached.OwnerID, "error", reply.err)
		return Result{Kind: Inconclusive, Session: cached.Clone(), Err: reply.err}
	case reply.id == nil || reply.id.OwnerID == "":
		v.logger.Warn("session validation returned no owner", "owner_id", cached.OwnerID)
		return Result{Kind: Inconclusive, Session: cached.Clone(), Err: ErrNoOwner}
	}

	validated := cached.Clone()
	mismatch := reply.id.OwnerID != cached.OwnerID
	if mismatch {
		v.logger.Warn("validated owner differs from cached session",
			"cached_owner_id", cached.OwnerID,
			"validated_owner_id", reply.id.OwnerID,
		)
		validated.OwnerID = reply.id.OwnerID
	}
	return Result{Kind: Validated, Session: validated, Mismatch: mismatch}
}
