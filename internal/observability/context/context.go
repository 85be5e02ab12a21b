package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "obs_request_id"
	actorIDKey   ctxKey = "obs_actor_id"
	ledgerKey    ctxKey = "obs_ledger_scope"
)

// LedgerScope names the student and obligation a ledger write is working on.
type LedgerScope struct {
	StudentID    string
	ObligationID string
}

// WithRequestID stores the request correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithActorID stores the identity of the staff member issuing the request.
func WithActorID(ctx context.Context, actorID string) context.Context {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorIDKey, actorID)
}

func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(actorIDKey).(string)
	return value
}

// WithLedgerScope marks ctx as belonging to a write on one obligation. Empty
// fields keep the values already in ctx.
func WithLedgerScope(ctx context.Context, scope LedgerScope) context.Context {
	current := LedgerScopeFromContext(ctx)
	if id := strings.TrimSpace(scope.StudentID); id != "" {
		current.StudentID = id
	}
	if id := strings.TrimSpace(scope.ObligationID); id != "" {
		current.ObligationID = id
	}
	if current == (LedgerScope{}) {
		return ctx
	}
	return context.WithValue(ctx, ledgerKey, current)
}

func LedgerScopeFromContext(ctx context.Context) LedgerScope {
	if ctx == nil {
		return LedgerScope{}
	}
	scope, _ := ctx.Value(ledgerKey).(LedgerScope)
	return scope
}
