// Package lock serializes ledger writes that share a key, such as one
// obligation or one student, across goroutines and optionally across replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
)

var ErrLockTimeout = errors.New("lock_timeout")

// Unlock releases a held key. It is safe to call more than once.
type Unlock func()

type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

func ObligationKey(obligationID int64) string {
	return fmt.Sprintf("bursar:lock:obligation:%d", obligationID)
}

func StudentKey(studentID int64) string {
	return fmt.Sprintf("bursar:lock:student:%d", studentID)
}
