package scheduler

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable wraps shared store failures. Without the store no
// interrupt, lock or overlap decision is safe, so it aborts the pass.
var ErrStoreUnavailable = errors.New("shared flag store unavailable")

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
