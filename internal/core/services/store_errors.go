package services

import (
	"errors"
	"fmt"

	"roomrelay/internal/core/domain"
)

// storeError passes domain errors through and wraps everything else as a
// persistence failure for op.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrRoomNotFound) ||
		errors.Is(err, domain.ErrRoomExists) ||
		errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

// reconcileError marks a membership change that peers were told about but
// the store did not commit.
func reconcileError(op string, err error) error {
	return fmt.Errorf("%w: %w", domain.ErrReconciliation, storeError(op, err))
}
