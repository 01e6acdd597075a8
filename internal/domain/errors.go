package domain

import "errors"

// ErrSessionNotFound is returned when a referenced session does not exist or
// has been soft-deleted.
var ErrSessionNotFound = errors.New("session not found")

// ErrMessageNotFound is returned when a referenced message does not exist.
var ErrMessageNotFound = errors.New("message not found")
