package service

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Specific errors below wrap one of these so
// transports can map them with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrBanned        = errors.New("user is banned")
	ErrForbidden     = errors.New("forbidden")
)

var (
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	ErrChatNotFound = fmt.Errorf("chat %w", ErrNotFound)
	ErrNotAdmin     = fmt.Errorf("admin privileges required: %w", ErrForbidden)
)
