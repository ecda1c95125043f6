package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every pipeline stage. Callers match with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNetwork            = errors.New("network error")
	ErrDecode             = errors.New("decode error")
	ErrLoad               = errors.New("load error")
	ErrUnsupportedLocator = errors.New("unsupported locator")
	ErrMissingDependency  = errors.New("missing dependency")
)

// Errorf wraps kind with a formatted message.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Wrap attaches kind to err, keeping both matchable with errors.Is.
func Wrap(kind error, msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}
