package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrLogExists is returned by OpenForAppend when the file is already there.
	// An existing log has to go through recovery before a new one is opened.
	ErrLogExists = errors.New("command log already exists")
	// ErrWriterFailed is matched by every error a writer returns after a
	// failed write or sync. The partition must stop acknowledging commits.
	ErrWriterFailed = errors.New("command log writer failed")
	ErrWriterClosed = errors.New("command log writer is closed")
)

// WALWriteError records the I/O failure that broke a writer.
type WALWriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WALWriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WALWriteError) Unwrap() error { return e.Err }

func (e *WALWriteError) Is(target error) bool { return target == ErrWriterFailed }
