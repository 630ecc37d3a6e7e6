package wal

import (
	"fmt"

	"github.com/pkg/errors"
)

// Decode failures inside the body of a log. These mark the end of the usable
// log during replay; they are never fatal to recovery.
var (
	ErrTruncatedRecord = errors.New("truncated log record")
	ErrMalformedRecord = errors.New("malformed log record")
	ErrTruncatedBlock  = errors.New("truncated group commit block")
	ErrCorruptBlock    = errors.New("corrupt group commit block")
)

// ErrCorruptHeader is fatal: without the procedure mapping no entry can be interpreted.
var ErrCorruptHeader = errors.New("corrupt command log header")

var (
	ErrUnknownProcedure   = errors.New("procedure id not in command log header")
	ErrDuplicateProcedure = errors.New("duplicate procedure id")
	ErrUnsupportedParam   = errors.New("unsupported parameter type")
	ErrRecordTooLarge     = errors.New("log record too large")
)

// IsTailCorruption reports whether err is one of the framing errors that a
// crash in the middle of an append can leave at the end of a log.
func IsTailCorruption(err error) bool {
	return errors.Is(err, ErrTruncatedRecord) ||
		errors.Is(err, ErrMalformedRecord) ||
		errors.Is(err, ErrTruncatedBlock) ||
		errors.Is(err, ErrCorruptBlock)
}

// ReplayError is returned when the consumer of a replayed log rejects an entry.
// The log file is left where it is so that recovery can be retried.
type ReplayError struct {
	Path  string
	Index int
	Err   error
}

func (e ReplayError) Error() string {
	return fmt.Sprintf("replay %s: entry #%d: %v", e.Path, e.Index, e.Err)
}

func (e ReplayError) Unwrap() error {
	return e.Err
}
