package nanots

import (
	"errors"
	"fmt"
)

// Code identifies a class of error a nanots operation can fail with.
// Callers should compare with errors.Is against the sentinel error of
// the same name rather than switching on Code directly.
type Code int

const (
	CodeUnknown Code = iota
	CodeCantOpen
	CodeSchema
	CodeInvalidBlockSize
	CodeNoFreeBlocks
	CodeDuplicateStreamTag
	CodeUnableToCreateSegment
	CodeUnableToCreateSegmentBlock
	CodeNonMonotonicTimestamp
	CodeRowSizeTooBig
	CodeUnableToAllocateFile
	CodeInvalidArgument
)

var (
	ErrCantOpen                    = errors.New("nanots: cannot open file")
	ErrSchema                      = errors.New("nanots: catalog schema error")
	ErrInvalidBlockSize            = errors.New("nanots: invalid block size")
	ErrNoFreeBlocks                = errors.New("nanots: no free blocks available")
	ErrDuplicateStreamTag          = errors.New("nanots: stream tag already has an active write context")
	ErrUnableToCreateSegment       = errors.New("nanots: unable to create segment")
	ErrUnableToCreateSegmentBlock  = errors.New("nanots: unable to create segment block")
	ErrNonMonotonicTimestamp       = errors.New("nanots: timestamp is not monotonically increasing")
	ErrRowSizeTooBig               = errors.New("nanots: frame too large for block")
	ErrUnableToAllocateFile        = errors.New("nanots: unable to allocate file")
	ErrInvalidArgument             = errors.New("nanots: invalid argument")
	ErrUnknown                     = errors.New("nanots: unknown error")
)

var sentinelByCode = map[Code]error{
	CodeCantOpen:                   ErrCantOpen,
	CodeSchema:                     ErrSchema,
	CodeInvalidBlockSize:           ErrInvalidBlockSize,
	CodeNoFreeBlocks:               ErrNoFreeBlocks,
	CodeDuplicateStreamTag:         ErrDuplicateStreamTag,
	CodeUnableToCreateSegment:      ErrUnableToCreateSegment,
	CodeUnableToCreateSegmentBlock: ErrUnableToCreateSegmentBlock,
	CodeNonMonotonicTimestamp:      ErrNonMonotonicTimestamp,
	CodeRowSizeTooBig:              ErrRowSizeTooBig,
	CodeUnableToAllocateFile:       ErrUnableToAllocateFile,
	CodeInvalidArgument:            ErrInvalidArgument,
	CodeUnknown:                    ErrUnknown,
}

// Error is the concrete error type returned by nanots operations. It
// carries the failing operation name and, where applicable, the
// underlying cause (an *os.PathError, a database/sql error, etc).
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nanots: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("nanots: %s: %v", e.Op, sentinelByCode[e.Code])
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return sentinelByCode[e.Code]
}

func (e *Error) Is(target error) bool {
	return target == sentinelByCode[e.Code]
}

// wrapErr builds an *Error for op/code, optionally wrapping cause.
func wrapErr(op string, code Code, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}
