package storage

import "errors"

var (
	// ErrBlockFull reports that an insert failed because the target block
	// has no room for another tuple, but already holds at least one.
	// Retrying in a different block may succeed.
	ErrBlockFull = errors.New("storage: block is full")

	// ErrTupleTooLarge reports that an insert into an empty block failed:
	// the tuple cannot fit this block layout at all, so retrying in another
	// block of the same layout will not help.
	ErrTupleTooLarge = errors.New("storage: tuple too large for block")

	// ErrMalformedBlock reports that a reopened block's header failed
	// validation.
	ErrMalformedBlock = errors.New("storage: malformed block")

	// ErrBlockMemoryTooSmall reports that a sub-block was assigned a region
	// too small to hold even its own metadata.
	ErrBlockMemoryTooSmall = errors.New("storage: block memory too small")

	// ErrInvalidLayout reports a layout description that is not valid for
	// its relation.
	ErrInvalidLayout = errors.New("storage: invalid block layout")

	// ErrIndexesInconsistent reports that one or more index sub-blocks
	// could not be rebuilt and remain inconsistent. The tuple store stays
	// usable; scans must not consult the stale indexes.
	ErrIndexesInconsistent = errors.New("storage: index sub-blocks inconsistent")
)
