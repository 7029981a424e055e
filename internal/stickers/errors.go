package stickers

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCollectionName = errors.New("stickers: invalid collection name")
	ErrCollectionDrift       = errors.New("stickers: collection drift")
	ErrInvalidScope          = errors.New("stickers: invalid scope")
	ErrUnknownKind           = errors.New("stickers: unknown slot kind")
	ErrMissingImage          = errors.New("stickers: image data required")
	ErrMissingPlaceholder    = errors.New("stickers: placeholder image required")
	ErrNotDescription        = errors.New("stickers: slot is not a description")
	ErrMissingRemote         = errors.New("stickers: remote collection adapter required")
	ErrMissingNameGenerator  = errors.New("stickers: name generator required")
	// ErrCollectionNotFound is reported by adapters when a collection no longer exists remotely.
	ErrCollectionNotFound    = errors.New("stickers: collection not found")
)

// DriftError reports that the local mirror and the remote collection disagree about a slot.
type DriftError struct {
	Collection string
	SlotIndex  int
	Size       int
	Detail     string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("stickers: collection %q drifted at slot %d (remote size %d): %s", e.Collection, e.SlotIndex, e.Size, e.Detail)
}

// Is makes DriftError match ErrCollectionDrift.
func (e *DriftError) Is(target error) bool {
	return target == ErrCollectionDrift
}
