package cache

import "errors"

// Errors
var (
	// ErrExists is returned by Add/AddItem when the key is already present.
	ErrExists = errors.New("cache: key already exists")

	// ErrNotExisting is returned by UpdateExisting when the key is absent.
	ErrNotExisting = errors.New("cache: no such key")

	// ErrLocked is returned by TryIsolated when another holder currently
	// owns the row lock.
	ErrLocked = errors.New("cache: key is locked")

	// ErrTimeout is returned by locking operations when the row lock is not
	// granted within the acquire timeout.
	ErrTimeout = errors.New("cache: lock acquire timed out")

	// ErrNoLoader is returned by GetOrLoad when no Loader was configured.
	ErrNoLoader = errors.New("cache: no Loader provided")
)
