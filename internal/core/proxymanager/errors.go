package proxymanager

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReconciled rejects transitions requested before Reconcile ran.
	ErrNotReconciled = errors.New("proxy manager has not reconciled host state yet")
	// ErrAlreadyReconciled is returned by a second Reconcile call.
	ErrAlreadyReconciled = errors.New("proxy manager already reconciled")
	// ErrInvalidConfig wraps validation failures of a config passed to Enable.
	ErrInvalidConfig = errors.New("invalid proxy config")
)

// HostError is a failed call to the host proxy API.
type HostError struct {
	Op  string // "get" or "set"
	Err error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host proxy %s failed: %v", e.Op, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

// StorageError is a failed read or write of the durable record.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s failed: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
