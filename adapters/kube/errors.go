package kube

import (
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Operation names recorded in OpError.
const (
	OpCreate = "create"
	OpGet    = "get"
	OpList   = "list"
	OpUpdate = "update"
	OpPatch  = "patch"
	OpDelete = "delete"
)

var (
	// ErrNotFound reports a resource missing from the cluster. It drives create-vs-update
	// decisions and is never surfaced to users on its own.
	ErrNotFound = errors.New("resource not found")
	// ErrApply reports a create, update or patch rejected by the API server.
	ErrApply = errors.New("apply failed")
	// ErrDelete reports a delete rejected by the API server for a reason other than absence.
	ErrDelete = errors.New("delete failed")
	// ErrPatchComputation reports that no patch could be computed from the last-applied state.
	ErrPatchComputation = errors.New("patch computation failed")
	// ErrTimeout reports a bounded wait that expired.
	ErrTimeout = errors.New("timed out")
	// ErrUnsupportedKind reports a manifest whose kind has no registered handler.
	ErrUnsupportedKind = errors.New("unsupported resource kind")
)

// OpError records a failed cluster operation together with the kind and name it targeted.
type OpError struct {
	Op   string
	Kind Kind
	Name string
	Err  error
}

func (e *OpError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Kind, e.Name, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is classifies the error into the package taxonomy so callers can use errors.Is.
func (e *OpError) Is(target error) bool {
	switch target {
	case ErrApply:
		return e.Op == OpCreate || e.Op == OpUpdate || e.Op == OpPatch
	case ErrDelete:
		return e.Op == OpDelete
	case ErrNotFound:
		return apierrors.IsNotFound(e.Err)
	}
	return false
}

// IsNotFound reports whether err means the resource does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound) || apierrors.IsNotFound(err)
}

// IsConflict reports whether err is an optimistic concurrency conflict.
func IsConflict(err error) bool {
	return err != nil && apierrors.IsConflict(err)
}

func opError(op string, kind Kind, name string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Kind: kind, Name: name, Err: err}
}
