package adapter

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/chiron/pkg/db"
)

// ErrConstraintViolation reports a unique or foreign-key failure raised by the store.
var ErrConstraintViolation = errors.New("constraint_violation")

// StorageError carries a backend failure together with where it happened.
// The wrapped error is the backend's own, unmodified.
type StorageError struct {
	Backend    string
	Model      string
	Op         string
	Constraint bool
	Err        error
}

func (e *StorageError) Error() string {
	kind := "storage error"
	if e.Constraint {
		kind = ErrConstraintViolation.Error()
	}
	return fmt.Sprintf("%s: %s %s.%s: %v", kind, e.Backend, e.Model, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConstraintViolation) match constraint failures.
func (e *StorageError) Is(target error) bool {
	return target == ErrConstraintViolation && e.Constraint
}

// Wrap tags err with backend/model/op. Nil stays nil and errors that are
// already StorageErrors are returned unchanged.
func Wrap(backend, model, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{
		Backend:    backend,
		Model:      model,
		Op:         op,
		Constraint: errors.Is(err, ErrConstraintViolation) || db.IsDuplicateKeyErr(err),
		Err:        err,
	}
}

// Constraint builds a constraint violation for backends that enforce
// uniqueness themselves.
func Constraint(backend, model, op, detail string) error {
	return &StorageError{
		Backend:    backend,
		Model:      model,
		Op:         op,
		Constraint: true,
		Err:        errors.New(detail),
	}
}
