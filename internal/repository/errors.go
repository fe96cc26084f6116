package repository

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidCustomer     = errors.New("invalid_customer")
)

// OpError tags a failure with the model and operation that was attempted.
type OpError struct {
	Model string
	Op    string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Model, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(model, op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Model: model, Op: op, Err: err}
}
