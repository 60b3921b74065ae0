// Package pipeline holds the failure taxonomy shared by every stage.
package pipeline

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindRasterization is a terminal fault in the submitted document itself.
	KindRasterization Kind = "rasterization"
	// KindTransient covers outages and rate limits; the message may be retried.
	KindTransient Kind = "transient"
	// KindPermanent is a per-message fault that no retry can fix.
	KindPermanent Kind = "permanent"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func RasterizationError(message string, err error) *Error {
	return &Error{Kind: KindRasterization, Message: message, Err: err}
}

func TransientError(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

func PermanentError(message string, err error) *Error {
	return &Error{Kind: KindPermanent, Message: message, Err: err}
}

// KindOf returns the kind of the first pipeline error in the chain.
// Unclassified errors are treated as transient so infrastructure hiccups get retried.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

func IsPermanent(err error) bool {
	return err != nil && KindOf(err) == KindPermanent
}

func IsRasterization(err error) bool {
	return err != nil && KindOf(err) == KindRasterization
}
