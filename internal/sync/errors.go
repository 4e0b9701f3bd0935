package sync

import (
	"errors"
	"fmt"
)

// Kind classifies why an account cycle or a single message failed.
type Kind string

const (
	// KindCredential: no usable or refreshable token. Not retried until the mailbox is reconnected.
	KindCredential Kind = "credential"
	// KindProvider: non-success provider response, including mid-pagination. Retried next tick.
	KindProvider Kind = "provider"
	// KindMalformed: one message could not be normalized. The message is skipped.
	KindMalformed Kind = "malformed"
	// KindStore: persistence failure. Retried next tick.
	KindStore Kind = "store"
)

// Error is the typed failure propagated to the Manager.
type Error struct {
	Kind      Kind
	AccountID string
	Op        string
	Err       error
}

func (e *Error) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("%s: account %s: %s: %v", e.Kind, e.AccountID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, accountID, op string, err error) error {
	return &Error{Kind: kind, AccountID: accountID, Op: op, Err: err}
}
