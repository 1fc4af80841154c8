package wallet

import "errors"

// Error kinds returned by the wallet service. Match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRateLimited       = errors.New("rate limited")
	ErrStorageFailure    = errors.New("storage failure")
)

// Error carries a caller-facing message alongside its kind.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Is matches the error kind. The cause is reachable through Unwrap.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

func failure(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func storageFailure(msg string, err error) error {
	return &Error{Kind: ErrStorageFailure, Msg: msg, Err: err}
}
