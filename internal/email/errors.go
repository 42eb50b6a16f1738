package email

import "errors"

// Kind classifies a failure so the HTTP layer can pick a status code.
type Kind int

const (
	KindUnknown Kind = iota
	InvalidInput
	AuthFailure
	FolderFailure
	TransportFailure
	FetchFailure
	NotFound
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case AuthFailure:
		return "auth_failure"
	case FolderFailure:
		return "folder_failure"
	case TransportFailure:
		return "transport_failure"
	case FetchFailure:
		return "fetch_failure"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the failed step and doubles as
// the whole message when Err is nil.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Cause returns the diagnostic text of err without the Op prefix of its
// outermost *Error.
func Cause(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
