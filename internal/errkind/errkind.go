// Package errkind classifies errors that cross a match/room/transport
// boundary so callers can apply the right policy (reject via callback,
// emit a targeted event, or drop the connection) in one place instead of
// re-deriving it from error strings at every call site.
package errkind

import "fmt"

// Kind names the error-handling policy bucket an error belongs to.
type Kind string

const (
	BadRequest     Kind = "bad_request"
	NotFound       Kind = "not_found"
	Forbidden      Kind = "forbidden"
	Conflict       Kind = "conflict"
	StoreTransient Kind = "store_transient"
	JudgeError     Kind = "judge_error"
	PenaltyForfeit Kind = "penalty_forfeit"
	Fatal          Kind = "fatal"
)

// Kinded wraps an underlying error with its handling Kind.
type Kinded struct {
	Kind Kind
	Err  error
}

func (k *Kinded) Error() string {
	if k.Err == nil {
		return string(k.Kind)
	}
	return fmt.Sprintf("%s: %v", k.Kind, k.Err)
}

func (k *Kinded) Unwrap() error {
	return k.Err
}

// New wraps err with the given Kind. A nil err still yields a non-nil
// *Kinded carrying only the kind, so call sites can use it as a sentinel.
func New(kind Kind, err error) *Kinded {
	return &Kinded{Kind: kind, Err: err}
}

// Newf wraps a formatted error with the given Kind.
func Newf(kind Kind, format string, args ...interface{}) *Kinded {
	return &Kinded{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Of extracts the Kind from err, defaulting to Fatal if err does not carry one.
func Of(err error) Kind {
	var k *Kinded
	if err == nil {
		return ""
	}
	if ok := asKinded(err, &k); ok {
		return k.Kind
	}
	return Fatal
}

func asKinded(err error, target **Kinded) bool {
	for err != nil {
		if k, ok := err.(*Kinded); ok {
			*target = k
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
