package hass

import "errors"

// Kind classifies why a fetch failed. Every kind is terminal for that single
// fetch only.
type Kind uint8

const (
	KindTransport Kind = iota + 1 // dial, TLS, send, receive or deadline failure
	KindTruncated                 // body larger than the scratch buffer
	KindStatus                    // non-2xx HTTP status
	KindEncoding                  // body is not valid UTF-8
	KindDecode                    // body is not a JSON object with a string "state"
)

var (
	ErrTransport = errors.New("transport error")
	ErrTruncated = errors.New("response too large")
	ErrStatus    = errors.New("unexpected status")
	ErrEncoding  = errors.New("invalid utf-8")
	ErrDecode    = errors.New("invalid state document")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindTruncated:
		return ErrTruncated
	case KindStatus:
		return ErrStatus
	case KindEncoding:
		return ErrEncoding
	case KindDecode:
		return ErrDecode
	}
	return nil
}

func (k Kind) String() string {
	if err := k.sentinel(); err != nil {
		return err.Error()
	}
	return "unknown"
}

// Error is returned by Client.Fetch. errors.Is matches it against the
// sentinel of its Kind, and errors.Unwrap yields the underlying cause.
type Error struct {
	Kind     Kind
	EntityID string
	Err      error
}

func (e *Error) Error() string {
	msg := "hass: " + e.EntityID + ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the Kind of a fetch error, or 0 if err did not come from
// Client.Fetch.
func KindOf(err error) Kind {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Kind
	}
	return 0
}
