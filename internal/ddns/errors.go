package ddns

import "errors"

var (
	// ErrStatus is returned when the endpoint answers with anything but 200.
	ErrStatus = errors.New("ddns: unexpected status")

	// ErrResponse is returned when the reply is not a [ok, message] array.
	ErrResponse = errors.New("ddns: malformed response")
)

// RejectedError carries the message of a reply whose result was false.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "ddns: rejected: " + e.Message
}
