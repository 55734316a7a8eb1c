package device

import (
	"github.com/cockroachdb/errors"
)

// Status is the result code reported by the device for a session call
type Status int32

const (
	StatusOK Status = iota
	StatusError
	StatusNoMemory
	StatusInvalidArgs
	StatusNotFound
	StatusNotSupported
	StatusAlreadyExists
)

var statusMapping = make(map[Status]string)

func (s Status) String() string {
	str, ok := statusMapping[s]
	if !ok {
		return "StatusUnknown"
	}
	return str
}

func init() {
	statusMapping[StatusOK] = "StatusOK"
	statusMapping[StatusError] = "StatusError"
	statusMapping[StatusNoMemory] = "StatusNoMemory"
	statusMapping[StatusInvalidArgs] = "StatusInvalidArgs"
	statusMapping[StatusNotFound] = "StatusNotFound"
	statusMapping[StatusNotSupported] = "StatusNotSupported"
	statusMapping[StatusAlreadyExists] = "StatusAlreadyExists"
}

// StatusErr is the error produced from a non-OK Status
type StatusErr struct {
	Status Status
}

func (e *StatusErr) Error() string {
	return "device reported " + e.Status.String()
}

// ToError returns nil for StatusOK and a *StatusErr for anything else
func (s Status) ToError() error {
	if s == StatusOK {
		return nil
	}

	return errors.WithStack(&StatusErr{Status: s})
}

// AsStatus recovers the device Status carried by err, if any
func AsStatus(err error) (Status, bool) {
	var statusErr *StatusErr
	if errors.As(err, &statusErr) {
		return statusErr.Status, true
	}
	return StatusOK, false
}
