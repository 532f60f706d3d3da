package remote

import (
	"errors"
	"fmt"
)

// StatusError is returned for any non-2xx response from the StampCircle
// API, carrying the status code and the server's error body.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Body)
}

// IsPermanent reports whether err indicates a failure that a retry with
// the same payload can never fix. Unauthorized, forbidden, missing
// subjects and validation rejections are permanent; everything else
// (timeouts, 5xx, broken connections, tripped breaker) is transient.
func IsPermanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case 401, 403, 404, 422:
		return true
	}
	return false
}
