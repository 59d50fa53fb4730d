package serial

import "errors"

var errTimeout = errors.New("timeout waiting for response")

// IsTimeout reports whether err is a read that ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, errTimeout)
}
