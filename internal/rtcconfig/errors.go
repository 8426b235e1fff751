package rtcconfig

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates a descriptor document that is missing or has a
// malformed iceServers key. Errors returned by Parse wrap it.
var ErrInvalidConfig = errors.New("invalid rtc config")

// FetchError is returned by FetchREST when the credential web service
// responds with a failure status or an empty body. The HTTP status, reason
// and body are preserved for the caller's logs.
type FetchError struct {
	Status int
	Reason string
	Body   string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching rtc config: status %d: %s: %s", e.Status, e.Reason, e.Body)
}
