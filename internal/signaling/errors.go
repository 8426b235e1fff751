package signaling

import (
	"errors"
	"fmt"
)

// ErrPeerAbsent is the transient "peer not present" condition reported by
// the relay when a session is requested before the viewer has registered.
// The channel retries session setup on a fixed backoff; every other relay
// error is terminal for the current attempt.
var ErrPeerAbsent = errors.New("remote peer not connected")

// ServerError is a non-transient error message from the relay.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("signaling server error: %s", e.Message)
}
