package room

import (
	"errors"

	"watchparty/protocol"
)

var (
	// ErrRoomNotFound is returned when attaching to a room that does not
	// exist and the joiner did not ask to host it.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNotAuthorized is returned when a non-host issues a host-only
	// command. The room state is left untouched.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidInput is returned for malformed commands such as empty or
	// oversized chat text.
	ErrInvalidInput = errors.New("invalid input")
)

// ErrorKind maps a room error to its wire kind for the error envelope.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return protocol.KindRoomNotFound
	case errors.Is(err, ErrNotAuthorized):
		return protocol.KindNotAuthorized
	case errors.Is(err, ErrInvalidInput):
		return protocol.KindInvalidInput
	default:
		return protocol.KindTransport
	}
}
