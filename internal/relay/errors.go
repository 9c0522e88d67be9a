package relay

import "errors"

// Client-facing error messages.
const (
	MsgJoinFieldsMissing = "room or userId not defined"
	MsgPostFieldsMissing = "room or message not defined"
	MsgRoomNotFound      = "room not found"
)

// ValidationError reports a request missing a required field. No state was
// changed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports a post to a room that does not exist. No state was
// changed and no room was created.
type NotFoundError struct {
	Room string
}

func (e *NotFoundError) Error() string {
	return MsgRoomNotFound
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
