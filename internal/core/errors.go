package core

// Error codes carried back to clients in error-typed envelopes. parse_error
// covers frames that do not decode at all; invalid_message covers a decoded
// envelope whose payload does not fit its operation.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeParse          = "parse_error"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeRoomRequired   = "room_required"
	ErrCodeNotAuthorized  = "not_authorized"
)

// RelayError pairs a wire-safe code with a human-readable message.
type RelayError struct {
	Code    string
	Message string
}

func (e *RelayError) Error() string {
	return e.Message
}

func relayError(code, msg string) *RelayError {
	return &RelayError{Code: code, Message: msg}
}
