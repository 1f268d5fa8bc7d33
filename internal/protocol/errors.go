package protocol

import "errors"

var (
	// ErrFraming means no frame arrived this cycle: the first byte was not
	// the marker, or the writer closed without sending anything.
	ErrFraming = errors.New("frame marker mismatch")

	ErrIncompleteFrame = errors.New("incomplete frame")
	ErrParse           = errors.New("malformed frame field")
	ErrFrameTooLarge   = errors.New("frame exceeds payload limit")

	// ErrChannelUnavailable is returned when a pipe path cannot be opened,
	// usually because the counterpart process is not ready yet.
	ErrChannelUnavailable = errors.New("channel unavailable")
)

// Kind names the error class of err for logging.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrFraming):
		return "framing"
	case errors.Is(err, ErrIncompleteFrame):
		return "incomplete_frame"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, ErrChannelUnavailable):
		return "channel_unavailable"
	default:
		return "other"
	}
}

// Corrupt reports whether err means a frame arrived but cannot be trusted.
// The stream cannot be resynchronized, so the cycle has to be redone.
func Corrupt(err error) bool {
	return errors.Is(err, ErrIncompleteFrame) ||
		errors.Is(err, ErrParse) ||
		errors.Is(err, ErrFrameTooLarge)
}
