package protocol

import (
	"fmt"
	"io"
	"strings"
)

// Profile selects the wire rendering of a Message.
type Profile string

const (
	ProfileBinary Profile = "binary"
	ProfileText   Profile = "text"
)

func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToLower(strings.TrimSpace(s))) {
	case ProfileBinary:
		return ProfileBinary, nil
	case ProfileText:
		return ProfileText, nil
	default:
		return "", fmt.Errorf("unknown profile %q: must be 'binary' or 'text'", s)
	}
}

// Codec turns one Message into one frame and back.
type Codec interface {
	Encode(m Message) ([]byte, error)
	// Decode reads exactly one frame from r. A missing frame is reported
	// as ErrFraming, never as a zero Message.
	Decode(r io.Reader) (Message, error)
}

// NewCodec returns the codec for profile. The layout is only used by the
// text profile, where field positions are not self-describing.
func NewCodec(profile Profile, layout Layout) (Codec, error) {
	switch profile {
	case ProfileBinary:
		return BinaryCodec{}, nil
	case ProfileText:
		if err := layout.Validate(); err != nil {
			return nil, err
		}
		return TextCodec{Layout: layout}, nil
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
}
