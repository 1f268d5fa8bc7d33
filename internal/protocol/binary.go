package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Marker opens every binary frame ('@').
	Marker byte = 0x40

	headerSize = 1 + 8

	DefaultMaxPayload uint64 = 1 << 20
)

// BinaryCodec frames a protobuf payload as marker, 8-byte little-endian
// length, payload.
type BinaryCodec struct {
	// MaxPayload caps the declared length. Zero means DefaultMaxPayload.
	MaxPayload uint64
}

func (c BinaryCodec) Encode(m Message) ([]byte, error) {
	return EncodeFrame(m.MarshalPayload()), nil
}

// EncodeFrame wraps payload in a binary frame header.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, headerSize, headerSize+len(payload))
	frame[0] = Marker
	binary.LittleEndian.PutUint64(frame[1:headerSize], uint64(len(payload)))
	return append(frame, payload...)
}

// Decode reads exactly 1+8+N bytes from r. It never reads ahead, so the
// rest of the stream is left untouched.
func (c BinaryCodec) Decode(r io.Reader) (Message, error) {
	payload, err := c.ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	return UnmarshalPayload(payload)
}

// ReadFrame reads one frame and returns its raw payload.
func (c BinaryCodec) ReadFrame(r io.Reader) ([]byte, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: stream closed before marker", ErrFraming)
		}
		return nil, err
	}
	if marker[0] != Marker {
		return nil, fmt.Errorf("%w: got 0x%02x", ErrFraming, marker[0])
	}

	var length [8]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, shortRead("length", err)
	}
	n := binary.LittleEndian.Uint64(length[:])

	limit := c.MaxPayload
	if limit == 0 {
		limit = DefaultMaxPayload
	}
	if n > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, n, limit)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, shortRead("payload", err)
	}
	return payload, nil
}

func shortRead(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: short %s", ErrIncompleteFrame, what)
	}
	return fmt.Errorf("reading %s: %w", what, err)
}
