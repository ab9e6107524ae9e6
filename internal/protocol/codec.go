package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultMaxFrameSize bounds the payload length the decoder will accept
// before declaring the stream hostile. 80 KB is far beyond any legitimate
// gumshoe message.
const DefaultMaxFrameSize = 80 * 1024

// frameHeaderSize is the length prefix: a big-endian uint32.
const frameHeaderSize = 4

var (
	// ErrFrameTooLarge is returned when a length prefix exceeds the
	// decoder's configured maximum. Byte alignment is lost at this point,
	// so the connection must be closed.
	ErrFrameTooLarge = errors.New("frame exceeds maximum allowed size")
	// ErrEmptyFrame is returned when a length prefix declares a zero-byte
	// payload, which no valid message produces.
	ErrEmptyFrame = errors.New("frame declares an empty payload")
)

// Encode serializes a message and wraps it in a length-prefixed frame
// ready to be written to a connection.
func Encode(m Message) ([]byte, error) {
	payload, err := Marshal(m)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	return frame, nil
}

// decodeState tracks which half of a frame the decoder is accumulating.
type decodeState int

const (
	awaitingLength decodeState = iota
	awaitingBody
)

// Decoder incrementally reassembles messages from a single connection's
// byte stream. Partial reads are the norm: any byte split, down to one
// byte per call, yields the same message sequence.
//
// A Decoder is stateful and must not be shared between connections.
type Decoder struct {
	MaxFrameSize int

	state      decodeState
	header     [frameHeaderSize]byte
	headerRead int
	body       []byte
	bodyRead   int
}

// NewDecoder returns a Decoder enforcing the given frame size cap, or
// DefaultMaxFrameSize when maxFrameSize is zero.
func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{MaxFrameSize: maxFrameSize}
}

// Decode consumes newly-read bytes and returns any messages completed by
// them. A framing error (oversized or empty frame, malformed payload) is
// unrecoverable; the caller must close the connection without feeding the
// decoder further bytes.
func (d *Decoder) Decode(data []byte) ([]Message, error) {
	var messages []Message

	for len(data) > 0 {
		switch d.state {
		case awaitingLength:
			n := copy(d.header[d.headerRead:], data)
			d.headerRead += n
			data = data[n:]

			if d.headerRead < frameHeaderSize {
				return messages, nil
			}

			length := binary.BigEndian.Uint32(d.header[:])
			if length == 0 {
				return messages, ErrEmptyFrame
			}
			if int(length) > d.MaxFrameSize {
				return messages, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, d.MaxFrameSize)
			}

			d.body = make([]byte, length)
			d.bodyRead = 0
			d.state = awaitingBody

		case awaitingBody:
			n := copy(d.body[d.bodyRead:], data)
			d.bodyRead += n
			data = data[n:]

			if d.bodyRead < len(d.body) {
				return messages, nil
			}

			message, err := Unmarshal(d.body)
			if err != nil {
				return messages, err
			}
			messages = append(messages, message)

			d.body = nil
			d.headerRead = 0
			d.state = awaitingLength
		}
	}

	return messages, nil
}
