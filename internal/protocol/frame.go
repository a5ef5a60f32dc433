package protocol

import (
	"encoding/binary"
	"errors"
	"io"

	"eventnet/internal/neterr"
)

// Wire layout of one message:
//
//	[4-byte big-endian length][4-byte big-endian event id][payload]
//
// length counts everything after itself (4 + len(payload)).
const (
	LengthSize  = 4
	EventIDSize = 4
	HeaderSize  = LengthSize + EventIDSize

	DefaultMaxFrameSize = 1024 * 1024 // 1MB, bound on the length field
)

type Frame struct {
	EventID uint32
	Payload []byte
}

// Encode builds the wire bytes for one frame
func Encode(eventID uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:LengthSize], uint32(EventIDSize+len(payload)))
	binary.BigEndian.PutUint32(buf[LengthSize:HeaderSize], eventID)
	copy(buf[HeaderSize:], payload)
	return buf
}

// ReadFrame reads exactly one frame from a byte stream, blocking until the
// whole frame has arrived. io.EOF is returned only when the stream ends on a
// frame boundary; a stream cut mid-frame yields io.ErrUnexpectedEOF.
// A length field above maxFrameSize (when > 0) is a protocol error.
func ReadFrame(r io.Reader, maxFrameSize int) (Frame, error) {
	var prefix [LengthSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length < EventIDSize {
		return Frame{}, neterr.Protocol("frame length %d is shorter than the event id", length)
	}
	if maxFrameSize > 0 && uint64(length) > uint64(maxFrameSize) {
		return Frame{}, neterr.Protocol("frame length %d exceeds limit %d", length, maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	return Frame{
		EventID: binary.BigEndian.Uint32(body[:EventIDSize]),
		Payload: body[EventIDSize:],
	}, nil
}

// ParseDatagram decodes a frame carried by a single datagram. The payload
// aliases b. The length field must match the datagram size exactly.
func ParseDatagram(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, neterr.Protocol("datagram of %d bytes is shorter than the %d byte frame header", len(b), HeaderSize)
	}

	length := binary.BigEndian.Uint32(b[:LengthSize])
	if uint64(length) != uint64(len(b)-LengthSize) {
		return Frame{}, neterr.Protocol("frame length %d does not match datagram body of %d bytes", length, len(b)-LengthSize)
	}

	return Frame{
		EventID: binary.BigEndian.Uint32(b[LengthSize:HeaderSize]),
		Payload: b[HeaderSize:],
	}, nil
}
