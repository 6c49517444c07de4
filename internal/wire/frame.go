// Package wire implements the two wire framings used by the core: a
// length-prefixed frame for the reliable stream channel (auth, lobby,
// chat, settings) and a fixed-header frame for the unreliable datagram
// channel (gameplay, voice). See spec.md §4.1 and §6.
package wire

import (
	"encoding/binary"
	"errors"
)

// Failure modes. ShortFrame is not an error at the transport level for
// the stream channel (the caller should wait for more bytes); it is
// surfaced so the stream reader can distinguish "need more data" from
// "the frame is corrupt".
var (
	ErrShortFrame     = errors.New("wire: short frame")
	ErrMalformedFrame = errors.New("wire: malformed frame")
)

// StreamHeader is the fixed 7-byte header prefixing every stream-channel
// frame: [u16 type][u8 authenticatedFlag][u32 payload_size BE].
type StreamHeader struct {
	Type          MessageType
	Authenticated bool
	PayloadSize   uint32
}

// HeaderSize is the wire size of StreamHeader.
const StreamHeaderWireSize = 7

// MarshalBinary encodes the header to exactly StreamHeaderWireSize bytes.
func (h StreamHeader) MarshalBinary() []byte {
	buf := make([]byte, StreamHeaderWireSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.Type))
	if h.Authenticated {
		buf[2] = 1
	}
	binary.BigEndian.PutUint32(buf[3:7], h.PayloadSize)
	return buf
}

// UnmarshalStreamHeader parses a StreamHeader from buf. buf must be at
// least StreamHeaderWireSize bytes; any excess is ignored.
func UnmarshalStreamHeader(buf []byte) (StreamHeader, error) {
	if len(buf) < StreamHeaderWireSize {
		return StreamHeader{}, ErrShortFrame
	}
	return StreamHeader{
		Type:          MessageType(binary.BigEndian.Uint16(buf[0:2])),
		Authenticated: buf[2] != 0,
		PayloadSize:   binary.BigEndian.Uint32(buf[3:7]),
	}, nil
}

// StreamFrame is one fully-decoded stream-channel message: header plus
// its payload bytes.
type StreamFrame struct {
	Header  StreamHeader
	Payload []byte
}

// MarshalBinary encodes the frame (header + payload) for writing to the
// socket.
func (f StreamFrame) MarshalBinary() []byte {
	h := f.Header
	h.PayloadSize = uint32(len(f.Payload))
	buf := make([]byte, 0, StreamHeaderWireSize+len(f.Payload))
	buf = append(buf, h.MarshalBinary()...)
	buf = append(buf, f.Payload...)
	return buf
}

// NewStreamFrame builds a frame from a message type and raw payload
// bytes, stamping PayloadSize automatically.
func NewStreamFrame(t MessageType, authenticated bool, payload []byte) StreamFrame {
	return StreamFrame{
		Header: StreamHeader{
			Type:          t,
			Authenticated: authenticated,
			PayloadSize:   uint32(len(payload)),
		},
		Payload: payload,
	}
}

// StreamDecoder accumulates bytes read from a TCP stream and yields
// complete frames as they become available. It never blocks; Feed is
// called with whatever bytes a Read returned, and returns every frame
// that could be fully decoded from the accumulated buffer.
//
// Decode proceeds in the two stages spec.md describes: wait for at
// least the header size, then wait for header+payload size, then hand
// off exactly one message and shift the buffer.
type StreamDecoder struct {
	buf []byte
}

// Feed appends newly-read bytes and extracts as many complete frames as
// possible. A MalformedFrame error means the stream must be closed; a
// short frame is not an error — it just means "call Feed again with more
// bytes".
func (d *StreamDecoder) Feed(data []byte) ([]StreamFrame, error) {
	d.buf = append(d.buf, data...)

	var frames []StreamFrame
	for {
		if len(d.buf) < StreamHeaderWireSize {
			return frames, nil
		}

		h, err := UnmarshalStreamHeader(d.buf)
		if err != nil {
			return frames, nil
		}

		if h.PayloadSize > StreamMaxFramePayload {
			return frames, ErrMalformedFrame
		}

		total := StreamHeaderWireSize + int(h.PayloadSize)
		if len(d.buf) < total {
			return frames, nil
		}

		payload := make([]byte, h.PayloadSize)
		copy(payload, d.buf[StreamHeaderWireSize:total])
		frames = append(frames, StreamFrame{Header: h, Payload: payload})

		d.buf = d.buf[total:]
	}
}

// StreamMaxFramePayload bounds payload_size so a corrupt length prefix
// cannot make the decoder buffer unbounded amounts of memory waiting for
// "the rest" of a bogus frame.
const StreamMaxFramePayload = 1 << 16

// DatagramHeader is the fixed 12-byte header on every datagram-channel
// packet: [u16 type][u16 sequence][u64 timestamp BE]. There is no
// fragmentation; the payload is whatever remains of the datagram.
type DatagramHeader struct {
	Type      MessageType
	Sequence  uint16
	Timestamp uint64
}

// DatagramHeaderWireSize is the wire size of DatagramHeader.
const DatagramHeaderWireSize = 12

// MarshalBinary encodes the header.
func (h DatagramHeader) MarshalBinary() []byte {
	buf := make([]byte, DatagramHeaderWireSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.Type))
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint64(buf[4:12], h.Timestamp)
	return buf
}

// DatagramFrame is one fully-decoded datagram: header plus payload.
type DatagramFrame struct {
	Header  DatagramHeader
	Payload []byte
}

// MarshalBinary encodes the full datagram.
func (f DatagramFrame) MarshalBinary() []byte {
	buf := make([]byte, 0, DatagramHeaderWireSize+len(f.Payload))
	buf = append(buf, f.Header.MarshalBinary()...)
	buf = append(buf, f.Payload...)
	return buf
}

// NewDatagramFrame builds a datagram frame. Timestamp is stamped by the
// caller (server-populated on send per spec.md §6).
func NewDatagramFrame(t MessageType, seq uint16, timestamp uint64, payload []byte) DatagramFrame {
	return DatagramFrame{
		Header: DatagramHeader{Type: t, Sequence: seq, Timestamp: timestamp},
		Payload: payload,
	}
}

// UnmarshalDatagram parses one complete datagram. Datagrams larger than
// DatagramMaxSize (config.DatagramMaxSize) must be rejected by the
// caller before reaching here; this function only validates internal
// framing consistency.
func UnmarshalDatagram(buf []byte) (DatagramFrame, error) {
	if len(buf) < DatagramHeaderWireSize {
		return DatagramFrame{}, ErrShortFrame
	}
	h := DatagramHeader{
		Type:      MessageType(binary.BigEndian.Uint16(buf[0:2])),
		Sequence:  binary.BigEndian.Uint16(buf[2:4]),
		Timestamp: binary.BigEndian.Uint64(buf[4:12]),
	}
	payload := make([]byte, len(buf)-DatagramHeaderWireSize)
	copy(payload, buf[DatagramHeaderWireSize:])
	return DatagramFrame{Header: h, Payload: payload}, nil
}
