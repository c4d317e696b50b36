package proxycore

import "encoding/binary"

// MuxFrameKind identifies the purpose of a MuxFrame on the wire.
type MuxFrameKind uint8

const (
	MuxData         MuxFrameKind = 0x01
	MuxWindowUpdate MuxFrameKind = 0x02
	MuxOpen         MuxFrameKind = 0x03
	MuxClose        MuxFrameKind = 0x04
	MuxPing         MuxFrameKind = 0x05
	MuxPong         MuxFrameKind = 0x06
)

// muxMagic is the fixed leading byte of every frame header.
const muxMagic = 0x4D // 'M'

// MaxFrameLength bounds a single frame's payload; decode rejects anything
// larger as corrupt rather than allocating unbounded memory for a
// malformed or hostile peer.
const MaxFrameLength = 1 << 20 // 1 MiB

// muxHeaderLen is magic(1) + kind(1) + length(4) + stream_id(4).
const muxHeaderLen = 10

// MuxFrame is one frame of the stream-multiplexing wire protocol: a
// stream id, a kind tag, and an opaque payload. Hand-rolled to the exact
// wire layout this multiplexing session needs; grounded on the
// window/credit conventions xtaci/smux uses for its own frame header
// (magic + cmd + length + stream id), adapted to this project's kind set
// and big-endian encoding.
type MuxFrame struct {
	StreamID uint32
	Kind     MuxFrameKind
	Payload  []byte
}

// EncodeMuxFrame serializes f into its wire form.
func EncodeMuxFrame(f MuxFrame) []byte {
	buf := make([]byte, muxHeaderLen+len(f.Payload))
	buf[0] = muxMagic
	buf[1] = byte(f.Kind)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(f.Payload)))
	binary.BigEndian.PutUint32(buf[6:10], f.StreamID)
	copy(buf[muxHeaderLen:], f.Payload)
	return buf
}

// decodeResult distinguishes decode's three outcomes without resorting to
// sentinel frame values.
type decodeResult int

const (
	decodeOK decodeResult = iota
	decodeNeedMore
	decodeCorrupt
)

// DecodeMuxFrame attempts to decode a single frame from the head of b.
// consumed==0 with err==nil means "need more bytes"; a non-nil err (a
// *CorruptFrameError) means the stream is unrecoverable (bad magic or
// oversized length).
func DecodeMuxFrame(b []byte) (frame MuxFrame, consumed int, err error) {
	res, f, n := decodeOne(b)
	switch res {
	case decodeOK:
		return f, n, nil
	case decodeNeedMore:
		return MuxFrame{}, 0, nil
	default:
		return MuxFrame{}, 0, &CorruptFrameError{Reason: "bad magic or oversized length"}
	}
}

func decodeOne(b []byte) (decodeResult, MuxFrame, int) {
	if len(b) < muxHeaderLen {
		return decodeNeedMore, MuxFrame{}, 0
	}
	if b[0] != muxMagic {
		return decodeCorrupt, MuxFrame{}, 0
	}
	length := int(binary.BigEndian.Uint32(b[2:6]))
	if length > MaxFrameLength {
		return decodeCorrupt, MuxFrame{}, 0
	}
	total := muxHeaderLen + length
	if len(b) < total {
		return decodeNeedMore, MuxFrame{}, 0
	}
	payload := make([]byte, length)
	copy(payload, b[muxHeaderLen:total])
	frame := MuxFrame{
		StreamID: binary.BigEndian.Uint32(b[6:10]),
		Kind:     MuxFrameKind(b[1]),
		Payload:  payload,
	}
	return decodeOK, frame, total
}

// DecodeMuxFrames greedily decodes as many complete frames as are present
// in b, returning them plus whatever incomplete trailing bytes remain.
// Stops (without error) the moment a partial frame is seen; stops with an
// error the moment a corrupt frame is seen, discarding nothing already
// decoded so the caller can still act on the frames collected so far.
func DecodeMuxFrames(b []byte) (frames []MuxFrame, remainder []byte, err error) {
	for {
		res, f, n := decodeOne(b)
		switch res {
		case decodeOK:
			frames = append(frames, f)
			b = b[n:]
		case decodeNeedMore:
			return frames, b, nil
		default:
			return frames, b, &CorruptFrameError{Reason: "bad magic or oversized length"}
		}
	}
}
