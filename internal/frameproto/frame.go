// Package frameproto implements the length-prefixed, big-endian binary
// protocol used by the speed enforcement system: a tagged union of frames,
// each made of fixed-width integers and pascal-strings (a uint8 length
// followed by that many bytes, no trailing NUL).
package frameproto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Tag identifies a frame's wire type. It is always the first byte of a frame.
type Tag byte

const (
	TagError         Tag = 0x10
	TagPlate         Tag = 0x20
	TagTicket        Tag = 0x21
	TagWantHeartbeat Tag = 0x40
	TagHeartbeat     Tag = 0x41
	TagIAmCamera     Tag = 0x80
	TagIAmDispatcher Tag = 0x81
)

// ErrNeedMore is returned by Decode when buf does not yet hold a full frame.
// It is not a protocol violation; callers should read more bytes and retry.
var ErrNeedMore = errors.New("frameproto: need more bytes")

// maxPlateLength bounds a pascal-string's length byte; it is inherent to the
// wire format (a uint8 prefix), not a policy choice.
const maxPlateLength = 255

// Frame is the common interface implemented by every wire frame type.
type Frame interface {
	Tag() Tag
}

type Error struct{ Message string }

func (Error) Tag() Tag { return TagError }

type Plate struct {
	Plate     string
	Timestamp uint32
}

func (Plate) Tag() Tag { return TagPlate }

type Ticket struct {
	Plate      string
	Road       uint16
	Mile1      uint16
	Timestamp1 uint32
	Mile2      uint16
	Timestamp2 uint32
	Speed      uint16
}

func (Ticket) Tag() Tag { return TagTicket }

type WantHeartbeat struct{ Interval uint32 }

func (WantHeartbeat) Tag() Tag { return TagWantHeartbeat }

type Heartbeat struct{}

func (Heartbeat) Tag() Tag { return TagHeartbeat }

type IAmCamera struct {
	Road  uint16
	Mile  uint16
	Limit uint16
}

func (IAmCamera) Tag() Tag { return TagIAmCamera }

type IAmDispatcher struct {
	Roads []uint16
}

func (IAmDispatcher) Tag() Tag { return TagIAmDispatcher }

// cursor reads from an immutable byte slice without ever mutating it; the
// caller only learns how many bytes were consumed once Decode returns
// successfully. This "advance only on full success" discipline is what lets
// Decode tolerate a buffer that ends mid-frame after a partial TCP read.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) readByte() (byte, bool) {
	if c.remaining() < 1 {
		return 0, false
	}
	b := c.buf[c.pos]
	c.pos++
	return b, true
}

func (c *cursor) readUint16() (uint16, bool) {
	if c.remaining() < 2 {
		return 0, false
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, true
}

func (c *cursor) readUint32() (uint32, bool) {
	if c.remaining() < 4 {
		return 0, false
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, true
}

func (c *cursor) readString() (string, bool) {
	n, ok := c.readByte()
	if !ok {
		return "", false
	}
	if c.remaining() < int(n) {
		return "", false
	}
	s := string(c.buf[c.pos : c.pos+int(n)])
	c.pos += int(n)
	return s, true
}

// Decode attempts to parse exactly one frame from the front of buf. It
// returns ErrNeedMore if buf's prefix is consistent with a frame but not yet
// complete, and a non-nil error if the leading byte is not a known tag.
// Bytes after a complete frame are left for the next call. On success, consumed is the number of bytes that made up the frame;
// callers must advance their own buffer by exactly that many bytes.
func Decode(buf []byte) (frame Frame, consumed int, err error) {
	if len(buf) == 0 {
		return nil, 0, ErrNeedMore
	}
	c := &cursor{buf: buf}
	tagByte, _ := c.readByte()
	tag := Tag(tagByte)

	switch tag {
	case TagError:
		msg, ok := c.readString()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		return Error{Message: msg}, c.pos, nil

	case TagPlate:
		plate, ok := c.readString()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		ts, ok := c.readUint32()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		return Plate{Plate: plate, Timestamp: ts}, c.pos, nil

	case TagTicket:
		plate, ok := c.readString()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		road, ok := c.readUint16()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		mile1, ok := c.readUint16()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		ts1, ok := c.readUint32()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		mile2, ok := c.readUint16()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		ts2, ok := c.readUint32()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		speed, ok := c.readUint16()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		return Ticket{
			Plate: plate, Road: road,
			Mile1: mile1, Timestamp1: ts1,
			Mile2: mile2, Timestamp2: ts2,
			Speed: speed,
		}, c.pos, nil

	case TagWantHeartbeat:
		interval, ok := c.readUint32()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		return WantHeartbeat{Interval: interval}, c.pos, nil

	case TagHeartbeat:
		return Heartbeat{}, c.pos, nil

	case TagIAmCamera:
		road, ok := c.readUint16()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		mile, ok := c.readUint16()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		limit, ok := c.readUint16()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		return IAmCamera{Road: road, Mile: mile, Limit: limit}, c.pos, nil

	case TagIAmDispatcher:
		numRoads, ok := c.readByte()
		if !ok {
			return nil, 0, ErrNeedMore
		}
		roads := make([]uint16, 0, numRoads)
		for i := byte(0); i < numRoads; i++ {
			road, ok := c.readUint16()
			if !ok {
				return nil, 0, ErrNeedMore
			}
			roads = append(roads, road)
		}
		return IAmDispatcher{Roads: roads}, c.pos, nil

	default:
		return nil, 0, fmt.Errorf("frameproto: unknown tag 0x%02x", tagByte)
	}
}

// Encode serializes frame into its wire representation.
func Encode(frame Frame) ([]byte, error) {
	switch f := frame.(type) {
	case Error:
		return encodeTagString(TagError, f.Message)
	case Plate:
		b, err := encodeTagString(TagPlate, f.Plate)
		if err != nil {
			return nil, err
		}
		return appendUint32(b, f.Timestamp), nil
	case Ticket:
		b, err := encodeTagString(TagTicket, f.Plate)
		if err != nil {
			return nil, err
		}
		b = appendUint16(b, f.Road)
		b = appendUint16(b, f.Mile1)
		b = appendUint32(b, f.Timestamp1)
		b = appendUint16(b, f.Mile2)
		b = appendUint32(b, f.Timestamp2)
		b = appendUint16(b, f.Speed)
		return b, nil
	case WantHeartbeat:
		b := []byte{byte(TagWantHeartbeat)}
		return appendUint32(b, f.Interval), nil
	case Heartbeat:
		return []byte{byte(TagHeartbeat)}, nil
	case IAmCamera:
		b := []byte{byte(TagIAmCamera)}
		b = appendUint16(b, f.Road)
		b = appendUint16(b, f.Mile)
		b = appendUint16(b, f.Limit)
		return b, nil
	case IAmDispatcher:
		if len(f.Roads) > maxPlateLength {
			return nil, fmt.Errorf("frameproto: too many roads (%d)", len(f.Roads))
		}
		b := []byte{byte(TagIAmDispatcher), byte(len(f.Roads))}
		for _, road := range f.Roads {
			b = appendUint16(b, road)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("frameproto: unsupported frame type %T", frame)
	}
}

func encodeTagString(tag Tag, s string) ([]byte, error) {
	if len(s) > maxPlateLength {
		return nil, fmt.Errorf("frameproto: string too long (%d bytes)", len(s))
	}
	b := make([]byte, 0, 2+len(s))
	b = append(b, byte(tag), byte(len(s)))
	b = append(b, s...)
	return b, nil
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
