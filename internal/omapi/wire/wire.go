// Package wire encodes object values the way a connection carries them.
//
// A name is a 16-bit length followed by its bytes. Every value is a 32-bit
// length followed by its bytes; ints and object handles are always four
// bytes. A zero-length name ends a value list and a zero-length value
// carries no data. All integers are big-endian.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/omapi/internal/omapi"
)

const (
	NameHeaderLen  = 2
	ValueHeaderLen = 4
	MaxNameLen     = math.MaxUint16
)

var (
	ErrNameTooLong     = errors.New("wire: name too long")
	ErrNoHandle        = errors.New("wire: object has no handle")
	ErrUnsupportedType = errors.New("wire: unsupported datatype")
	ErrShortName       = errors.New("wire: short name")
	ErrShortValue      = errors.New("wire: short value")
)

func AppendUint16(buf []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, v)
}

func AppendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func AppendName(buf []byte, name string) ([]byte, error) {
	if len(name) > MaxNameLen {
		return buf, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}
	buf = AppendUint16(buf, uint16(len(name)))
	return append(buf, name...), nil
}

// AppendEnd terminates a value list.
func AppendEnd(buf []byte) []byte {
	return AppendUint16(buf, 0)
}

func AppendString(buf []byte, s string) []byte {
	buf = AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func AppendData(buf []byte, b []byte) []byte {
	buf = AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// AppendTypedData encodes d. A nil value is written as zero length.
func AppendTypedData(buf []byte, d *omapi.TypedData) ([]byte, error) {
	if d == nil {
		return AppendUint32(buf, 0), nil
	}
	switch d.Type {
	case omapi.DatatypeInt:
		buf = AppendUint32(buf, 4)
		return AppendUint32(buf, uint32(d.Int)), nil
	case omapi.DatatypeString, omapi.DatatypeData:
		return AppendData(buf, d.Buffer), nil
	case omapi.DatatypeObject:
		h, ok := omapi.HandleOf(d.Object)
		if !ok {
			return buf, fmt.Errorf("%w: %s", ErrNoHandle, omapi.TypeOf(d.Object))
		}
		buf = AppendUint32(buf, 4)
		return AppendUint32(buf, uint32(h)), nil
	default:
		return buf, fmt.Errorf("%w: %s", ErrUnsupportedType, d.Type)
	}
}

// Decoder reads names and values back from an encoded buffer.
type Decoder struct {
	buf []byte
	off int
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining reports the unread byte count.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

// Name reads one name. An empty name marks the end of a value list.
func (d *Decoder) Name() (string, error) {
	if d.Remaining() < NameHeaderLen {
		return "", ErrShortName
	}
	l := int(binary.BigEndian.Uint16(d.buf[d.off:]))
	d.off += NameHeaderLen
	if d.Remaining() < l {
		return "", ErrShortName
	}
	name := string(d.buf[d.off : d.off+l])
	d.off += l
	return name, nil
}

// TypedData reads one value as data. The wire does not carry datatypes, so
// callers that expect an int use Int. A zero-length value decodes to nil.
func (d *Decoder) TypedData() (*omapi.TypedData, error) {
	b, err := d.raw()
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return omapi.NewData(b), nil
}

// Int reads one four-byte value as a signed int.
func (d *Decoder) Int() (int32, error) {
	b, err := d.raw()
	if err != nil {
		return 0, err
	}
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: int of %d bytes", ErrShortValue, len(b))
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (d *Decoder) raw() ([]byte, error) {
	if d.Remaining() < ValueHeaderLen {
		return nil, ErrShortValue
	}
	l := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += ValueHeaderLen
	if uint32(d.Remaining()) < l {
		return nil, ErrShortValue
	}
	b := d.buf[d.off : d.off+int(l)]
	d.off += int(l)
	return b, nil
}

// Values decodes name/value pairs until the end marker or the buffer runs out.
func (d *Decoder) Values() ([]omapi.Value, error) {
	out := make([]omapi.Value, 0)
	for d.Remaining() > 0 {
		name, err := d.Name()
		if err != nil {
			return nil, err
		}
		if name == "" {
			break
		}
		v, err := d.TypedData()
		if err != nil {
			return nil, err
		}
		out = append(out, omapi.Value{Name: name, Value: v})
	}
	return out, nil
}
