package omapi

import (
	"bytes"
	"fmt"
)

// Datatype tags the variant held by TypedData.
type Datatype uint8

const (
	DatatypeInt Datatype = iota + 1
	DatatypeString
	DatatypeData
	DatatypeObject
)

func (d Datatype) String() string {
	switch d {
	case DatatypeInt:
		return "int"
	case DatatypeString:
		return "string"
	case DatatypeData:
		return "data"
	case DatatypeObject:
		return "object"
	default:
		return fmt.Sprintf("datatype(%d)", uint8(d))
	}
}

// TypedData is one property value. Object values are borrowed; holders
// that keep them must acquire their own Ref.
type TypedData struct {
	Type   Datatype
	Int    int32
	Buffer []byte
	Object Object
}

func NewInt(v int32) *TypedData {
	return &TypedData{Type: DatatypeInt, Int: v}
}

func NewString(s string) *TypedData {
	return &TypedData{Type: DatatypeString, Buffer: []byte(s)}
}

func NewData(b []byte) *TypedData {
	buf := make([]byte, len(b))
	copy(buf, b)
	return &TypedData{Type: DatatypeData, Buffer: buf}
}

func NewObject(obj Object) *TypedData {
	return &TypedData{Type: DatatypeObject, Object: obj}
}

// Text returns the buffer of a string or data value.
func (d *TypedData) Text() (string, bool) {
	if d == nil || (d.Type != DatatypeString && d.Type != DatatypeData) {
		return "", false
	}
	return string(d.Buffer), true
}

func (d *TypedData) Equal(o *TypedData) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.Type != o.Type {
		return false
	}
	switch d.Type {
	case DatatypeInt:
		return d.Int == o.Int
	case DatatypeObject:
		return d.Object == o.Object
	default:
		return bytes.Equal(d.Buffer, o.Buffer)
	}
}

// Value is a named property returned by GetValue.
type Value struct {
	Name  string
	Value *TypedData
}

// ValueWriter is the sink StuffValues serialises onto, normally a connection.
type ValueWriter interface {
	PutName(name string) Status
	PutString(s string) Status
	PutUint32(v uint32) Status
	PutTypedData(d *TypedData) Status
}

// ValueRecorder collects stuffed values in memory.
type ValueRecorder struct {
	Values  []Value
	pending string
	named   bool
}

func (r *ValueRecorder) PutName(name string) Status {
	if r.named {
		return StatusInvalidArgument
	}
	r.pending = name
	r.named = true
	return StatusSuccess
}

func (r *ValueRecorder) PutString(s string) Status {
	return r.PutTypedData(NewString(s))
}

func (r *ValueRecorder) PutUint32(v uint32) Status {
	return r.PutTypedData(NewInt(int32(v)))
}

func (r *ValueRecorder) PutTypedData(d *TypedData) Status {
	if !r.named {
		return StatusInvalidArgument
	}
	r.Values = append(r.Values, Value{Name: r.pending, Value: d})
	r.pending = ""
	r.named = false
	return StatusSuccess
}

// Map flattens recorded values for display; later duplicates win.
func (r *ValueRecorder) Map() map[string]any {
	out := make(map[string]any, len(r.Values))
	for _, v := range r.Values {
		if v.Value == nil {
			out[v.Name] = nil
			continue
		}
		switch v.Value.Type {
		case DatatypeInt:
			out[v.Name] = v.Value.Int
		case DatatypeObject:
			if h, ok := HandleOf(v.Value.Object); ok {
				out[v.Name] = uint32(h)
			} else {
				out[v.Name] = TypeOf(v.Value.Object).Name()
			}
		default:
			out[v.Name] = string(v.Value.Buffer)
		}
	}
	return out
}
