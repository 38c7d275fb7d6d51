package omapi

import (
	"github.com/danmuck/omapi/internal/observability"
)

// SetValue routes a property write down obj's chain. The first link that
// does not answer NotFound decides the result.
func SetValue(obj, id Object, name string, value *TypedData) Status {
	if obj == nil {
		return StatusInvalidArgument
	}
	for o := obj; o != nil; o = o.objectHeader().inner.obj {
		t := o.objectHeader().typ
		if t == nil {
			continue
		}
		if status := t.handler.SetValue(o, id, name, value); status != StatusNotFound {
			return status
		}
	}
	return StatusNotFound
}

// GetValue routes a property read down obj's chain.
func GetValue(obj, id Object, name string) (*Value, Status) {
	if obj == nil {
		return nil, StatusInvalidArgument
	}
	for o := obj; o != nil; o = o.objectHeader().inner.obj {
		t := o.objectHeader().typ
		if t == nil {
			continue
		}
		v, status := t.handler.GetValue(o, id, name)
		if status != StatusNotFound {
			return v, status
		}
	}
	return nil, StatusNotFound
}

// GetValueStr is GetValue for callers holding a plain key.
func GetValueStr(obj, id Object, name string) (*TypedData, Status) {
	v, status := GetValue(obj, id, name)
	if status != StatusSuccess {
		return nil, status
	}
	if v == nil || v.Value == nil {
		return nil, StatusNotFound
	}
	return v.Value, StatusSuccess
}

// StuffValues writes the published values of every link in obj's chain.
// Serialisation is additive: each link writes its own values and the walk
// always continues inward. A failing writer stops the walk.
func StuffValues(w ValueWriter, id, obj Object) Status {
	if obj == nil || w == nil {
		return StatusInvalidArgument
	}
	for o := obj; o != nil; o = o.objectHeader().inner.obj {
		t := o.objectHeader().typ
		if t == nil {
			continue
		}
		switch status := t.handler.StuffValues(w, id, o); status {
		case StatusSuccess, StatusUnchanged, StatusNotFound, StatusNotImplemented:
		default:
			return status
		}
	}
	return StatusSuccess
}

// SendSignal delivers sig to the first link in obj's chain that handles it.
// NotFound means nobody listened and is not an error for callers.
func SendSignal(obj Object, sig Signal) Status {
	if obj == nil || sig == nil {
		return StatusInvalidArgument
	}
	status := StatusNotFound
	for o := obj; o != nil; o = o.objectHeader().inner.obj {
		t := o.objectHeader().typ
		if t == nil {
			continue
		}
		if status = t.handler.SignalHandler(o, sig); status != StatusNotFound {
			break
		}
	}
	observability.RecordSignal(sig.SignalName(), status.String())
	return status
}
