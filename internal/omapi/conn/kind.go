package conn

import (
	"github.com/danmuck/omapi/internal/omapi"
)

// connectionKind answers only the read-only connection keys; everything
// else falls through to the owner.
type connectionKind struct{}

func asConnection(obj omapi.Object) (*Connection, bool) {
	c, ok := obj.(*Connection)
	return c, ok
}

func (connectionKind) SetValue(obj, _ omapi.Object, name string, _ *omapi.TypedData) omapi.Status {
	if _, ok := asConnection(obj); !ok {
		return omapi.StatusInvalidArgument
	}
	switch name {
	case "state", "local-address", "remote-address":
		return omapi.StatusInvalidArgument
	}
	return omapi.StatusNotFound
}

func (connectionKind) GetValue(obj, _ omapi.Object, name string) (*omapi.Value, omapi.Status) {
	c, ok := asConnection(obj)
	if !ok {
		return nil, omapi.StatusInvalidArgument
	}
	switch name {
	case "state":
		return &omapi.Value{Name: name, Value: omapi.NewString(c.state.String())}, omapi.StatusSuccess
	case "local-address":
		return &omapi.Value{Name: name, Value: omapi.NewString(c.local.String())}, omapi.StatusSuccess
	case "remote-address":
		return &omapi.Value{Name: name, Value: omapi.NewString(c.remote.String())}, omapi.StatusSuccess
	}
	return nil, omapi.StatusNotFound
}

// Destroy force-closes a live socket and drops the listener reference.
// It runs on partially built connections too.
func (connectionKind) Destroy(obj omapi.Object) omapi.Status {
	c, ok := asConnection(obj)
	if !ok {
		return omapi.StatusUnexpected
	}
	if c.state == StateConnected || c.state == StateDisconnecting {
		c.Disconnect(true)
	}
	c.closeFD()
	for c.out.Length() > 0 {
		c.out.Remove()
	}
	c.outBytes = 0
	c.listener.Release()
	return omapi.StatusSuccess
}

func (connectionKind) SignalHandler(obj omapi.Object, _ omapi.Signal) omapi.Status {
	if _, ok := asConnection(obj); !ok {
		return omapi.StatusInvalidArgument
	}
	return omapi.StatusNotFound
}

func (connectionKind) StuffValues(w omapi.ValueWriter, _ omapi.Object, obj omapi.Object) omapi.Status {
	c, ok := asConnection(obj)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	if status := w.PutName("state"); status != omapi.StatusSuccess {
		return status
	}
	if status := w.PutString(c.state.String()); status != omapi.StatusSuccess {
		return status
	}
	if !c.remote.IsValid() {
		return omapi.StatusSuccess
	}
	if status := w.PutName("remote-address"); status != omapi.StatusSuccess {
		return status
	}
	return w.PutString(c.remote.String())
}
