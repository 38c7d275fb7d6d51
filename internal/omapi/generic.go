package omapi

// Generic is a key/value bag. It is the object a remote peer sends when it
// describes another object, e.g. a lookup query.
type Generic struct {
	Header
	values []genericValue
}

type genericValue struct {
	name string
	data *TypedData
	ref  Ref
}

// NewGeneric returns an empty generic object of type t. The caller acquires it.
func NewGeneric(t *Type) *Generic {
	return &Generic{Header: NewHeader(t)}
}

// Len reports how many keys are set.
func (g *Generic) Len() int { return len(g.values) }

// GenericKind is the handler behind the "generic" type.
type GenericKind struct {
	typ *Type
}

// SetupGeneric registers the "generic" type.
func SetupGeneric(reg *Registry) *GenericKind {
	k := &GenericKind{}
	k.typ = reg.MustRegister("generic", k)
	return k
}

func (k *GenericKind) Type() *Type { return k.typ }

// New returns an acquired generic object in out.
func (k *GenericKind) New(out *Ref) Status {
	return out.Acquire(NewGeneric(k.typ))
}

func (k *GenericKind) Create(out *Ref, _ Object) Status {
	return k.New(out)
}

func (k *GenericKind) generic(obj Object) (*Generic, bool) {
	g, ok := obj.(*Generic)
	if !ok || g.typ != k.typ {
		return nil, false
	}
	return g, true
}

func (k *GenericKind) SetValue(obj, _ Object, name string, value *TypedData) Status {
	g, ok := k.generic(obj)
	if !ok {
		return StatusInvalidArgument
	}
	for i := range g.values {
		v := &g.values[i]
		if v.name != name {
			continue
		}
		if value == nil {
			v.ref.Release()
			g.values = append(g.values[:i], g.values[i+1:]...)
			return StatusSuccess
		}
		if v.data.Equal(value) {
			return StatusUnchanged
		}
		if status := holdObject(&v.ref, value); status != StatusSuccess {
			return status
		}
		v.data = value
		return StatusSuccess
	}
	if value == nil {
		return StatusNotFound
	}
	g.values = append(g.values, genericValue{name: name, data: value})
	if status := holdObject(&g.values[len(g.values)-1].ref, value); status != StatusSuccess {
		g.values = g.values[:len(g.values)-1]
		return status
	}
	return StatusSuccess
}

func holdObject(ref *Ref, value *TypedData) Status {
	if value.Type == DatatypeObject && value.Object != nil {
		return ref.Acquire(value.Object)
	}
	return ref.Release()
}

func (k *GenericKind) GetValue(obj, _ Object, name string) (*Value, Status) {
	g, ok := k.generic(obj)
	if !ok {
		return nil, StatusInvalidArgument
	}
	for _, v := range g.values {
		if v.name == name {
			return &Value{Name: name, Value: v.data}, StatusSuccess
		}
	}
	return nil, StatusNotFound
}

func (k *GenericKind) Destroy(obj Object) Status {
	g, ok := k.generic(obj)
	if !ok {
		return StatusInvalidArgument
	}
	for i := range g.values {
		g.values[i].ref.Release()
	}
	g.values = nil
	return StatusSuccess
}

func (k *GenericKind) SignalHandler(Object, Signal) Status {
	return StatusNotFound
}

func (k *GenericKind) StuffValues(w ValueWriter, _ Object, obj Object) Status {
	g, ok := k.generic(obj)
	if !ok {
		return StatusInvalidArgument
	}
	for _, v := range g.values {
		if status := w.PutName(v.name); status != StatusSuccess {
			return status
		}
		if status := w.PutTypedData(v.data); status != StatusSuccess {
			return status
		}
	}
	return StatusSuccess
}
